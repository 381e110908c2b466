// Package gauntlet implements the Gauntlet (C3): the verification
// pipeline that is the sole path by which a submission earns a trust
// level at or above Verified.
package gauntlet

import (
	"context"

	"github.com/agentevolution/agentevolution/internal/logging"
	"github.com/agentevolution/agentevolution/internal/screener"
	"github.com/agentevolution/agentevolution/internal/sandbox"
	"github.com/agentevolution/agentevolution/internal/telemetry"
)

// Verdict is the outcome of running a submission through the Gauntlet.
type Verdict struct {
	Approved     bool
	SecurityScan []string
	ExecMS       int64
	MemKB        int64
	TestPassed   bool
	Error        string
}

// Gauntlet sequences the Static Screener and the Sandbox Executor.
type Gauntlet struct {
	screener *screener.Screener
	sandbox  *sandbox.Sandbox
	log      *logging.Logger
}

// New builds a Gauntlet from its two verification stages.
func New(s *screener.Screener, sb *sandbox.Sandbox, log *logging.Logger) *Gauntlet {
	return &Gauntlet{screener: s, sandbox: sb, log: log}
}

// Verify screens code and test_case, and only on a clean screen executes
// them in the sandbox. A rejection at either stage yields a non-approved
// verdict with a structured reason and a nil error, since a rejected
// submission is an expected outcome, not a fault. Errors from the sandbox
// itself (a full queue, a cancelled wait for a slot, a scratch-directory
// failure) are returned as the error, with a zero Verdict.
func (g *Gauntlet) Verify(ctx context.Context, toolID, code, testCase string) (Verdict, error) {
	ctx, span := telemetry.StartSpan(ctx, "gauntlet.verify")
	span.SetAttributes(telemetry.AttrToolID.String(toolID))
	defer span.End()

	scan := g.screener.Screen(code, testCase)
	if !scan.Safe {
		g.log.Info(logging.CategoryGauntlet, "static_reject", "submission rejected by static screener", map[string]any{
			"tool_id": toolID,
			"reasons": scan.Reasons,
		})
		telemetry.GauntletVerdicts.WithLabelValues("rejected_static").Inc()
		return Verdict{
			Approved:     false,
			SecurityScan: scan.Reasons,
			Error:        "rejected_static",
		}, nil
	}

	result, err := g.sandbox.Run(ctx, code, testCase)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return Verdict{}, err
	}

	v := Verdict{
		SecurityScan: scan.Reasons,
		ExecMS:       result.Duration.Milliseconds(),
		MemKB:        result.PeakMemKB,
		TestPassed:   result.TestPassed,
	}

	switch {
	case result.Killed:
		v.Error = "rejected_runtime"
		g.log.Warn(logging.CategoryGauntlet, "sandbox_timeout", "submission timed out in sandbox", map[string]any{"tool_id": toolID})
	case result.OOM:
		v.Error = "rejected_runtime"
		g.log.Warn(logging.CategoryGauntlet, "sandbox_oom", "submission exceeded memory limit", map[string]any{"tool_id": toolID})
	case !result.TestPassed:
		v.Error = "rejected_runtime"
	default:
		v.Approved = true
	}

	outcome := v.Error
	if outcome == "" {
		outcome = "approved"
	}
	telemetry.GauntletVerdicts.WithLabelValues(outcome).Inc()

	g.log.Info(logging.CategoryGauntlet, "verdict", "gauntlet verdict computed", map[string]any{
		"tool_id":  toolID,
		"approved": v.Approved,
		"exec_ms":  v.ExecMS,
	})

	return v, nil
}
