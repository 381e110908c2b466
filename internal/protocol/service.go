// Package protocol implements the Protocol Surface (C8): the application
// logic behind every RPC endpoint named in spec.md §6, orchestrating the
// Gauntlet, Registry, Embedding Index, Fitness Engine, and Discovery. It
// does not mandate a transport; Server in http.go exposes this Service
// over JSON-over-HTTP, matching the teacher's chi-based dispatch pattern.
package protocol

import (
	"context"
	"strings"

	"github.com/agentevolution/agentevolution/internal/discovery"
	"github.com/agentevolution/agentevolution/internal/embedindex"
	"github.com/agentevolution/agentevolution/internal/errs"
	"github.com/agentevolution/agentevolution/internal/fitness"
	"github.com/agentevolution/agentevolution/internal/gauntlet"
	"github.com/agentevolution/agentevolution/internal/logging"
	"github.com/agentevolution/agentevolution/internal/registry"
)

// Service wires the four core subsystems behind the RPC contract. It holds
// no transport-specific state; Server adapts it to JSON-over-HTTP.
type Service struct {
	store     *registry.Store
	gauntlet  *gauntlet.Gauntlet
	index     *embedindex.Index
	fitness   *fitness.Engine
	discovery *discovery.Discovery
	log       *logging.Logger

	// degraded reports true once an insert, fork, or usage-recording write
	// has failed for any reason other than a duplicate. It only feeds the
	// health signal; it does not block further mutations.
	degraded bool
}

// NewService builds a Service from its already-constructed subsystems.
func NewService(store *registry.Store, g *gauntlet.Gauntlet, idx *embedindex.Index, fe *fitness.Engine, disc *discovery.Discovery, log *logging.Logger) *Service {
	return &Service{store: store, gauntlet: g, index: idx, fitness: fe, discovery: disc, log: log}
}

// SubmitInput carries the fields common to submit_tool and fork_tool.
type SubmitInput struct {
	Name          string
	Description   string
	Intent        string
	Code          string
	TestCase      string
	InputSchema   string
	Tags          []string
	AuthorAgentID string
}

// SubmitOutcome is the success shape shared by submit_tool and fork_tool.
type SubmitOutcome struct {
	Tool    *registry.Tool
	Verdict gauntlet.Verdict
}

func (in SubmitInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errs.New(errs.CodeInvalidInput, "name must not be empty")
	}
	if strings.TrimSpace(in.Code) == "" {
		return errs.New(errs.CodeInvalidInput, "code must not be empty")
	}
	if strings.TrimSpace(in.TestCase) == "" {
		return errs.New(errs.CodeInvalidInput, "test_case must not be empty")
	}
	if strings.TrimSpace(in.AuthorAgentID) == "" {
		return errs.New(errs.CodeInvalidInput, "author_agent_id must not be empty")
	}
	return nil
}

func (in SubmitInput) toNewToolInput() registry.NewToolInput {
	return registry.NewToolInput{
		Name:          in.Name,
		Description:   in.Description,
		Intent:        in.Intent,
		Code:          in.Code,
		TestCase:      in.TestCase,
		InputSchema:   in.InputSchema,
		Tags:          in.Tags,
		AuthorAgentID: in.AuthorAgentID,
	}
}

// SubmitTool runs a submission through the full publish pipeline: C8 → C3
// (gauntlet) → C4 (insert) → C5 (index) → C6 (seed fitness). The registry's
// content-hash uniqueness check (I2) runs at insert time, after the
// Gauntlet, so a duplicate artifact is still screened and executed before
// it is rejected as a duplicate.
func (s *Service) SubmitTool(ctx context.Context, in SubmitInput) (*SubmitOutcome, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return s.submit(ctx, "", in)
}

// ForkInput carries fork_tool's parameters: a parent id plus the same
// fields a fresh submission carries.
type ForkInput struct {
	ParentToolID string
	Submit       SubmitInput
}

// ForkTool forks parentID with new artifact content, subject to the same
// Gauntlet pipeline as a fresh submission.
func (s *Service) ForkTool(ctx context.Context, in ForkInput) (*SubmitOutcome, error) {
	if strings.TrimSpace(in.ParentToolID) == "" {
		return nil, errs.New(errs.CodeInvalidInput, "parent_id must not be empty")
	}
	if err := in.Submit.validate(); err != nil {
		return nil, err
	}

	parent, err := s.store.Get(ctx, in.ParentToolID)
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return nil, errs.New(errs.CodeParentNotFound, "parent tool not found").WithContext("parent_id", in.ParentToolID)
		}
		return nil, err
	}
	if parent.Delisted {
		return nil, errs.New(errs.CodeParentDelisted, "parent tool is delisted").WithContext("parent_id", in.ParentToolID)
	}

	return s.submit(ctx, in.ParentToolID, in.Submit)
}

func (s *Service) submit(ctx context.Context, parentID string, in SubmitInput) (*SubmitOutcome, error) {
	verdict, err := s.gauntlet.Verify(ctx, in.Name, in.Code, in.TestCase)
	if err != nil {
		// The sandbox reports resource conditions (overloaded, timed_out) as
		// already-structured errors; only an error of an unknown shape is a
		// genuine internal fault.
		if _, ok := err.(*errs.Error); ok {
			return nil, err
		}
		return nil, errs.Wrap(err, errs.CodeInternal, "running gauntlet")
	}
	if !verdict.Approved {
		code := errs.CodeRejectedRuntime
		if verdict.Error == "rejected_static" {
			code = errs.CodeRejectedStatic
		}
		return nil, errs.New(code, "submission was not approved by the gauntlet").
			WithContext("security_scan", verdict.SecurityScan).
			WithContext("gauntlet_error", verdict.Error)
	}

	toolInput := in.toNewToolInput()
	var tool *registry.Tool
	if parentID == "" {
		tool, err = s.store.Insert(ctx, toolInput, true)
	} else {
		tool, err = s.store.Fork(ctx, parentID, toolInput, true)
	}
	if err != nil {
		if errs.Is(err, errs.CodeDuplicate) {
			return nil, err
		}
		s.degraded = true
		return nil, err
	}

	// Indexing happens before the RPC reports insertion complete (ordering
	// guarantee: insert-then-discover only finds the tool once indexed).
	s.index.IndexTool(tool.ID, tool.Intent)

	if _, err := s.fitness.Recompute(ctx, tool.ID); err != nil {
		// Seeding fitness is best-effort at submission time: the tool is
		// already durably inserted and indexed, and the next record_usage
		// will recompute it regardless.
		s.log.Warn(logging.CategoryProtocol, "seed_fitness_failed", "failed to seed fitness at submission", map[string]any{
			"tool_id": tool.ID,
			"error":   err.Error(),
		})
	} else if refreshed, err := s.store.Get(ctx, tool.ID); err == nil {
		tool = refreshed
	}

	return &SubmitOutcome{Tool: tool, Verdict: verdict}, nil
}

// GetTool returns the full tool record, including delisted tools.
func (s *Service) GetTool(ctx context.Context, id string) (*registry.Tool, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errs.New(errs.CodeInvalidInput, "id must not be empty")
	}
	return s.store.Get(ctx, id)
}

// GetProvenance returns the root-to-self chain for id.
func (s *Service) GetProvenance(ctx context.Context, id string) ([]*registry.Tool, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errs.New(errs.CodeInvalidInput, "id must not be empty")
	}
	return s.store.Provenance(ctx, id)
}

// ListTools returns tool summaries matching filter.
func (s *Service) ListTools(ctx context.Context, filter registry.ListFilter) ([]*registry.Tool, error) {
	return s.store.List(ctx, filter)
}

// ReportUsageOutcome is report_usage's success shape.
type ReportUsageOutcome struct {
	Fitness  float64
	Delisted bool
}

// ReportUsage appends a usage observation and synchronously recomputes
// fitness: C8 → C4 (append telemetry) → C6 (recompute) → C4 (delist if
// below floor).
func (s *Service) ReportUsage(ctx context.Context, report registry.UsageReport) (*ReportUsageOutcome, error) {
	if strings.TrimSpace(report.ToolID) == "" || strings.TrimSpace(report.AgentID) == "" {
		return nil, errs.New(errs.CodeInvalidInput, "tool_id and agent_id must not be empty")
	}

	if _, err := s.store.Get(ctx, report.ToolID); err != nil {
		return nil, err
	}

	if _, err := s.store.RecordUsage(ctx, report); err != nil {
		s.degraded = true
		return nil, err
	}

	fitnessScore, err := s.fitness.Recompute(ctx, report.ToolID)
	if err != nil {
		return nil, err
	}

	tool, err := s.store.Get(ctx, report.ToolID)
	if err != nil {
		return nil, err
	}

	return &ReportUsageOutcome{Fitness: fitnessScore, Delisted: tool.Delisted}, nil
}

// DiscoverInput carries discover_tool's parameters. MinTrustLevel is a
// pointer so an omitted field can be distinguished from an explicit
// TrustSubmitted(0): per spec.md §6, discover_tool's documented default is
// min_trust=Verified, not the zero value.
type DiscoverInput struct {
	Intent          string
	K               int
	MinFitness      float64
	MinTrustLevel   *registry.TrustLevel
	IncludeDelisted bool
	Tags            []string
}

// DiscoverTool runs C8 → C5 (similarity) → C6 (rank, via precomputed
// fitness) → C4 (hydrate), already applied inside discovery.Discovery.
func (s *Service) DiscoverTool(ctx context.Context, in DiscoverInput) ([]discovery.Result, error) {
	if strings.TrimSpace(in.Intent) == "" {
		return nil, errs.New(errs.CodeInvalidInput, "intent must not be empty")
	}
	minTrust := registry.TrustVerified
	if in.MinTrustLevel != nil {
		minTrust = *in.MinTrustLevel
	}
	return s.discovery.Discover(ctx, in.Intent, discovery.Options{
		K:               in.K,
		MinFitness:      in.MinFitness,
		MinTrustLevel:   minTrust,
		IncludeDelisted: in.IncludeDelisted,
		Tags:            in.Tags,
	})
}

// Healthy reports the service's health signal. It turns false once an
// insert, fork, or usage-recording write has failed (duplicates aside) and
// stays false; mutating operations are still accepted afterwards.
func (s *Service) Healthy() bool {
	return !s.degraded
}
