// Package sandbox implements the Sandbox Executor (C2): out-of-process
// execution of a screened submission's code against its test case, under
// CPU, wall-clock, and memory limits, behind a bounded worker pool that
// fails fast once its queue is full. Each run gets a fresh scratch
// directory as its working directory; the child is not otherwise confined
// to it, and the rest of the filesystem is not made read-only.
package sandbox

import (
	"context"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agentevolution/agentevolution/internal/config"
	"github.com/agentevolution/agentevolution/internal/errs"
	"github.com/agentevolution/agentevolution/internal/telemetry"
)

// Result carries the observable outcome of one sandboxed run.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	PeakMemKB  int64
	Killed     bool
	OOM        bool
	TestPassed bool
}

const maxOutputBytes = 64 * 1024

// Sandbox runs Python submissions behind a bounded FIFO queue.
type Sandbox struct {
	cfg  config.SandboxConfig
	sem  *semaphore.Weighted
	wait *semaphore.Weighted // queue admission, bounds pending+running
}

// New builds a Sandbox whose pool accepts at most cfg.PoolSize concurrent
// executions and queues at most cfg.MaxQueueDepth beyond that before
// reporting CodeOverloaded.
func New(cfg config.SandboxConfig) *Sandbox {
	return &Sandbox{
		cfg:  cfg,
		sem:  semaphore.NewWeighted(int64(cfg.PoolSize)),
		wait: semaphore.NewWeighted(int64(cfg.PoolSize + cfg.MaxQueueDepth)),
	}
}

// Run executes code against testCase inside a fresh scratch directory.
// It blocks until a worker slot is free, fails immediately with
// CodeOverloaded if the admission queue is already full, and respects
// ctx cancellation while waiting.
func (s *Sandbox) Run(ctx context.Context, code, testCase string) (*Result, error) {
	if !s.wait.TryAcquire(1) {
		return nil, errs.New(errs.CodeOverloaded, "sandbox queue is full").WithRetryable(true)
	}
	telemetry.SandboxQueueDepth.Inc()
	defer func() {
		telemetry.SandboxQueueDepth.Dec()
		s.wait.Release(1)
	}()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, errs.Wrap(err, errs.CodeTimedOut, "waiting for a sandbox slot")
	}
	defer s.sem.Release(1)

	return s.execute(ctx, code, testCase)
}

func (s *Sandbox) execute(ctx context.Context, code, testCase string) (*Result, error) {
	scratch, err := os.MkdirTemp("", "agentevolution-sandbox-*")
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInternal, "creating scratch directory")
	}
	defer os.RemoveAll(scratch)

	scriptPath, err := writeScript(scratch, assembleScript(code, testCase))
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInternal, "writing sandbox script")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.WallLimit)
	defer cancel()

	cmd := newCommand(runCtx, s.cfg, scratch, scriptPath)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Duration: duration,
		Stdout:   truncate(stdout.String()),
		Stderr:   truncate(stderr.String()),
	}

	result.PeakMemKB = peakRSSKB(cmd)

	if runCtx.Err() == context.DeadlineExceeded {
		result.Killed = true
		result.ExitCode = 124
		telemetry.SandboxDuration.WithLabelValues("true").Observe(duration.Seconds())
		return result, nil
	}

	result.ExitCode = exitCodeOf(runErr)
	// The ulimit wrapper reports an OOM kill as SIGKILL (exit 137).
	result.OOM = result.ExitCode == 137
	result.TestPassed = result.ExitCode == 0
	telemetry.SandboxDuration.WithLabelValues("false").Observe(duration.Seconds())
	return result, nil
}

// assembleScript concatenates submitted code and its test case into one
// Python module; the test case is expected to raise (AssertionError or
// otherwise) on failure and exit cleanly on success.
func assembleScript(code, testCase string) string {
	var b strings.Builder
	b.WriteString(code)
	b.WriteString("\n\n")
	b.WriteString(testCase)
	b.WriteString("\n")
	return b.String()
}

func writeScript(dir, contents string) (string, error) {
	path := dir + "/submission.py"
	return path, os.WriteFile(path, []byte(contents), 0o600)
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... (output truncated)"
}
