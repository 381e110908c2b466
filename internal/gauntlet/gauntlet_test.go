package gauntlet

import (
	"context"
	"testing"

	"github.com/agentevolution/agentevolution/internal/config"
	"github.com/agentevolution/agentevolution/internal/logging"
	"github.com/agentevolution/agentevolution/internal/sandbox"
	"github.com/agentevolution/agentevolution/internal/screener"
)

func newTestGauntlet() *Gauntlet {
	cfg := config.Default()
	return New(screener.New(cfg.Screener), sandbox.New(cfg.Sandbox), logging.Discard())
}

func TestVerifyRejectsStaticViolationWithoutExecuting(t *testing.T) {
	g := newTestGauntlet()
	v, err := g.Verify(context.Background(), "t1", "import os\ndef f(): return os.getcwd()", "assert f()")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Approved {
		t.Fatalf("expected rejection, got approved verdict")
	}
	if v.Error != "rejected_static" {
		t.Fatalf("expected rejected_static, got %q", v.Error)
	}
	if len(v.SecurityScan) == 0 {
		t.Fatalf("expected security scan reasons to be populated")
	}
}

func TestVerifyStructWithoutPython(t *testing.T) {
	// This environment may lack a python3 binary; Verify must still return a
	// structured, non-fatal verdict rather than an error for a clean screen.
	g := newTestGauntlet()
	v, err := g.Verify(context.Background(), "t2", "def add(a,b): return a+b", "assert add(2,3) == 5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v.SecurityScan) != 0 {
		t.Fatalf("expected a clean static screen, got: %v", v.SecurityScan)
	}
}
