package screener

import (
	"strings"
	"testing"

	"github.com/agentevolution/agentevolution/internal/config"
)

func newTestScreener() *Screener {
	return New(config.Default().Screener)
}

func TestScreenAcceptsPlainArithmetic(t *testing.T) {
	s := newTestScreener()
	result := s.Screen("def add(a,b): return a+b", "assert add(2,3) == 5")
	if !result.Safe {
		t.Fatalf("expected safe, got reasons: %v", result.Reasons)
	}
}

func TestScreenAcceptsAllowedImport(t *testing.T) {
	s := newTestScreener()
	result := s.Screen("import math\ndef root(x): return math.sqrt(x)", "assert root(4) == 2.0")
	if !result.Safe {
		t.Fatalf("expected safe, got reasons: %v", result.Reasons)
	}
}

func TestScreenRejectsDeniedImport(t *testing.T) {
	s := newTestScreener()
	result := s.Screen("import os\ndef f(): return os.getcwd()", "assert f()")
	if result.Safe {
		t.Fatalf("expected rejection of os import")
	}
	if !containsSubstring(result.Reasons, "denied module") {
		t.Fatalf("expected denied-module reason, got: %v", result.Reasons)
	}
}

func TestScreenRejectsImportNotOnAllowList(t *testing.T) {
	s := newTestScreener()
	result := s.Screen("import numpy\ndef f(): return numpy.array([1])", "assert f()")
	if result.Safe {
		t.Fatalf("expected rejection of unlisted import")
	}
}

func TestScreenRejectsEval(t *testing.T) {
	s := newTestScreener()
	result := s.Screen("def f(x): return eval(x)", "assert f('1+1') == 2")
	if result.Safe {
		t.Fatalf("expected rejection of eval()")
	}
}

func TestScreenRejectsExec(t *testing.T) {
	s := newTestScreener()
	result := s.Screen("def f(x):\n    exec(x)\n    return 1", "assert f('pass') == 1")
	if result.Safe {
		t.Fatalf("expected rejection of exec()")
	}
}

func TestScreenRejectsDunderImport(t *testing.T) {
	s := newTestScreener()
	result := s.Screen("def f(): return __import__('os')", "assert f()")
	if result.Safe {
		t.Fatalf("expected rejection of __import__()")
	}
}

func TestScreenRejectsProcessHandleAccessEvenWithoutImport(t *testing.T) {
	s := newTestScreener()
	result := s.Screen("def f(): return subprocess.run(['ls'])", "assert f()")
	if result.Safe {
		t.Fatalf("expected rejection of subprocess access")
	}
}

func TestScreenRejectsFileOpenOutsideScratch(t *testing.T) {
	s := newTestScreener()
	result := s.Screen(`def f():\n    return open("/etc/passwd").read()`, "assert f()")
	if result.Safe {
		t.Fatalf("expected rejection of open() outside scratch dir")
	}
}

func TestScreenAcceptsFileOpenUnderScratch(t *testing.T) {
	s := newTestScreener()
	code := `def f():\n    return open("` + ScratchPrefix + `/a.txt").read()`
	result := s.Screen(code, "assert f()")
	if !result.Safe {
		t.Fatalf("expected acceptance of literal scratch path, got: %v", result.Reasons)
	}
}

func TestScreenRejectsNonLiteralOpenPath(t *testing.T) {
	s := newTestScreener()
	result := s.Screen("def f(p): return open(p).read()", "assert f('x')")
	if result.Safe {
		t.Fatalf("expected rejection of non-literal open() path")
	}
}

func containsSubstring(reasons []string, substr string) bool {
	for _, r := range reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}
