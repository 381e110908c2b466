package sandbox

import "testing"

func TestAssembleScriptJoinsCodeAndTestCase(t *testing.T) {
	script := assembleScript("def add(a,b): return a+b", "assert add(2,3) == 5")
	if script != "def add(a,b): return a+b\n\nassert add(2,3) == 5\n" {
		t.Fatalf("unexpected script assembly: %q", script)
	}
}

func TestTruncateLeavesShortOutputUntouched(t *testing.T) {
	if got := truncate("hello"); got != "hello" {
		t.Fatalf("expected untouched short output, got %q", got)
	}
}

func TestTruncateCapsLongOutput(t *testing.T) {
	long := make([]byte, maxOutputBytes+100)
	for i := range long {
		long[i] = 'x'
	}
	got := truncate(string(long))
	if len(got) == len(long) {
		t.Fatalf("expected truncation to shrink output")
	}
}

func TestExitCodeOfNilErrIsZero(t *testing.T) {
	if exitCodeOf(nil) != 0 {
		t.Fatalf("expected exit code 0 for nil error")
	}
}
