package canon

import "testing"

func TestArtifactNormalizesLineEndingsAndTrailingWhitespace(t *testing.T) {
	crlf := "def add(a, b):   \r\n    return a + b\r\n"
	lf := "def add(a, b):\n    return a + b\n"
	if Artifact(crlf) != Artifact(lf) {
		t.Fatalf("expected canonicalization to converge, got %q vs %q", Artifact(crlf), Artifact(lf))
	}
}

func TestContentHashIsPureFunctionOfArtifacts(t *testing.T) {
	code := "def add(a,b): return a+b"
	test := "assert add(2,3) == 5"

	h1 := ContentHash(code, test)
	h2 := ContentHash(code, test)
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars (sha256), got %d", len(h1))
	}
}

func TestContentHashDiffersOnAnyFieldChange(t *testing.T) {
	base := ContentHash("a", "b")
	if ContentHash("a", "c") == base {
		t.Fatalf("expected test_case change to change hash")
	}
	if ContentHash("x", "b") == base {
		t.Fatalf("expected code change to change hash")
	}
}

func TestContentHashDoesNotConfuseFieldBoundary(t *testing.T) {
	// Without a separator, ("ab","c") and ("a","bc") would collide.
	if ContentHash("ab", "c") == ContentHash("a", "bc") {
		t.Fatalf("expected field-boundary confusion to be impossible")
	}
}

func TestArtifactDropsTrailingCommentAndBlankLines(t *testing.T) {
	bare := "def add(a, b):\n    return a + b"
	withTrailingComment := "def add(a, b):\n    return a + b\n# a trailing note\n"
	withTrailingBlanks := "def add(a, b):\n    return a + b\n\n\n"
	withBoth := "def add(a, b):\n    return a + b\n\n# trailing\n  \n"

	if Artifact(bare) != Artifact(withTrailingComment) {
		t.Fatalf("expected trailing comment-only line to be dropped, got %q vs %q", Artifact(bare), Artifact(withTrailingComment))
	}
	if Artifact(bare) != Artifact(withTrailingBlanks) {
		t.Fatalf("expected trailing blank lines to be dropped, got %q vs %q", Artifact(bare), Artifact(withTrailingBlanks))
	}
	if Artifact(bare) != Artifact(withBoth) {
		t.Fatalf("expected trailing blank/comment mix to be dropped, got %q vs %q", Artifact(bare), Artifact(withBoth))
	}
}

func TestContentHashIgnoresTrailingCommentOnlyLine(t *testing.T) {
	code := "def add(a,b): return a+b"
	test1 := "assert add(2,3) == 5"
	test2 := "assert add(2,3) == 5\n# sanity check\n"

	if ContentHash(code, test1) != ContentHash(code, test2) {
		t.Fatalf("expected a trailing comment-only line not to change content_hash")
	}
}
