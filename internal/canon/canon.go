// Package canon implements the canonicalization and content-hashing rules
// that give every tool its identity (invariant I1): two submissions with
// byte-identical canonicalized (code, test_case) share a content hash.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// commentOnlyLine matches a line that is blank or contains nothing but a
// Python comment, once leading/trailing whitespace is ignored.
var commentOnlyLine = regexp.MustCompile(`^\s*(#.*)?$`)

// Artifact normalizes source text for hashing: CRLF/CR become LF, trailing
// whitespace is stripped from every line, and trailing blank or
// comment-only lines are dropped. The result is stable across platforms
// regardless of how the submitting agent's editor saved the file, and is
// unaffected by a trailing comment or blank line an agent appends without
// changing behavior.
func Artifact(src string) string {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	src = strings.ReplaceAll(src, "\r", "\n")
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	for len(lines) > 0 && commentOnlyLine.MatchString(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// ContentHash returns the hex-encoded SHA-256 digest of the canonicalized
// (code, test_case) pair. A NUL separator keeps "ab"+"c" distinct from
// "a"+"bc". Canonicalization does not remove NUL bytes, so the separator is
// unambiguous only for fields that contain none.
func ContentHash(code, testCase string) string {
	h := sha256.New()
	h.Write([]byte(Artifact(code)))
	h.Write([]byte{0})
	h.Write([]byte(Artifact(testCase)))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}
