// Package screener implements the Static Screener (C1): a deterministic,
// pure scan of submitted Python source that rejects dangerous operations
// before anything is ever run. It never executes the code it inspects.
package screener

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentevolution/agentevolution/internal/config"
)

// ScratchPrefix is the one path prefix under which a literal file open is
// tolerated. It is a fixed path: the Sandbox Executor runs each submission
// in its own freshly created temporary directory and does not create or
// use this one.
const ScratchPrefix = "/tmp/agentevolution-scratch"

// Result is the outcome of screening one submission.
type Result struct {
	Safe    bool
	Reasons []string
}

// Analyzer inspects source text and returns zero or more violation reasons.
// Each analyzer is independent and pure.
type Analyzer interface {
	Name() string
	Analyze(source string) []string
}

// Screener runs the registered analyzers against submitted code and its
// declared test case.
type Screener struct {
	analyzers []Analyzer
}

// New builds a Screener from the configured allow/deny import lists.
func New(cfg config.ScreenerConfig) *Screener {
	return &Screener{
		analyzers: []Analyzer{
			&importAnalyzer{allowed: toSet(cfg.AllowedImports), denied: toSet(cfg.DeniedImports)},
			&dynamicEvalAnalyzer{},
			&processHandleAnalyzer{},
			&fileOpenAnalyzer{},
		},
	}
}

// Screen inspects code and test_case and reports whether either violates a
// registered analyzer. Screening is pure: identical inputs always return
// the same result, and failure is never fatal to the service.
func (s *Screener) Screen(code, testCase string) Result {
	var reasons []string
	for _, a := range s.analyzers {
		reasons = append(reasons, a.Analyze(code)...)
		reasons = append(reasons, a.Analyze(testCase)...)
	}
	return Result{Safe: len(reasons) == 0, Reasons: reasons}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}

var importPattern = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)

// importAnalyzer rejects imports outside the configured allow-list, with an
// explicit deny-list taking priority over anything accidentally missing
// from the allow-list.
type importAnalyzer struct {
	allowed map[string]bool
	denied  map[string]bool
}

func (a *importAnalyzer) Name() string { return "import" }

func (a *importAnalyzer) Analyze(source string) []string {
	var reasons []string
	for _, m := range importPattern.FindAllStringSubmatch(source, -1) {
		module := strings.Split(m[1], ".")[0]
		if a.denied[module] {
			reasons = append(reasons, fmt.Sprintf("import of denied module %q", module))
			continue
		}
		if !a.allowed[module] {
			reasons = append(reasons, fmt.Sprintf("import of module %q not on allow-list", module))
		}
	}
	return reasons
}

var dynamicEvalPatterns = []struct {
	pattern *regexp.Regexp
	reason  string
}{
	{regexp.MustCompile(`\beval\s*\(`), "use of eval()"},
	{regexp.MustCompile(`\bexec\s*\(`), "use of exec()"},
	{regexp.MustCompile(`__import__\s*\(`), "use of __import__()"},
	{regexp.MustCompile(`\bcompile\s*\(`), "use of compile()"},
}

// dynamicEvalAnalyzer rejects use of dynamic-evaluation primitives.
type dynamicEvalAnalyzer struct{}

func (a *dynamicEvalAnalyzer) Name() string { return "dynamic-eval" }

func (a *dynamicEvalAnalyzer) Analyze(source string) []string {
	var reasons []string
	for _, p := range dynamicEvalPatterns {
		if p.pattern.MatchString(source) {
			reasons = append(reasons, p.reason)
		}
	}
	return reasons
}

var processHandlePattern = regexp.MustCompile(`\b(os|sys|subprocess|socket|ctypes)\s*\.\s*\w+`)

// processHandleAnalyzer rejects direct attribute access on process/OS
// handles by module name, even where no import statement for the module
// is present (os.system, sys.exit, subprocess.run, socket.socket...).
// Access through an alias name (import os as o; o.system) is not matched
// here; the import analyzer rejects the aliased import itself.
type processHandleAnalyzer struct{}

func (a *processHandleAnalyzer) Name() string { return "process-handle" }

func (a *processHandleAnalyzer) Analyze(source string) []string {
	var reasons []string
	for _, m := range processHandlePattern.FindAllString(source, -1) {
		reasons = append(reasons, fmt.Sprintf("direct access to process/OS handle: %s", m))
	}
	return reasons
}

var (
	openCallPattern    = regexp.MustCompile(`\bopen\s*\(\s*(.*?)\s*[,)]`)
	literalPathPattern = regexp.MustCompile(`^["'][^"']*["']$`)
)

// fileOpenAnalyzer rejects file opens whose path is not a literal under the
// sandbox-writable scratch directory.
type fileOpenAnalyzer struct{}

func (a *fileOpenAnalyzer) Name() string { return "file-open" }

func (a *fileOpenAnalyzer) Analyze(source string) []string {
	var reasons []string
	for _, m := range openCallPattern.FindAllStringSubmatch(source, -1) {
		arg := strings.TrimSpace(m[1])
		if !literalPathPattern.MatchString(arg) {
			reasons = append(reasons, "open() with a non-literal path")
			continue
		}
		path := strings.Trim(arg, `"'`)
		if !strings.HasPrefix(path, ScratchPrefix) {
			reasons = append(reasons, fmt.Sprintf("open() of path outside scratch directory: %s", path))
		}
	}
	return reasons
}
