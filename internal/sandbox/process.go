package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/agentevolution/agentevolution/internal/config"
)

var safeEnvKeys = []string{"PATH", "LANG", "LC_ALL"}

// newCommand wraps the Python interpreter in a shell that applies CPU and
// memory ulimits before exec'ing it, and sets a new process group so the
// whole tree can be killed together on timeout.
func newCommand(ctx context.Context, cfg config.SandboxConfig, workDir, scriptPath string) *exec.Cmd {
	cpuSeconds := int(cfg.CPULimit.Seconds())
	if cpuSeconds < 1 {
		cpuSeconds = 1
	}
	memKB := cfg.MemLimitMB * 1024

	shellCmd := fmt.Sprintf(
		"ulimit -t %d; ulimit -v %d; exec %s %s",
		cpuSeconds, memKB, cfg.PythonBinary, scriptPath,
	)

	cmd := exec.CommandContext(ctx, "sh", "-c", shellCmd)
	cmd.Dir = workDir
	cmd.Env = restrictedEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	return cmd
}

// killProcessGroup sends SIGKILL to the negative PID, which on Linux
// targets every process in the group started by Setpgid.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// restrictedEnv passes through only the variables needed to locate and run
// the interpreter; no network credentials, no host configuration.
func restrictedEnv() []string {
	var env []string
	for _, key := range safeEnvKeys {
		if v := os.Getenv(key); v != "" {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// exitCodeOf extracts a process exit code from cmd.Run()'s error, treating
// any non-ExitError failure (e.g. exec itself failing) as exit code 1.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

// peakRSSKB reads the child's peak resident set size from the rusage
// struct the kernel reports when the process is reaped, including after a
// kill. Returns 0 if the process never started (no ProcessState) or the
// platform doesn't expose rusage through syscall.Rusage.
func peakRSSKB(cmd *exec.Cmd) int64 {
	if cmd.ProcessState == nil {
		return 0
	}
	rusage, ok := cmd.ProcessState.SysUsage().(*syscall.Rusage)
	if !ok || rusage == nil {
		return 0
	}
	// On Linux, Maxrss is already reported in kilobytes.
	return int64(rusage.Maxrss)
}
