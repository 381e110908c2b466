// Command agentevolution runs the AgentEvolution registry-and-verification
// service: the Gauntlet, the Content-Addressed Registry, the Fitness
// Engine, Discovery, and the Protocol Surface that exposes them.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agentevolution/agentevolution/internal/config"
	"github.com/agentevolution/agentevolution/internal/discovery"
	"github.com/agentevolution/agentevolution/internal/embedindex"
	"github.com/agentevolution/agentevolution/internal/fitness"
	"github.com/agentevolution/agentevolution/internal/gauntlet"
	"github.com/agentevolution/agentevolution/internal/logging"
	"github.com/agentevolution/agentevolution/internal/protocol"
	"github.com/agentevolution/agentevolution/internal/registry"
	"github.com/agentevolution/agentevolution/internal/sandbox"
	"github.com/agentevolution/agentevolution/internal/screener"
	"github.com/agentevolution/agentevolution/internal/telemetry"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file (defaults are used if omitted)")
	signingSecretEnv := flag.String("signing-secret-env", "AGENTEVOLUTION_SIGNING_SECRET", "environment variable holding the registry signing secret")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentevolution: %v\n", err)
		return exitCodeForError(withExitCode(err, exitConfigError))
	}

	log, err := logging.New(filepath.Join(cfg.DataDir, "logs"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentevolution: %v\n", err)
		return exitCodeForError(withExitCode(err, exitConfigError))
	}
	defer log.Close()

	tp, err := telemetry.NewTracerProvider("agentevolution")
	if err != nil {
		log.Error(logging.CategoryProtocol, "startup", "failed to start tracer provider", map[string]any{"error": err.Error()})
		return exitCodeForError(withExitCode(err, exitConfigError))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := serve(ctx, cfg, log, *signingSecretEnv)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Sandbox.WallLimit)
	defer cancel()
	_ = tp.Shutdown(shutdownCtx)

	return code
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFromPath(path)
}

func serve(ctx context.Context, cfg *config.Config, log *logging.Logger, signingSecretEnv string) int {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error(logging.CategoryProtocol, "startup", "failed to create data directory", map[string]any{"error": err.Error()})
		return exitConfigError
	}

	signingSecret := []byte(os.Getenv(signingSecretEnv))
	if len(signingSecret) == 0 {
		// No operator-supplied secret: the service still starts, signing
		// with a fixed built-in development secret that is the same for
		// every install; an operator-supplied secret is strongly preferred
		// in production.
		signingSecret = []byte("agentevolution-dev-signing-secret")
		log.Warn(logging.CategoryProtocol, "startup", fmt.Sprintf("%s not set; using the built-in development signing secret", signingSecretEnv), nil)
	}

	store, err := registry.Open(filepath.Join(cfg.DataDir, "registry.db"), signingSecret)
	if err != nil {
		log.Error(logging.CategoryProtocol, "startup", "failed to open registry", map[string]any{"error": err.Error()})
		return exitStoreCorrupted
	}
	defer store.Close()

	scr := screener.New(cfg.Screener)
	sb := sandbox.New(cfg.Sandbox)
	g := gauntlet.New(scr, sb, log)

	idx := embedindex.New()
	if err := rehydrateIndex(ctx, store, idx); err != nil {
		log.Error(logging.CategoryProtocol, "startup", "failed to rehydrate embedding index", map[string]any{"error": err.Error()})
		return exitStoreCorrupted
	}

	fe := fitness.New(store, cfg.Fitness, log, idx)
	disc := discovery.New(idx, store, log)
	svc := protocol.NewService(store, g, idx, fe, disc, log)

	if _, _, err := net.SplitHostPort(cfg.Protocol.Bind); err != nil {
		log.Error(logging.CategoryProtocol, "startup", "invalid bind address", map[string]any{"bind": cfg.Protocol.Bind, "error": err.Error()})
		return exitConfigError
	}
	ln, err := net.Listen("tcp", cfg.Protocol.Bind)
	if err != nil {
		log.Error(logging.CategoryProtocol, "startup", "failed to bind protocol listener", map[string]any{"bind": cfg.Protocol.Bind, "error": err.Error()})
		return exitPortBindError
	}
	_ = ln.Close() // released immediately; http.Server rebinds inside ListenAndServe

	server := protocol.NewServer(cfg.Protocol.Bind, svc, log)
	log.Info(logging.CategoryProtocol, "startup", "agentevolution listening", map[string]any{
		"bind": cfg.Protocol.Bind, "version": version, "commit": commit,
	})

	if err := server.ListenAndServe(ctx); err != nil {
		log.Error(logging.CategoryProtocol, "shutdown", "protocol server exited with error", map[string]any{"error": err.Error()})
		return exitUnknownError
	}

	log.Info(logging.CategoryProtocol, "shutdown", "agentevolution shut down cleanly", nil)
	return exitOK
}

// rehydrateIndex rebuilds the in-process embedding index from the
// registry's own `tools.intent` column at startup. Persisted embedding
// vectors are not required for this: the default embedder is a pure
// function of (corpus, text), so re-deriving vectors from the
// already-durable intent text is equivalent to replaying a serialized
// vector table and avoids a second source of truth for C5's state.
func rehydrateIndex(ctx context.Context, store *registry.Store, idx *embedindex.Index) error {
	tools, err := store.List(ctx, registry.ListFilter{})
	if err != nil {
		return err
	}
	for _, t := range tools {
		idx.IndexTool(t.ID, t.Intent)
	}
	return nil
}
