// Command agentcored is the process entry point for the agent
// orchestration core. It wires configuration, logging, the sandbox
// provider, the decision-maker client, the repo-hosting adapter, the
// durable store, and the event bus into a session.Controller, then drives
// one session from the command line and streams its events to stdout.
//
// HTTP/SSE transport is out of scope for this module (see SPEC_FULL.md §1);
// this binary is the minimal driver a transport layer would sit in front
// of.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for Config.Store.DriverName=="pgx"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"

	"github.com/fluxforge/agentcore/internal/agent/model"
	"github.com/fluxforge/agentcore/internal/common/config"
	"github.com/fluxforge/agentcore/internal/common/logger"
	"github.com/fluxforge/agentcore/internal/common/tracing"
	"github.com/fluxforge/agentcore/internal/eventbus"
	"github.com/fluxforge/agentcore/internal/githost"
	"github.com/fluxforge/agentcore/internal/sandbox"
	"github.com/fluxforge/agentcore/internal/session"
	"github.com/fluxforge/agentcore/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	repoURL := flag.String("repo", "", "repository URL to operate on")
	prompt := flag.String("prompt", "", "task for the orchestrator agent")
	flag.Parse()

	if *repoURL == "" || *prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: agentcored -repo <url> -prompt <task> [-config path]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() { _ = tracing.Shutdown(context.Background()) }()

	st, err := store.Open(cfg.Store.DriverName, cfg.Store.DSN)
	if err != nil {
		log.Error("open store failed", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	sandboxOpts := []sandbox.Option{sandbox.WithLogger(log)}
	if cfg.Sandbox.Container.Host != "" {
		sandboxOpts = append(sandboxOpts, sandbox.WithContainerHost(cfg.Sandbox.Container.Host))
	}
	if cfg.Sandbox.Container.APIVersion != "" {
		sandboxOpts = append(sandboxOpts, sandbox.WithContainerAPIVersion(cfg.Sandbox.Container.APIVersion))
	}
	if cfg.Sandbox.Container.Image != "" {
		sandboxOpts = append(sandboxOpts, sandbox.WithContainerImage(cfg.Sandbox.Container.Image))
	}
	provider, err := sandbox.New(sandbox.Backend(cfg.Sandbox.Backend), sandboxOpts...)
	if err != nil {
		log.Error("init sandbox provider failed", zap.Error(err))
		os.Exit(1)
	}

	decisionMaker, err := model.NewAnthropicClient(cfg.Decision.APIKey, cfg.Decision.Model)
	if err != nil {
		log.Error("init decision-maker client failed", zap.Error(err))
		os.Exit(1)
	}

	gitHost := githost.NewPATClient(cfg.GitHost.Token)
	bus := eventbus.New()

	controller := session.New(session.Config{
		Store:           st,
		Bus:             bus,
		SandboxProvider: provider,
		DecisionMaker:   decisionMaker,
		GitHost:         gitHost,
		ModelID:         cfg.Decision.Model,
		MaxTokens:       16384,
		GitHubToken:     cfg.GitHost.Token,
		AnthropicAPIKey: cfg.Decision.APIKey,
		ArtifactsDir:    cfg.Artifacts.RootDir,
		Logger:          log,
	})

	sessionID, err := controller.StartSession(*repoURL, *prompt)
	if err != nil {
		log.Error("start session failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("session started", zap.String("session_id", sessionID))

	events, unsubscribe := bus.Subscribe(ctx, sessionID)
	defer unsubscribe()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt["type"] == "keepalive" {
				continue
			}
			fmt.Printf("[%v] %v: %v\n", evt["timestamp"], evt["type"], evt["data"])
		case <-ctx.Done():
			return
		case <-time.After(30 * time.Minute):
			fmt.Fprintln(os.Stderr, "timed out waiting for session to finish")
			return
		}

		sess, err := st.GetSession(context.Background(), sessionID)
		if err == nil && (sess.Status == store.StatusCompleted || sess.Status == store.StatusFailed) {
			fmt.Printf("session %s finished with status %s\n", sessionID, sess.Status)
			return
		}
	}
}
