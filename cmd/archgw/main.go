// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// archgw is the LLM gateway binary: it terminates OpenAI Chat, OpenAI
// Responses, and Anthropic Messages traffic and forwards it to the
// configured providers and agent pipelines.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/archgw/archgw/internal/agents"
	"github.com/archgw/archgw/internal/config"
	"github.com/archgw/archgw/internal/gateway"
	"github.com/archgw/archgw/internal/metrics"
	"github.com/archgw/archgw/internal/providers"
	"github.com/archgw/archgw/internal/routing"
	"github.com/archgw/archgw/internal/state"
	"github.com/archgw/archgw/internal/tracing"
	"github.com/archgw/archgw/internal/version"
)

type (
	cmd struct {
		Version struct{} `cmd:"" help:"Show version."`
		Run     cmdRun   `cmd:"" help:"Run the gateway."`
	}
	cmdRun struct {
		Config   string `name:"config" short:"c" default:"archgw.yaml" help:"Path to the configuration file." type:"path"`
		LogLevel string `name:"log-level" default:"info" enum:"debug,info,warn,error" help:"Log level."`
	}
)

func main() {
	doMain(os.Stdout, os.Stderr, os.Args[1:])
}

func doMain(stdout, stderr io.Writer, args []string) {
	var c cmd
	parser, err := kong.New(&c,
		kong.Name("archgw"),
		kong.Description("Arch LLM gateway"),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		log.Fatalf("Error creating parser: %v", err)
	}
	kctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)
	switch kctx.Command() {
	case "version":
		_, _ = fmt.Fprintf(stdout, "archgw: %s\n", version.Version)
	case "run":
		if err := run(c.Run, stderr); err != nil {
			log.Fatalf("Error running gateway: %v", err)
		}
	default:
		panic("unreachable")
	}
}

func run(c cmdRun, stderr io.Writer) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, meterProvider, shutdownOtel, err := tracing.Setup(ctx, "archgw")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			logger.Warn("otel shutdown failed", "error", err.Error())
		}
	}()

	m, err := metrics.New(meterProvider)
	if err != nil {
		return err
	}

	registry, err := providers.NewRegistry(cfg.ProviderDescriptors())
	if err != nil {
		return err
	}

	var store state.Store
	switch cfg.State.Backend {
	case "postgres":
		pg, err := state.NewPostgresStore(ctx, cfg.State.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	default:
		store = state.NewMemoryStore()
	}

	var router *routing.Router
	if cfg.Orchestrator != nil {
		router = routing.NewRouter(cfg.Orchestrator.Endpoint, cfg.Orchestrator.Model,
			cfg.Orchestrator.TokenBudget, logger)
	}
	listeners, agentDefs := cfg.AgentTopology()
	topology := agents.NewTopology(listeners, agentDefs)
	runner := agents.NewRunner(topology, router, &http.Client{}, logger)

	server := gateway.NewServer(gateway.Options{
		Registry:         registry,
		Upstream:         gateway.NewUpstream(nil, logger),
		Runner:           runner,
		Store:            store,
		Metrics:          m,
		Logger:           logger,
		DefaultMaxTokens: cfg.DefaultMaxTokens,
	})

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("gateway listening", "addr", cfg.Listen, "version", version.Version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
