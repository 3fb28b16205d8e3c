package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/deskhand/pkg/agent"
	"github.com/odvcencio/deskhand/pkg/api"
	"github.com/odvcencio/deskhand/pkg/config"
	"github.com/odvcencio/deskhand/pkg/logging"
	"github.com/odvcencio/deskhand/pkg/memory"
	"github.com/odvcencio/deskhand/pkg/model"
	"github.com/odvcencio/deskhand/pkg/notify"
	"github.com/odvcencio/deskhand/pkg/router"
	"github.com/odvcencio/deskhand/pkg/storage"
	"github.com/odvcencio/deskhand/pkg/tools"

	"github.com/prometheus/client_golang/prometheus"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	args := flag.Args()
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "serve":
		runOrExit(runServe)
	case "chat":
		runOrExit(runChat)
	case "version":
		fmt.Printf("deskhand %s (%s, built %s)\n", version, commit, buildDate)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`deskhand - MSP support ticket assistant

Usage:
  deskhand [flags] <command>

Commands:
  serve     Run the HTTP API server (default)
  chat      Interactive chat in the terminal
  version   Print version information

Flags:
  -config   Path to a YAML config file`)
}

func runOrExit(fn func(ctx context.Context) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type deps struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    *storage.Store
	models   *model.Manager
	router   *router.Router
	agent    *agent.Agent
	notifier *notify.Fanout
	registry *prometheus.Registry
}

func initDependencies() (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Dir:       cfg.Logging.Dir,
		SessionID: memory.NewSessionID(),
		MinLevel:  logging.Level(cfg.Logging.Level),
		Console:   cfg.Logging.Console,
	})
	if err != nil {
		return nil, err
	}

	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	models, err := model.NewManager(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()

	rt := router.New(router.Options{
		UseLLMClassifier: cfg.Routing.UseLLMClassifier,
		Invoker:          models,
		Logger:           logger,
		Registry:         registry,
	})

	mem := memory.NewManager(store, cfg.Memory.WindowSize)
	dispatcher := tools.NewDispatcher(cfg.Tickets.Endpoint, cfg.Tickets.APIKey, cfg.Tickets.Timeout, logger)
	ag := agent.New(models, rt, mem, dispatcher, logger)

	var publishers []notify.Publisher
	if cfg.Notify.SlackWebhookURL != "" {
		slack, err := notify.NewSlackPublisher(cfg.Notify.SlackWebhookURL)
		if err != nil {
			logger.Warn(logging.CategoryNotify, "slack_init_failed", err.Error(), nil)
		} else {
			publishers = append(publishers, slack)
		}
	}
	if cfg.Notify.NATSURL != "" {
		nats, err := notify.NewNATSPublisher(notify.NATSConfig{
			URL:     cfg.Notify.NATSURL,
			Subject: cfg.Notify.NATSSubject,
		})
		if err != nil {
			logger.Warn(logging.CategoryNotify, "nats_init_failed", err.Error(), nil)
		} else {
			publishers = append(publishers, nats)
		}
	}
	notifier := notify.NewFanout(logger, publishers...)

	return &deps{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		models:   models,
		router:   rt,
		agent:    ag,
		notifier: notifier,
		registry: registry,
	}, nil
}

func (d *deps) close() {
	d.notifier.Close()
	d.store.Close()
	d.logger.Close()
}

func runServe(ctx context.Context) error {
	d, err := initDependencies()
	if err != nil {
		return err
	}
	defer d.close()

	server := api.NewServer(api.ServerConfig{
		Address:  d.cfg.Server.Bind,
		Settings: d.cfg.Server,
		Store:    d.store,
		Agent:    d.agent,
		Router:   d.router,
		Notifier: d.notifier,
		Logger:   d.logger,
		Registry: d.registry,
	})

	d.logger.Info(logging.CategorySystem, "serve", "server starting", map[string]any{
		"bind": d.cfg.Server.Bind,
	})
	fmt.Printf("deskhand listening on %s\n", d.cfg.Server.Bind)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runChat(ctx context.Context) error {
	d, err := initDependencies()
	if err != nil {
		return err
	}
	defer d.close()

	sessionID := d.agent.StartSession()
	fmt.Printf("deskhand chat (session %s). Type 'exit' to quit, 'reset' to clear memory.\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "exit", "quit":
			if summary, err := d.agent.EndSession(ctx, sessionID); err == nil {
				fmt.Printf("Session saved: %s\n", summary)
			}
			return nil
		case "reset":
			if err := d.agent.Reset(ctx, sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "reset failed: %v\n", err)
			} else {
				fmt.Println("Conversation reset.")
			}
			continue
		case "stats":
			stats, err := d.agent.SessionStats(ctx, sessionID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "stats failed: %v\n", err)
				continue
			}
			fmt.Printf("messages: %d  requests: %d  capable: %d (%.1f%%)  cheap: %d (%.1f%%)\n",
				stats.Messages, stats.Routing.TotalRequests,
				stats.Routing.CapableCount, stats.Routing.CapablePercent,
				stats.Routing.CheapCount, stats.Routing.CheapPercent)
			continue
		}

		reply, err := d.agent.Respond(ctx, sessionID, line, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Printf("%s\n  [%s via %s: %s]\n", reply.Text, reply.Tier, reply.ModelUsed, reply.Reason)
	}
}
