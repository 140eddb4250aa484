package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sagebionetworks/burstd/bridge"
	"github.com/sagebionetworks/burstd/buildinfo"
	"github.com/sagebionetworks/burstd/burst"
	"github.com/sagebionetworks/burstd/cache"
	"github.com/sagebionetworks/burstd/config"
	"github.com/sagebionetworks/burstd/logging"
	"github.com/sagebionetworks/burstd/metrics"
	"github.com/sagebionetworks/burstd/notify"
	"github.com/sagebionetworks/burstd/server"
	"github.com/sagebionetworks/burstd/taskgroup"
	"github.com/sagebionetworks/burstd/trigger"
)

type Args struct {
	ConfigPath string
}

const (
	reminderBody     = "Time to finish your daily study tasks"
	dispatchInterval = time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := parseArgs()
	if args.ConfigPath == "" {
		return fmt.Errorf("config flag (-c or --config) is required")
	}

	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	build := buildinfo.Get()
	logger.Info("burstd started",
		"version", build.Version,
		"git_commit", build.GitCommit,
		"config_path", args.ConfigPath)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("resolving timezone: %w", err)
	}

	store, err := cache.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening cache %s: %w", cfg.Storage.Path, err)
	}
	defer store.Close()

	client := bridge.New(cfg.Bridge)
	synced := bridge.NewCachedStore(client, store, logger, nil)

	var registry metrics.Registry
	var metricsHandler http.Handler
	if cfg.Monitoring.RemoteWriteURL != "" {
		hostname, hostErr := os.Hostname()
		if hostErr != nil {
			return fmt.Errorf("getting hostname: %w", hostErr)
		}
		registry = metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.Monitoring.RemoteWriteURL,
			Prefix:   cfg.Monitoring.MetricsPrefix,
			Job:      cfg.Monitoring.JobName,
			Instance: hostname,
		})
	} else {
		scrape, regErr := metrics.NewScrapeRegistry()
		if regErr != nil {
			return fmt.Errorf("creating metrics registry: %w", regErr)
		}
		metricsHandler = scrape.Handler()
		registry = scrape
	}
	observer, err := metrics.NewBurstObserver(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	tasks := taskgroup.New(cfg.Study.TaskGroup, cfg.Study.Tasks, loc, store, logger,
		taskgroup.WithEngagementGroups(cfg.Study.EngagementGroups))

	manager := burst.New(cfg.Study, loc, synced, synced, client, store, tasks, logger,
		burst.WithObserver(observer),
		burst.WithReminderBody(reminderBody),
		burst.WithParticipantSource(client),
	)

	dispatcher := notify.NewDispatcher(store, notify.DeliveryFunc(
		func(ctx context.Context, req notify.Request) error {
			logger.Info("reminder due", "identifier", req.Identifier, "body", req.Body)
			return nil
		}), logger, dispatchInterval)

	refreshTrigger, err := trigger.New(cfg.Refresh.Schedule, manager, logger)
	if err != nil {
		return fmt.Errorf("creating refresh trigger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := manager.Refresh(ctx); err != nil {
		// The trigger retries on schedule; a cold start with the platform
		// down still serves cached state.
		logger.Warn("initial refresh failed", "error", err)
	}

	refreshTrigger.Start(ctx)
	dispatcher.Start(ctx)

	srv := server.New(cfg.Server.Addr, manager, logger,
		server.WithNextRun(func() *time.Time {
			next := refreshTrigger.NextRun()
			return &next
		}),
		server.WithMetricsHandler(metricsHandler),
	)

	err = srv.Run(ctx)
	dispatcher.Wait()
	return err
}

func parseArgs() Args {
	configPath := flag.String("config", "", "Path to config file")
	configPathShort := flag.String("c", "", "Path to config file (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nburstd - study burst scheduling daemon\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --config /etc/burstd/config.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -c config.yaml\n", os.Args[0])
	}

	flag.Parse()

	path := *configPath
	if path == "" && *configPathShort != "" {
		path = *configPathShort
	}

	return Args{ConfigPath: path}
}
