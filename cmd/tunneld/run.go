package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/creamcroissant/tunneld/internal/bootstrap"
	"github.com/creamcroissant/tunneld/internal/command"
	"github.com/creamcroissant/tunneld/internal/config"
	"github.com/creamcroissant/tunneld/internal/engine"
	"github.com/creamcroissant/tunneld/internal/engine/extproc"
	"github.com/creamcroissant/tunneld/internal/eventbus"
	"github.com/creamcroissant/tunneld/internal/job"
	"github.com/creamcroissant/tunneld/internal/logring"
	"github.com/creamcroissant/tunneld/internal/migrations"
	"github.com/creamcroissant/tunneld/internal/monitor"
	"github.com/creamcroissant/tunneld/internal/profile"
	"github.com/creamcroissant/tunneld/internal/repository/sqlite"
	"github.com/creamcroissant/tunneld/internal/supervisor"
	"github.com/creamcroissant/tunneld/internal/support/hash"
	"github.com/creamcroissant/tunneld/internal/support/logging"
)

var runStart bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor daemon",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&runStart, "start", false, "start the service immediately instead of resuming the previous state")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:     logging.ParseLevel(cfg.Log.Level),
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	if err != nil {
		return err
	}

	db, err := bootstrap.OpenSQLite(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.Up(db); err != nil {
		return err
	}
	store := sqlite.NewStore(db)

	settings := profile.NewSettings(store.Settings())
	fetcher := profile.NewFetcher(profile.FetchConfig{Timeout: cfg.Jobs.FetchTimeout})
	profiles := profile.NewManager(store, settings, fetcher, logger)

	runtime, err := engine.Initialize(engine.Options{
		BaseDir: cfg.Paths.BaseDir,
		TempDir: cfg.Paths.TempDir,
		LogPath: cfg.Paths.LogFile,
	})
	if err != nil {
		return err
	}

	factory, err := extproc.NewFactory(extproc.Config{
		Binary:      cfg.Engine.Binary,
		ExtraArgs:   cfg.Engine.ExtraArgs,
		StopTimeout: cfg.Engine.StopTimeout,
	}, runtime, logger)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	ring := logring.New(cfg.Log.RingLines)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := supervisor.New(supervisor.Options{
		Factory:  factory,
		Platform: engine.NewHostPlatform(logger),
		Runtime:  runtime,
		Profiles: profiles,
		Flags:    settings,
		Bus:      bus,
		Logs:     ring,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	hasher, err := hash.NewBcryptHasher(cfg.Command.Auth.BcryptCost)
	if err != nil {
		return err
	}
	var tokens *command.TokenManager
	if cfg.Command.Auth.SigningKey != "" {
		tokens, err = command.NewTokenManager([]byte(cfg.Command.Auth.SigningKey), cfg.Command.Auth.Issuer, cfg.Command.Auth.SessionTTL)
		if err != nil {
			return err
		}
	}
	auth := command.NewAuthenticator(settings, hasher, tokens).
		WithLimiter(command.NewAuthLimiter(10, time.Minute))

	handler := command.NewHandler(command.HandlerOptions{
		Service:  svc,
		Profiles: profiles,
		Logs:     ring,
		Monitor:  monitor.New(),
		Bus:      bus,
		Gatherer: registry,
		Auth:     auth,
		Logger:   logger,
	})
	server, err := command.NewServer(command.ServerConfig{
		SocketPath: cfg.Command.SocketPath,
		Listen:     cfg.Command.Listen,
	}, handler, logger)
	if err != nil {
		return err
	}
	svc.SetCommandServer(server)

	scheduler := job.NewScheduler(logger)
	if _, err := scheduler.Register(cfg.Jobs.ProfileRefreshSpec, job.NewProfileRefresh(profiles, bus, logger)); err != nil {
		return err
	}
	if _, err := scheduler.Register(cfg.Jobs.TempSweepSpec, job.NewTempSweep(runtime, cfg.Jobs.TempMaxAge, logger)); err != nil {
		return err
	}
	scheduler.Start()

	// A stop through the control API also ends the daemon: with the
	// command server gone there is nothing left to reach it by.
	// Subscribed before the initial start so a stop arriving right
	// after startup is not missed.
	stopSignals, cancelStopWatch := bus.Subscribe(4)
	defer cancelStopWatch()

	resume, err := settings.StartedByUser(ctx)
	if err != nil {
		logger.Warn("read started flag", "error", err)
	}
	if runStart || resume {
		if err := svc.Start().Wait(ctx); err != nil {
			logger.Error("initial start failed", "error", err)
		}
	} else {
		logger.Info("service idle, waiting for start", "socket", cfg.Command.SocketPath)
	}

	if sig, requested := awaitShutdown(ctx, stopSignals); requested {
		logger.Info("stop requested, shutting down", "signal", sig.String())
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := svc.Stop().Wait(stopCtx); err != nil {
			logger.Warn("stop on request", "error", err)
		}
		cancel()
	} else {
		logger.Info("shutting down")
	}

	<-scheduler.Stop().Done()

	// Close tears down a service still running at host shutdown
	// without clearing the resume flag, so it starts again next boot.
	if err := svc.Close(); err != nil {
		logger.Warn("close supervisor", "error", err)
	}
	return nil
}

// awaitShutdown blocks until the daemon should exit: either the host
// context is cancelled or a stop signal arrives on the bus. Profile
// changes and other signals do not end the daemon.
func awaitShutdown(ctx context.Context, signals <-chan eventbus.Signal) (eventbus.Signal, bool) {
	for {
		select {
		case <-ctx.Done():
			return 0, false
		case sig, ok := <-signals:
			if !ok {
				return 0, false
			}
			if sig == eventbus.SignalStopRequested || sig == eventbus.SignalPermissionRevoked {
				return sig, true
			}
		}
	}
}
