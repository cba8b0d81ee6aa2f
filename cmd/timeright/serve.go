package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/randytsao24/timeright/internal/api"
	"github.com/randytsao24/timeright/internal/cache"
	"github.com/randytsao24/timeright/internal/config"
	"github.com/randytsao24/timeright/internal/decision"
	"github.com/randytsao24/timeright/internal/location"
	"github.com/randytsao24/timeright/internal/metrics"
	"github.com/randytsao24/timeright/internal/models"
	"github.com/randytsao24/timeright/internal/monitor"
	"github.com/randytsao24/timeright/internal/notify"
	"github.com/randytsao24/timeright/internal/power"
	"github.com/randytsao24/timeright/internal/transit"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. Configuration comes from the environment (and a .env
file if present); flags override it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String(FlagPort, "", "Listen port (overrides PORT)")
	cmd.Flags().String(FlagLogLevel, "", "debug, info, warn or error (overrides LOG_LEVEL)")
	cmd.Flags().String(FlagLogFile, "", "Rotating log file path (overrides LOG_FILE)")
	cmd.Flags().String(FlagStops, "", "Stop catalog, YAML or GTFS stops.txt (overrides STOPS_FILE)")
	cmd.Flags().String(FlagNATSURL, "", "NATS server for decision events (overrides NATS_URL)")
	return cmd
}

// applyFlags copies explicitly set flags over the environment configuration
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	flags.Visit(func(f *pflag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case FlagPort:
			cfg.Port = v
		case FlagLogLevel:
			cfg.LogLevel = v
		case FlagLogFile:
			cfg.LogFile = v
		case FlagStops:
			cfg.StopsFile = v
		case FlagNATSURL:
			cfg.NATSURL = v
		}
	})
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser := cfg.NewLogger()
	defer logCloser.Close()
	slog.SetDefault(logger)

	stops, err := loadStops(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("stop catalog loaded", "stops", stops.Count())

	collector := metrics.NewCollector()

	var bus transit.Fetcher
	if busFetcher := transit.NewBusFetcher(cfg.MTABusAPIKey, cfg.HTTPTimeout); busFetcher.HasAPIKey() {
		bus = busFetcher
	} else {
		logger.Warn("MTA_BUS_API_KEY not set, bus stops will use default arrivals")
	}
	feeds := &transit.Router{
		Stops:  stops,
		Bus:    bus,
		Subway: transit.NewSubwayFetcher(cfg.HTTPTimeout),
	}

	cacheOpts := func(name string) []cache.Option {
		return []cache.Option{
			cache.WithLogger(logger.With("cache", name)),
			cache.WithObserver(collector.Cache(name)),
			cache.WithStaleTTL(cfg.StaleTTL),
			cache.WithFetchTimeout(cfg.FetchTimeout),
			cache.WithMaxFailures(cfg.MaxFailures),
		}
	}
	arrivals := transit.NewArrivalCache(feeds, logger, cacheOpts("arrivals")...)
	alerts := transit.NewAlertService(cfg.HTTPTimeout, logger, cacheOpts("alerts")...)

	channels := []notify.Channel{notify.LogChannel{Logger: logger}}
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = notify.Connect(cfg.NATSURL, logger, collector)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer nc.Drain()
		channels = append(channels, notify.NewNATSChannel(nc, cfg.NATSSubjectPrefix, collector))
		logger.Info("publishing decisions to NATS", "url", cfg.NATSURL, "prefix", cfg.NATSSubjectPrefix)
	}
	notifier := notify.New(channels,
		notify.WithVoice(notify.LogVoice{Logger: logger}),
		notify.WithLogger(logger),
	)

	tracker := location.NewTracker(cfg.PositionMaxAge, nil)
	engine := monitor.NewEngine(collector.SetSessionActive)
	decisions := decision.New(cfg.WalkSpeed)

	deps := api.Deps{
		Stops:    stops,
		Arrivals: arrivals,
		Alerts:   alerts,
		Tracker:  tracker,
		Monitor:  engine,
		NewSession: func(stop models.Stop, pw power.Source) *monitor.Session {
			return monitor.New(stop, tracker, arrivals,
				monitor.WithPowerSource(pw),
				monitor.WithEngine(decisions),
				monitor.WithSignals(decision.DefaultSignals),
				monitor.WithLogger(logger),
				monitor.WithMetrics(collector),
				monitor.WithSinks(notifier),
			)
		},
		Decisions: decisions,
		Signals:   decision.DefaultSignals,
		Timeout:   cfg.HTTPTimeout + 5*time.Second,
	}
	var metricsServer *http.Server
	switch {
	case cfg.MetricsEnabled && cfg.MetricsAddr != "":
		metricsServer = collector.Serve(cfg.MetricsAddr)
	case cfg.MetricsEnabled:
		deps.Metrics = collector.Handler()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.HTTPTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	_ = engine.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	arrivals.Wait()
	return nil
}

func loadStops(ctx context.Context, cfg *config.Config) (*location.StopService, error) {
	stops := location.NewStopService()
	if cfg.DatabaseURL != "" {
		db, err := location.OpenCatalogDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if err := stops.LoadFromDB(ctx, db); err != nil {
			return nil, err
		}
		return stops, nil
	}
	if err := stops.Load(cfg.StopsFile); err != nil {
		return nil, fmt.Errorf("loading stops from %s: %w", cfg.StopsFile, err)
	}
	return stops, nil
}
