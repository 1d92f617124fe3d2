package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/chainwatch/internal/bus"
	"github.com/basket/chainwatch/internal/config"
	"github.com/basket/chainwatch/internal/engine"
	"github.com/basket/chainwatch/internal/gateway"
	"github.com/basket/chainwatch/internal/monitor"
	"github.com/basket/chainwatch/internal/otel"
	"github.com/basket/chainwatch/internal/persistence"
	"github.com/basket/chainwatch/internal/provider"
	"github.com/basket/chainwatch/internal/telemetry"
	"github.com/basket/chainwatch/internal/tools"
	"github.com/basket/chainwatch/internal/trace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chainwatch:", err)
		os.Exit(1)
	}
}

func run() error {
	homeFlag := flag.String("home", "", "data directory (default $CHAINWATCH_HOME or ~/.chainwatch)")
	bindFlag := flag.String("bind", "", "listen address (overrides config)")
	quietFlag := flag.Bool("quiet", false, "suppress stdout logging")
	sweepFlag := flag.Bool("sweep", false, "run one monitoring sweep and exit")
	flag.Parse()

	homeDir := *homeFlag
	if homeDir == "" {
		homeDir = config.DefaultHomeDir()
	}
	cfg, err := config.LoadFrom(homeDir)
	if err != nil {
		return err
	}
	if *bindFlag != "" {
		cfg.BindAddr = *bindFlag
	}

	// Interactive sessions mirror logs to stdout; otherwise the JSONL file
	// is the log of record.
	interactive := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	quiet := *quietFlag || !interactive
	logger, logCloser, err := telemetry.NewLogger(homeDir, cfg.LogLevel, quiet)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProvider, err := otel.Init(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(shutdownCtx)
	}()

	store, err := persistence.Open(persistence.DefaultDBPath(homeDir))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if err := store.SeedOrders(ctx, demoOrders()); err != nil {
		logger.Warn("seed demo orders failed", "error", err)
	}

	eventBus := bus.New()
	tracer := trace.NewTracer(store, eventBus, logger)
	trigger := engine.NewActionTrigger(store, eventBus, logger, cfg.Thresholds)

	registry, err := buildRegistry(cfg, tracer, store, logger)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	logger.Info("tool registry ready", "tools", registry.Names())

	loop := engine.NewLoop(registry, tracer, trigger, cfg, logger)

	if *sweepFlag {
		mon, err := monitor.New(monitor.Config{
			Registry: registry, Tracer: tracer, Trigger: trigger,
			Bus: eventBus, Logger: logger, Monitor: cfg.Monitor,
		})
		if err != nil {
			return err
		}
		mon.Sweep(ctx)
		return nil
	}

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		mon, err = monitor.New(monitor.Config{
			Registry: registry, Tracer: tracer, Trigger: trigger,
			Bus: eventBus, Logger: logger, Monitor: cfg.Monitor,
		})
		if err != nil {
			return fmt.Errorf("init monitor: %w", err)
		}
		mon.Start(ctx)
		defer mon.Stop()
	}

	watcher := config.NewWatcher(homeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				reloaded, err := config.LoadFrom(homeDir)
				if err != nil {
					logger.Error("config reload failed", "error", err)
					continue
				}
				trigger.SetThresholds(reloaded.Thresholds)
				loop.SetConfig(reloaded)
				logger.Info("config reloaded", "home", homeDir)
			}
		}()
	}

	server := gateway.New(gateway.Config{
		Loop:   loop,
		Tracer: tracer,
		Store:  store,
		Bus:    eventBus,
		Logger: logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("gateway: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildRegistry wires the provider chains and registers every tool.
func buildRegistry(cfg config.Config, tracer *trace.Tracer, store *persistence.Store, logger *slog.Logger) (*tools.Registry, error) {
	timeout := cfg.ProviderTimeout()
	httpClient := &http.Client{Timeout: timeout + 2*time.Second}

	flightChain, err := provider.NewChain(tools.CapabilityFlight, timeout, logger,
		[]provider.Provider{
			provider.NewAviationStackProvider(cfg.APIKey("aviationstack"), httpClient),
			provider.NewOpenSkyProvider(httpClient),
		},
		provider.NewDemoFlightProvider(),
	)
	if err != nil {
		return nil, err
	}
	vesselChain, err := provider.NewChain(tools.CapabilityVessel, timeout, logger,
		[]provider.Provider{
			provider.NewAISStreamProvider(cfg.APIKey("aisstream"), httpClient),
		},
		provider.NewDemoVesselProvider(),
	)
	if err != nil {
		return nil, err
	}
	geoChain, err := provider.NewChain(tools.CapabilityGeo, timeout, logger,
		[]provider.Provider{
			provider.NewGDELTProvider(httpClient),
			provider.NewNewsAPIProvider(cfg.APIKey("newsapi"), httpClient),
		},
		provider.NewDemoGeoProvider(),
	)
	if err != nil {
		return nil, err
	}
	searchChain, err := provider.NewChain(tools.CapabilitySearch, timeout, logger,
		[]provider.Provider{
			provider.NewSerpAPIProvider(cfg.APIKey("serpapi"), httpClient),
			provider.NewNewsSearchProvider(cfg.APIKey("newsapi"), httpClient),
		},
		provider.NewDemoSearchProvider(),
	)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(tracer, logger)
	for _, t := range []*tools.Tool{
		tools.NewTrackFlightTool(flightChain),
		tools.NewTrackVesselTool(vesselChain),
		tools.NewScanGeopoliticalTool(geoChain),
		tools.NewSearchEventsTool(searchChain),
		tools.NewAnalyzeRisksTool(store, cfg.Thresholds),
		tools.NewSimulateCrisisTool(store, cfg.Thresholds),
		tools.NewAssessSupplierRiskTool(store, cfg.Thresholds, cfg.HighRiskRegions),
		tools.NewPredictiveAnalyticsTool(store, cfg.Thresholds, cfg.HighRiskRegions),
	} {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// demoOrders seed the order book on first run so the risk tools have data.
func demoOrders() []persistence.Order {
	return []persistence.Order{
		{OrderID: "ORD-1001", Supplier: "TSMC", Origin: "Hsinchu, Taiwan", Destination: "Austin, USA", ValueUSD: 48000, Status: "in_transit", RiskLevel: "high", Carrier: "FDX134", ETA: "2026-09-03"},
		{OrderID: "ORD-1002", Supplier: "TSMC", Origin: "Taichung, Taiwan", Destination: "Phoenix, USA", ValueUSD: 31500, Status: "in_transit", RiskLevel: "critical", Carrier: "FDX789", ETA: "2026-09-05"},
		{OrderID: "ORD-1003", Supplier: "Samsung", Origin: "Busan, South Korea", Destination: "Rotterdam, Netherlands", ValueUSD: 22000, Status: "in_transit", RiskLevel: "medium", Carrier: "MAERSK DENVER", ETA: "2026-09-19"},
		{OrderID: "ORD-1004", Supplier: "Intel", Origin: "Chandler, USA", Destination: "Penang, Malaysia", ValueUSD: 15400, Status: "in_transit", RiskLevel: "low", Carrier: "UPS2901", ETA: "2026-09-02"},
		{OrderID: "ORD-1005", Supplier: "Foxconn", Origin: "Shenzhen, China", Destination: "Memphis, USA", ValueUSD: 9800, Status: "in_transit", RiskLevel: "medium", Carrier: "DHL456", ETA: "2026-09-04"},
		{OrderID: "ORD-1006", Supplier: "Infineon", Origin: "Dresden, Germany", Destination: "Singapore", ValueUSD: 12700, Status: "customs_hold", RiskLevel: "high", Carrier: "OOCL HAMBURG", ETA: "2026-09-22"},
		{OrderID: "ORD-1007", Supplier: "TSMC", Origin: "Kaohsiung, Taiwan", Destination: "San Jose, USA", ValueUSD: 8600, Status: "in_transit", RiskLevel: "high", Carrier: "EVER FORTUNE", ETA: "2026-09-12"},
	}
}
