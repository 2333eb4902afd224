package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/exchange-calendar-service/internal/calendar"
	"github.com/dgnsrekt/exchange-calendar-service/internal/config"
	"github.com/dgnsrekt/exchange-calendar-service/internal/metrics"
	"github.com/dgnsrekt/exchange-calendar-service/internal/provider"
	"github.com/dgnsrekt/exchange-calendar-service/internal/refresh"
	"github.com/dgnsrekt/exchange-calendar-service/internal/server"
)

func main() {
	os.Exit(run())
}

func setupLogger(logCfg config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if logCfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}

	// Set log level from config
	if logCfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(level)
		}
	}

	// Add file output if enabled
	if logCfg.Enabled {
		if err := os.MkdirAll(logCfg.Directory, 0755); err != nil {
			return nil, fmt.Errorf("creating logs directory: %w", err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		logFile := filepath.Join(logCfg.Directory, fmt.Sprintf("server_%s.log", timestamp))
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, logFile)
	}

	return zapConfig.Build()
}

func run() int {
	configPath := flag.String("config", os.Getenv("EXCHANGE_CALENDAR_SERVICE_CONFIG"), "config file path")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Setup logger
	logger, err := setupLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.Int("venues", len(cfg.Venues)),
		zap.String("factsDir", cfg.Provider.FactsDir),
		zap.Bool("scmhub", cfg.Provider.Scmhub),
		zap.String("refreshSchedule", cfg.Provider.RefreshSchedule),
		zap.Int("yearWindow", cfg.Search.YearWindow),
		zap.Bool("adminEnabled", cfg.Admin.Enabled()),
	)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Provider stack: the built-in calendars with fact files as overrides,
	// and administrative change sets on top.
	start := time.Now()
	files, err := provider.NewFiles(cfg.Provider.FactsDir, logger)
	if err != nil {
		logger.Error("failed to load calendar facts", zap.Error(err))
		return 1
	}
	var base provider.Provider = files
	if cfg.Provider.Scmhub {
		year := time.Now().Year()
		base = provider.Overlay{
			Base:      provider.NewScmhub(year-cfg.Search.YearWindow, year+cfg.Search.YearWindow),
			Overrides: files,
		}
	}
	patched := provider.NewPatched(base)

	venues := make([]calendar.Venue, len(cfg.Venues))
	for i, v := range cfg.Venues {
		venues[i] = calendar.Venue{MIC: v.MIC, Name: v.Name}
	}
	service := calendar.NewService(calendar.NewRegistry(venues), patched, calendar.Options{
		YearWindow:           cfg.Search.YearWindow,
		ClassifyDayCacheSize: cfg.Cache.ClassifyDaySize,
		SearchCacheSize:      cfg.Cache.SearchSize,
		Metrics:              m,
	}, logger)

	if err := service.Warm(); err != nil {
		logger.Error("failed to load venues", zap.Error(err))
		return 1
	}
	logger.Info("venues loaded", zap.Duration("duration", time.Since(start)))

	// Periodic reload (optional)
	var scheduler *refresh.Scheduler
	if cfg.Provider.RefreshSchedule != "" {
		scheduler = refresh.New(logger)
		if err := scheduler.AddJob(cfg.Provider.RefreshSchedule, refresh.NewFactsJob(files, service)); err != nil {
			logger.Error("failed to schedule refresh", zap.Error(err))
			return 1
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Admin updates (optional)
	var updater *server.Updater
	if cfg.Admin.Enabled() {
		updater = server.NewUpdater(patched, service, cfg.Admin.APIKey, cfg.Admin.RequestsPerSecond, cfg.Admin.Burst, m, logger)
	}

	router := server.NewRouter(server.NewServer(service, updater, reg, logger), logger)

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	logger.Info("shutting down server...")

	// Graceful HTTP server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}
