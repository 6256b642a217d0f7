// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "instrument-service/docs"
	"instrument-service/internal/config"
	"instrument-service/internal/database"
	internalDriver "instrument-service/internal/driver"
	"instrument-service/internal/repository"
	"instrument-service/internal/routes"
	"instrument-service/internal/service"
	"instrument-service/internal/store"
	"instrument-service/internal/utils"
	"instrument-service/pkg/driver"
)

const memoryEventCapacity = 10000

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	router   *routes.Router
	database *database.DB

	// Services
	instrumentService *service.InstrumentService
	discoveryService  *service.DiscoveryService
	eventBus          *service.EventBus

	// Persistence
	kv        store.KeyValueStore
	eventRepo repository.EventRepository

	driverRegistry *internalDriver.Registry

	ctx    context.Context
	cancel context.CancelFunc
}

// @title Instrument Service API
// @version 1.0.0
// @description Connection, discovery and protocol access for laboratory instruments

// @host localhost:8084
// @BasePath /api/v1
func main() {
	configPath := flag.String("config", "", "path to config file")
	migrate := flag.String("migrate", "", "run a schema command (up, down, version) and exit")
	forceVersion := flag.Int("force-version", -1, "mark the schema as this version and exit")
	flag.Parse()

	if *migrate != "" || *forceVersion >= 0 {
		if err := runMigrationCommand(*configPath, *migrate, *forceVersion); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg.App)

	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"database", app.initializeDatabase},
		{"repositories", app.initializeRepositories},
		{"driver registry", app.initializeDriverRegistry},
		{"services", app.initializeServices},
		{"server", app.initializeServer},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	return app, nil
}

// initializeDatabase connects and migrates when the postgres store is used
func (app *Application) initializeDatabase() error {
	if app.config.Store.Backend != "postgres" {
		app.logger.Info("Database disabled", zap.String("store", app.config.Store.Backend))
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	if app.config.Database.AutoMigrate {
		migrator := database.NewMigrator(db, app.logger)
		if _, dirty, err := migrator.Version(); err == nil && dirty {
			return fmt.Errorf("database schema is dirty, fix it and rerun with -force-version")
		}
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeRepositories creates the port store and the event repository
func (app *Application) initializeRepositories() error {
	kv, err := store.New(&app.config.Store, app.database, app.logger)
	if err != nil {
		return err
	}
	app.kv = kv

	if app.database != nil {
		app.eventRepo = repository.NewEventRepository(app.database, app.logger)
	} else {
		app.eventRepo = repository.NewMemoryEventRepository(memoryEventCapacity)
	}

	app.logger.Info("Repositories initialized successfully", zap.String("store", app.config.Store.Backend))
	return nil
}

// initializeDriverRegistry sets up instrument driver registry
func (app *Application) initializeDriverRegistry() error {
	app.driverRegistry = internalDriver.NewRegistry(app.logger)
	internalDriver.RegisterDefaultDrivers(app.driverRegistry, app.logger)

	app.logger.Info("Driver registry initialized successfully",
		zap.Strings("registered_drivers", app.driverRegistry.ListDrivers()),
	)
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.eventBus = service.NewEventBus(app.eventRepo, app.logger)
	go app.eventBus.Start(app.ctx)

	app.discoveryService = service.NewDiscoveryService(app.config, app.logger)

	instrumentService, err := service.NewInstrumentService(
		app.config,
		app.driverRegistry,
		driver.Deps{
			Transport: app.config.Transport,
			Lister:    app.discoveryService.Lister(),
			Logger:    app.logger,
		},
		app.kv,
		app.eventBus,
		app.eventRepo,
		app.logger,
	)
	if err != nil {
		return err
	}
	app.instrumentService = instrumentService

	app.logger.Info("Services initialized successfully")
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.instrumentService,
		app.discoveryService,
		app.driverRegistry,
		app.eventBus,
	)

	router := routerManager.SetupRouter()
	app.router = routerManager

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)

	return nil
}

// startBackgroundServices connects the instruments and starts the loops
func (app *Application) startBackgroundServices() {
	go func() {
		defer utils.LogPanic(app.logger)
		if app.config.App.ConnectOnStartup {
			app.instrumentService.ConnectAll(app.ctx)
		}
		app.startPolling()
	}()

	go app.startCleanupService()

	app.logger.Info("Background services started")
}

// startPolling polls every online instrument until shutdown
func (app *Application) startPolling() {
	interval := app.config.App.PollInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	app.logger.Info("Instrument polling started", zap.Duration("interval", interval))

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
		}

		for _, inst := range app.instrumentService.List() {
			if !inst.IsOnline() {
				continue
			}
			if _, err := app.instrumentService.Poll(app.ctx, inst.Name); err != nil {
				app.logger.Warn("Poll failed", zap.String("instrument", inst.Name), zap.Error(err))
			}
		}
	}
}

// startCleanupService deletes events older than the retention period
func (app *Application) startCleanupService() {
	defer utils.LogPanic(app.logger)
	retention := app.config.App.EventRetention
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	app.logger.Info("Cleanup service started", zap.Duration("retention", retention))

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(app.ctx, 10*time.Minute)
		deleted, err := app.eventRepo.DeleteOlderThan(ctx, time.Now().Add(-retention))
		cancel()
		if err != nil {
			utils.LogError(app.logger, "Failed to cleanup old events", err)
		} else if deleted > 0 {
			app.logger.Info("Cleaned up old events", zap.Int64("deleted", deleted))
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}
	if err := app.router.Shutdown(ctx); err != nil {
		utils.LogError(app.logger, "WebSocket shutdown error", err)
	}

	// Instruments are closed before the loops stop so the disconnect events
	// still reach the repository
	app.instrumentService.CloseAll(ctx)
	app.cancel()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			utils.LogError(app.logger, "Database close error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start serves HTTP until a shutdown signal arrives
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices()
	app.waitForShutdown()

	return nil
}
