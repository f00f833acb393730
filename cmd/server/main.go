package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/yourusername/unreal-server-manager/internal/api"
	"github.com/yourusername/unreal-server-manager/internal/archive"
	"github.com/yourusername/unreal-server-manager/internal/config"
	"github.com/yourusername/unreal-server-manager/internal/console"
	"github.com/yourusername/unreal-server-manager/internal/database"
	"github.com/yourusername/unreal-server-manager/internal/events"
	"github.com/yourusername/unreal-server-manager/internal/logging"
	"github.com/yourusername/unreal-server-manager/internal/metrics"
	"github.com/yourusername/unreal-server-manager/internal/supervisor"
	"github.com/yourusername/unreal-server-manager/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logging.Close()

	// Check if running migrations
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrations(cfg, os.Args[2:])
		return
	}

	// Initialize database
	db, err := database.Open(cfg.Database.Path, cfg.Database.MaxConnections)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run migrations automatically
	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations completed successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	defer bus.Close()

	sup := supervisor.New(bus, supervisor.Options{
		StopGracePeriod: cfg.Supervisor.StopGrace(),
		SampleInterval:  cfg.Supervisor.Interval(),
		LogBufferSize:   cfg.Supervisor.LogBufferSize,
		SampleHistory:   cfg.Supervisor.SampleHistory,
		CleanExitCodes:  cfg.Supervisor.CleanExitCodes,
		ReaderGrace:     cfg.Supervisor.ReaderGraceDuration(),
		Logger:          logging.Component("Supervisor"),
	})

	// Registered before any server can start, so an early signal still
	// reaches ShutdownAll.
	sigCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// Whatever happens below, no managed process may outlive us.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic: %v, stopping all servers", r)
			sup.ShutdownAll(0)
			panic(r)
		}
	}()

	// Initialize activity logger before any server can change state
	logDir := filepath.Join(cfg.Storage.DataDir, "logs", "activity")
	activityLogger, err := logging.NewActivityLogger(db.DB, logDir)
	if err != nil {
		log.Fatalf("Failed to initialize activity logger: %v", err)
	}
	defer activityLogger.Close()
	go activityLogger.Run(ctx, logging.Subscribe(bus))

	// Start metrics recorder
	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder(cfg.Metrics, db.DB)
		if err := recorder.Start(ctx, metrics.Subscribe(bus)); err != nil {
			log.Fatalf("Failed to start metrics recorder: %v", err)
		}
	}

	// Mirror console output to rotated files
	var mirror *console.Mirror
	if cfg.Supervisor.ConsoleFiles {
		mirror = console.NewMirror(console.LogWriterConfig{
			LogDir:     cfg.Storage.ConsoleDir,
			MaxSizeMB:  cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAge,
			Compress:   true,
		})
		go mirror.Run(ctx, console.Subscribe(bus))
	}

	// Initialize log archival
	var archives *archive.Manager
	if cfg.Archive.Enabled {
		archives = setupArchives(ctx, cfg, db, sup, activityLogger)
	}

	// Initialize WebSocket hub
	log.Println("Initializing WebSocket hub...")
	hub := websocket.NewHub()
	go hub.Run(ctx)
	go hub.Bridge(ctx, bus.Subscribe(events.Filter{}, 0))

	// Register persisted servers
	serverManager, err := config.NewServerManager(cfg.Storage.ConfigDir)
	if err != nil {
		log.Fatalf("Failed to initialize server manager: %v", err)
	}
	registerServers(sigCtx, sup, serverManager)

	log.Println("All server components initialized successfully")

	onRemove := []func(string){}
	if mirror != nil {
		onRemove = append(onRemove, func(id string) {
			if err := mirror.Release(id); err != nil {
				log.Printf("Failed to close console file of %s: %v", id, err)
			}
		})
	}
	if recorder != nil {
		onRemove = append(onRemove, recorder.Forget)
	}

	// Set up HTTP server
	router, shutdownOps := api.SetupRouter(cfg, api.Services{
		Supervisor:     sup,
		ServerManager:  serverManager,
		ActivityLogger: activityLogger,
		Recorder:       recorder,
		Archives:       archives,
		Hub:            hub,
		OnRemove:       onRemove,
	})

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", server.Addr)

		var err error
		if cfg.Server.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	select {
	case <-sigCtx.Done():
		log.Println("Received shutdown signal, shutting down...")
	case err := <-serverErr:
		log.Printf("HTTP server failed: %v, shutting down...", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Wait for background operations
	shutdownOps()

	log.Printf("Stopping all managed servers (timeout %s)...", cfg.Supervisor.Shutdown())
	sup.ShutdownAll(cfg.Supervisor.Shutdown())

	// Let the subscribers record the final transitions before closing
	cancel()
	bus.Close()

	log.Println("Server exited")
}

// registerServers adds every persisted server to the supervisor and starts
// the ones marked auto_start. Invalid definitions are skipped. Once ctx is
// done nothing more is started.
func registerServers(ctx context.Context, sup *supervisor.Supervisor, serverManager *config.ServerManager) {
	for _, def := range serverManager.GetAll() {
		serverConfig, err := def.ToServerConfig()
		if err != nil {
			log.Printf("Skipping server %s: %v", def.ID, err)
			continue
		}
		if _, err := sup.AddServer(serverConfig); err != nil {
			log.Printf("Skipping server %s: %v", def.ID, err)
			continue
		}
		if def.AutoStart && ctx.Err() == nil {
			if err := sup.Start(ctx, def.ID); err != nil {
				log.Printf("Auto-start of %s failed: %v", def.ID, err)
			}
		}
	}
}

func setupArchives(ctx context.Context, cfg *config.Config, db *database.DB, sup *supervisor.Supervisor, activityLogger *logging.ActivityLogger) *archive.Manager {
	destinations := make([]*archive.DestinationConfig, 0, len(cfg.Archive.Destinations))
	for _, dest := range cfg.Archive.Destinations {
		destinations = append(destinations, archive.DestinationFromConfig(dest, cfg.Security.SSH))
	}
	if len(destinations) == 0 {
		destinations = append(destinations, &archive.DestinationConfig{Type: "local", Path: cfg.Storage.ArchiveDir})
	}

	manager := archive.NewManager(db.DB, sup, archive.Options{
		Destinations:     destinations,
		RetentionCount:   cfg.Archive.RetentionCount,
		CompressionLevel: cfg.Archive.CompressionLevel,
		OnArchive: func(serverID, filename string, err error) {
			if logErr := activityLogger.LogArchive(serverID, filename, err); logErr != nil {
				log.Printf("Failed to log archive of %s: %v", serverID, logErr)
			}
		},
	})

	if strings.TrimSpace(cfg.Archive.Schedule) != "" {
		if err := manager.StartSchedule(ctx, cfg.Archive.Schedule); err != nil {
			log.Fatalf("Invalid archive schedule %q: %v", cfg.Archive.Schedule, err)
		}
	}
	return manager
}

func setupLogging(cfg *config.Config) error {
	if cfg != nil && strings.TrimSpace(cfg.Logging.File) == "" {
		dataDir := cfg.Storage.DataDir
		if dataDir == "" {
			dataDir = "./data"
		}
		cfg.Logging.File = filepath.Join(dataDir, "logs", "server.log")
	}
	if cfg != nil && strings.TrimSpace(cfg.Logging.File) != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			return err
		}
	}
	_, err := logging.Init(cfg.Logging)
	return err
}

// runMigrations applies pending migrations, or with "down" reverts the
// latest one.
func runMigrations(cfg *config.Config, args []string) {
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if len(args) > 0 && args[0] == "down" {
		log.Println("Reverting latest migration...")
		if err := db.Rollback(); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Rollback completed successfully")
		return
	}

	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("Migrations completed successfully")
}
