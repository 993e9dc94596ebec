package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"picocontrol/api"
	"picocontrol/config"
	"picocontrol/picotool"
	"picocontrol/project"
	"picocontrol/service"
	"picocontrol/store"
)

// setupLogging creates a log file in the log directory with timestamp
// Returns the log file handle (caller should defer Close())
func setupLogging(logDir string) (*os.File, io.Writer, error) {
	// Create log directory if not exists
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, os.Stdout, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Create log file with timestamp: log/2025-12-08_21-52-35.log
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, timestamp+".log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, os.Stdout, fmt.Errorf("failed to open log file: %w", err)
	}

	// Write to both console and file
	multiWriter := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multiWriter)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	log.Printf("📝 Logging to: %s", logPath)
	return logFile, multiWriter, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	configPath := flag.String("config", "", "path to picocontrol.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup file logging
	logFile, out, err := setupLogging(cfg.Logging.Dir)
	if err != nil {
		log.Printf("Warning: Failed to setup file logging: %v", err)
	} else {
		defer logFile.Close()
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))
	slog.SetDefault(logger)

	log.Println("Starting Pico Control Backend...")
	if cfg.Source != "" {
		log.Printf("Config loaded from %s", cfg.Source)
	}

	db, err := config.InitDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	registry := store.New(db)

	// Initialize services
	picotoolClient := picotool.NewClient(cfg.Tools.Picotool)
	picotoolClient.Timeout = cfg.Discovery.Timeout
	deviceManager := service.NewDeviceManager(picotoolClient, registry, logger)
	taskRunner := service.NewTaskRunner(logger)
	tooling := service.NewTooling(taskRunner, picotoolClient, service.ToolPaths{
		OpenOCD:        cfg.Tools.OpenOCD,
		OpenOCDScripts: cfg.Tools.OpenOCDScripts,
		Minicom:        cfg.Tools.Minicom,
	}, cfg.Workspace.Root, cfg.Monitor.Port, cfg.Monitor.Baud, logger)
	projects := project.NewService(project.Options{
		Resources:        os.DirFS(cfg.Resources.Dir),
		Registry:         registry,
		Tasks:            taskRunner,
		Logger:           logger,
		PreserveComments: cfg.Workspace.PreserveComments,
		Root:             cfg.Workspace.Root,
		Toolchain: project.Toolchain{
			GDB:            cfg.Tools.GDB,
			OpenOCD:        cfg.Tools.OpenOCD,
			OpenOCDScripts: cfg.Tools.OpenOCDScripts,
		},
	})

	// Initialize WebSocket hub
	wsHub := api.NewWebSocketHub()
	go wsHub.Run()
	deviceManager.SetBroadcaster(wsHub)

	// Setup HTTP server
	router := gin.Default()
	api.SetupRoutes(router, &api.Services{
		Devices:        deviceManager,
		Projects:       projects,
		Tasks:          taskRunner,
		Tooling:        tooling,
		History:        registry,
		Hub:            wsHub,
		Workspace:      cfg.Workspace.Root,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Poll picotool in background
	go func() {
		log.Printf("🔌 Polling picotool every %s", cfg.Discovery.PollInterval)
		deviceManager.Run(ctx, cfg.Discovery.PollInterval)
	}()

	log.Printf("Server starting on http://%s", cfg.Server.Addr)
	log.Printf("WebSocket server on ws://%s/ws", cfg.Server.Addr)

	go func() {
		if err := router.Run(cfg.Server.Addr); err != nil {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
}
