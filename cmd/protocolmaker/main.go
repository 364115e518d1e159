package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"protocolmaker/internal/app"
	applogger "protocolmaker/internal/logger"
	"protocolmaker/internal/metrics"
)

const (
	version           = "1.0"
	defaultHealthFile = "/tmp/protocolmaker-health.json"
)

// main is the application entry point and orchestrator setup
func main() {
	var (
		helpFlag    = flag.Bool("help", false, "Show help message")
		versionFlag = flag.Bool("version", false, "Show version information")
		healthFlag  = flag.Bool("health", false, "Check application health status")
	)
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	if *healthFlag {
		os.Exit(checkHealth())
	}

	if err := runApplication(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}

// runApplication contains the core application logic that can be tested
func runApplication() error {
	logger := applogger.NewLogger()
	defer logger.Sync()

	logger.Info("protocol maker starting up",
		zap.String("component", "main"),
		zap.String("version", version))

	application, err := app.NewApplication()
	if err != nil {
		logger.Error("failed to create application",
			zap.Error(err),
			zap.String("component", "main"))
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("application runtime error",
			zap.Error(err),
			zap.String("component", "main"))
		_ = application.Shutdown()
		return fmt.Errorf("application runtime error: %w", err)
	}

	logger.Info("performing application shutdown", zap.String("component", "main"))
	if err := application.Shutdown(); err != nil {
		logger.Error("error during application shutdown",
			zap.Error(err),
			zap.String("component", "main"))
		return fmt.Errorf("application shutdown error: %w", err)
	}

	logger.Info("protocol maker stopped successfully", zap.String("component", "main"))
	return nil
}

// printHelp displays command line usage information
func printHelp() {
	fmt.Println("Protocol Maker - Meeting Audio Transcription and Protocol Generation")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("    protocolmaker [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("    -help      Show this help message")
	fmt.Println("    -version   Show version information")
	fmt.Println("    -health    Check application health status")
	fmt.Println()
	fmt.Println("CONFIGURATION:")
	fmt.Println("    Configuration is loaded from environment variables and an optional .env file,")
	fmt.Println("    or from the YAML file named by CONFIG_PATH. See config.example.yaml.")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("    protocolmaker              # Run with default configuration")
	fmt.Println("    protocolmaker -version     # Show version")
	fmt.Println("    protocolmaker -health      # Check health (for Docker healthcheck)")
}

// printVersion displays version and build information
func printVersion() {
	fmt.Println("Protocol Maker")
	fmt.Printf("Version: %s\n", version)
	fmt.Println("Architecture: Go 1.24 + FFmpeg + AssemblyAI + OpenAI Assistants")
}

// checkHealth checks the health file named by HEALTH_FILE, or the default one
func checkHealth() int {
	path := os.Getenv("HEALTH_FILE")
	if path == "" {
		path = defaultHealthFile
	}
	return checkHealthWithFile(afero.NewOsFs(), path)
}

// checkHealthWithFile reports the status found in the given health file as an exit code
func checkHealthWithFile(fsys afero.Fs, healthFile string) int {
	if err := metrics.CheckFile(fsys, healthFile, time.Now()); err != nil {
		fmt.Printf("UNHEALTHY: %v\n", err)
		return 1
	}

	fmt.Println("HEALTHY: Application is functioning normally")
	return 0
}
