// Package main is the entry point for the guard sidecar server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"actionguard/internal/config"
	"actionguard/internal/guard"
	guardhttp "actionguard/internal/http"
	"actionguard/internal/multiagent"
	"actionguard/internal/observability"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting guard sidecar",
		zap.String("version", version),
		zap.String("host", cfg.Sidecar.Host),
		zap.Int("port", cfg.Sidecar.Port),
	)

	// Assemble the guard
	g, err := guard.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build guard: %w", err)
	}

	// Attach AWS-backed options when configured
	if err := attachAWS(cfg, g, logger); err != nil {
		return err
	}

	// Initialize router
	router := guardhttp.NewRouter(guardhttp.RouterConfig{
		Logger: logger,
		Guard:  g,
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Sidecar.Host, cfg.Sidecar.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// attachAWS wires the S3 audit exporter and the DynamoDB trust store
// when the configuration asks for them.
func attachAWS(cfg *config.Config, g *guard.Guard, logger *zap.Logger) error {
	wantS3 := cfg.Observability.S3Bucket != "" && containsString(cfg.Observability.Exporters, "s3")
	wantDDB := cfg.TrustStore.DynamoDBTable != ""
	if !wantS3 && !wantDDB {
		return nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Observability.AWSRegion))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	if wantS3 {
		g.AddExporter(observability.NewS3Exporter(
			s3.NewFromConfig(awsCfg), cfg.Observability.S3Bucket, "audit"))
		logger.Info("s3 audit exporter attached", zap.String("bucket", cfg.Observability.S3Bucket))
	}
	if wantDDB {
		g.TrustLedger().WithStore(multiagent.NewDynamoDBTrustStore(
			dynamodb.NewFromConfig(awsCfg), cfg.TrustStore.DynamoDBTable))
		logger.Info("dynamodb trust store attached", zap.String("table", cfg.TrustStore.DynamoDBTable))
	}
	return nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}
