package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/food-classifier/internal/config"
	"github.com/Brownie44l1/food-classifier/internal/handlers"
	"github.com/Brownie44l1/food-classifier/internal/labels"
	"github.com/Brownie44l1/food-classifier/internal/logging"
	"github.com/Brownie44l1/food-classifier/internal/metrics"
	"github.com/Brownie44l1/food-classifier/internal/model"
	"github.com/Brownie44l1/food-classifier/internal/predict"
	"github.com/Brownie44l1/food-classifier/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	classes, err := labels.Load(cfg.Model.ClassesPath)
	if err != nil {
		return err
	}

	defer model.DestroyRuntime()
	classifier, err := model.Build(model.Options{
		ModelPath:      cfg.Model.ModelPath,
		MetadataPath:   cfg.Model.MetadataPath,
		RuntimeLibPath: cfg.Model.RuntimeLibPath,
		CheckpointPath: cfg.Model.CheckpointPath,
		Classes:        classes,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize classifier: %w", err)
	}
	defer classifier.Close()

	db, err := store.Open(ctx, cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New()
	handler := handlers.NewHandler(predict.New(classifier, logger), db, handlers.Options{
		TopK:      cfg.Model.TopK,
		UploadDir: cfg.Upload.Dir,
		MaxBytes:  cfg.Upload.MaxBytes,
		Metrics:   m,
	}, logger)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: handlers.EnableCORS(m.Middleware(handler.Routes())),
	}

	logger.Info("server starting",
		zap.String("addr", srv.Addr),
		zap.String("model", cfg.Model.ModelPath),
		zap.String("checkpoint", cfg.Model.CheckpointPath),
		zap.String("db", cfg.Store.DBPath),
		zap.Strings("classes", classes))
	logger.Info("endpoints",
		zap.String("health", "GET /health"),
		zap.String("predict", "POST /predict (multipart field \"image\")"),
		zap.String("metrics", "GET /metrics"))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
