package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	// Links the pgx driver so SKYSIM_REVIEWS=postgres resolves at runtime.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lucylow/SkySimTacticalGG/internal/api"
	"github.com/lucylow/SkySimTacticalGG/internal/bootstrap"
	"github.com/lucylow/SkySimTacticalGG/internal/logging"
	"github.com/lucylow/SkySimTacticalGG/internal/observability"
)

func main() {
	log := logging.New(logging.FromEnv())
	defer func() { _ = log.Sync() }()

	shutdownTracing, err := observability.InitTracingFromEnv("orchestratord")
	if err != nil {
		log.Fatal("tracing init failed", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	cp, err := bootstrap.NewControlPlaneFromEnv(log)
	if err != nil {
		log.Fatal("bootstrap control plane failed", zap.Error(err))
	}

	port := os.Getenv("SKYSIM_PORT")
	if port == "" {
		port = "8080"
	}
	server := api.NewServer(cp, log)

	log.Info("orchestratord listening", zap.String("port", port))
	if err := http.ListenAndServe(":"+port, server.Handler()); err != nil {
		log.Fatal("orchestratord failed", zap.Error(err))
	}
}
