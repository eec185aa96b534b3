// Package bootstrap assembles the control plane from environment
// configuration. Every backend has an in-memory default so a bare
// `orchestratord` run works without external services.
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lucylow/SkySimTacticalGG/internal/artifact"
	"github.com/lucylow/SkySimTacticalGG/internal/bus"
	"github.com/lucylow/SkySimTacticalGG/internal/capacity"
	"github.com/lucylow/SkySimTacticalGG/internal/dedup"
	"github.com/lucylow/SkySimTacticalGG/internal/orchestrate"
	"github.com/lucylow/SkySimTacticalGG/internal/race"
	"github.com/lucylow/SkySimTacticalGG/internal/registry"
	"github.com/lucylow/SkySimTacticalGG/internal/review"
	"github.com/lucylow/SkySimTacticalGG/internal/router"
	"github.com/lucylow/SkySimTacticalGG/internal/runner"
	"github.com/lucylow/SkySimTacticalGG/internal/worker"
)

// ControlPlane bundles everything the daemon serves: the orchestrator plus
// the catalog and ledger the workers API reads.
type ControlPlane struct {
	Orchestrator *orchestrate.Orchestrator
	Registry     *registry.Registry
	Ledger       capacity.Ledger
	Bus          bus.Bus
}

func NewControlPlaneFromEnv(log *zap.Logger) (*ControlPlane, error) {
	if log == nil {
		log = zap.NewNop()
	}

	catalogPath := getenv("SKYSIM_WORKERS_FILE", "configs/workers.yaml")
	reg, err := registry.Load(catalogPath)
	if err != nil {
		return nil, err
	}
	workers, err := worker.Builtin()
	if err != nil {
		return nil, err
	}

	var redisClient redis.UniversalClient
	redisBacked := func(kind string) bool {
		return getenv(kind, "memory") == "redis"
	}
	if redisBacked("SKYSIM_LEDGER") || redisBacked("SKYSIM_BUS") || redisBacked("SKYSIM_DEDUP") {
		redisClient = newRedisClient()
	}

	ledger, err := newLedger(redisClient)
	if err != nil {
		return nil, err
	}
	eventBus, err := newBus(redisClient, log)
	if err != nil {
		return nil, err
	}
	dedupStore, err := newDedupStore(redisClient)
	if err != nil {
		return nil, err
	}
	reviews, err := newReviewSink()
	if err != nil {
		return nil, err
	}
	artifacts, err := newArtifactStore()
	if err != nil {
		return nil, err
	}

	run := runner.New(ledger, eventBus, reviews, log)
	orc, err := orchestrate.New(orchestrate.Deps{
		Registry:  reg,
		Router:    router.New(reg, ledger, log),
		Runner:    run,
		Races:     race.NewCoordinator(run, eventBus, log),
		Ledger:    ledger,
		Bus:       eventBus,
		Dedup:     dedupStore,
		Workers:   workers,
		Artifacts: artifacts,
		Log:       log,
	}, orchestrate.Config{
		RaceTimeout:      getenvDuration("SKYSIM_RACE_TIMEOUT", 15*time.Second),
		ValidationWindow: getenvDuration("SKYSIM_VALIDATION_WINDOW", 5*time.Second),
		IdempotencyTTL:   getenvDuration("SKYSIM_IDEMPOTENCY_TTL", dedup.DefaultTTL),
	})
	if err != nil {
		return nil, err
	}

	return &ControlPlane{
		Orchestrator: orc,
		Registry:     reg,
		Ledger:       ledger,
		Bus:          eventBus,
	}, nil
}

// NewRedisClientFromEnv builds the shared client used by Redis-backed
// components and the insightctl events tail.
func NewRedisClientFromEnv() redis.UniversalClient {
	return newRedisClient()
}

func newRedisClient() redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     getenv("SKYSIM_REDIS_ADDR", "127.0.0.1:6379"),
		Password: os.Getenv("SKYSIM_REDIS_PASSWORD"),
		DB:       getenvInt("SKYSIM_REDIS_DB", 0),
	})
}

func newLedger(client redis.UniversalClient) (capacity.Ledger, error) {
	kind := getenv("SKYSIM_LEDGER", "memory")
	ttl := getenvDuration("SKYSIM_CAPACITY_TTL", capacity.DefaultHoldTTL)
	switch kind {
	case "memory":
		return capacity.NewMemoryLedger(ttl), nil
	case "redis":
		return capacity.NewRedisLedger(client, ttl), nil
	default:
		return nil, fmt.Errorf("unsupported SKYSIM_LEDGER value %q", kind)
	}
}

func newBus(client redis.UniversalClient, log *zap.Logger) (bus.Bus, error) {
	kind := getenv("SKYSIM_BUS", "memory")
	switch kind {
	case "memory":
		return bus.NewMemoryBus(log), nil
	case "redis":
		return bus.NewRedisBus(client, log), nil
	default:
		return nil, fmt.Errorf("unsupported SKYSIM_BUS value %q", kind)
	}
}

func newDedupStore(client redis.UniversalClient) (dedup.Store, error) {
	kind := getenv("SKYSIM_DEDUP", "memory")
	switch kind {
	case "memory":
		return dedup.NewMemoryStore(), nil
	case "redis":
		return dedup.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unsupported SKYSIM_DEDUP value %q", kind)
	}
}

func newReviewSink() (review.Sink, error) {
	kind := getenv("SKYSIM_REVIEWS", "memory")
	switch kind {
	case "memory":
		return review.NewMemorySink(), nil
	case "postgres":
		dsn := os.Getenv("SKYSIM_POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("SKYSIM_POSTGRES_DSN is required when SKYSIM_REVIEWS=postgres")
		}
		return review.NewPostgresSink(dsn)
	default:
		return nil, fmt.Errorf("unsupported SKYSIM_REVIEWS value %q", kind)
	}
}

func newArtifactStore() (artifact.Store, error) {
	kind := getenv("SKYSIM_ARTIFACT_BACKEND", "local")
	switch kind {
	case "local":
		return artifact.NewLocalStore(os.Getenv("SKYSIM_ARTIFACT_DIR"))
	case "minio":
		return artifact.NewMinIOStore(artifact.MinIOConfig{
			Endpoint:  os.Getenv("SKYSIM_MINIO_ENDPOINT"),
			AccessKey: os.Getenv("SKYSIM_MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("SKYSIM_MINIO_SECRET_KEY"),
			Bucket:    os.Getenv("SKYSIM_MINIO_BUCKET"),
			UseSSL:    getenvBool("SKYSIM_MINIO_USE_SSL", false),
		})
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported SKYSIM_ARTIFACT_BACKEND value %q", kind)
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
