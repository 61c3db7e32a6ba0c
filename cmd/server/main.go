package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deckmate/tablesync/pkg/api"
	"github.com/deckmate/tablesync/pkg/batch"
	"github.com/deckmate/tablesync/pkg/connections"
	"github.com/deckmate/tablesync/pkg/engine"
	"github.com/deckmate/tablesync/pkg/game/adapters"
	"github.com/deckmate/tablesync/pkg/game/types"
	"github.com/deckmate/tablesync/pkg/log"
	"github.com/deckmate/tablesync/pkg/network"
	"github.com/deckmate/tablesync/pkg/ratelimit"
	"github.com/deckmate/tablesync/pkg/repositories"
	"github.com/deckmate/tablesync/pkg/rooms"
	"github.com/deckmate/tablesync/pkg/version"
	"github.com/deckmate/tablesync/pkg/workers"
)

func main() {
	wsPort := flag.Int("ws-port", 8888, "WebSocket port to listen on")
	httpPort := flag.Int("http-port", 9090, "HTTP API port to listen on")
	logLevel := flag.String("log-level", "info", "Log level")
	repositoryType := flag.String("repository", "memory", "Snapshot repository type (postgres, sqlite, memory)")
	sqlitePath := flag.String("sqlite-path", "tablesync.db", "Path to the SQLite database file")
	migrationsDir := flag.String("migrations", "migrations", "Path to the SQLite migrations directory")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting server version %s", version.Get())
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repository repositories.Repository
	switch *repositoryType {
	case "postgres":
		connStr := os.Getenv("DATABASE_URL")
		if connStr == "" {
			panic("DATABASE_URL environment variable must be set")
		}
		repository, err = repositories.NewPostgresRepository(ctx, connStr)
		if err != nil {
			panic(fmt.Sprintf("Failed to create postgres repository: %v", err))
		}
	case "sqlite":
		repository, err = repositories.NewSQLiteRepository(ctx, *sqlitePath, *migrationsDir)
		if err != nil {
			panic(fmt.Sprintf("Failed to create sqlite repository: %v", err))
		}
	case "memory":
		repository = repositories.NewInMemoryRepository()
	default:
		panic(fmt.Sprintf("Unknown repository type: %s", *repositoryType))
	}
	defer repository.Close(ctx)

	var limiter ratelimit.Limiter
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			panic(fmt.Sprintf("Failed to parse REDIS_URL: %v", err))
		}
		limiter = ratelimit.NewRedisLimiter(ratelimit.NewRedisLimiterOptions{
			Client: redis.NewClient(redisOpts),
		})
		log.Info("Using redis rate limiter")
	} else {
		limiter = ratelimit.NewTokenBucketLimiter(ratelimit.NewTokenBucketLimiterOptions{})
		log.Info("Using in-process rate limiter")
	}

	adapterRegistry := adapters.NewRegistry()
	if err := adapterRegistry.Register(adapters.NewArcanumAdapter()); err != nil {
		panic(fmt.Sprintf("Failed to register arcanum adapter: %v", err))
	}
	if err := adapterRegistry.Register(adapters.NewMonarchsAdapter()); err != nil {
		panic(fmt.Sprintf("Failed to register monarchs adapter: %v", err))
	}

	// Sessions resume from their last snapshot; a session never seen
	// before gets a fresh demo table.
	stateProvider := func(ctx context.Context, adapter adapters.Adapter, sessionID string) (*types.GameState, error) {
		snapshot, err := repository.LoadSnapshot(ctx, sessionID)
		if err == nil {
			log.Info("Restoring session %s from snapshot version %d", sessionID, snapshot.Version)
			return snapshot, nil
		}
		if !repositories.IsNotFound(err) {
			return nil, fmt.Errorf("failed to load snapshot for session %s: %w", sessionID, err)
		}
		return adapter.CreateInitialState(adapters.DemoConfig(0))
	}

	connectionRegistry := connections.NewRegistry(connections.NewRegistryOptions{})
	roomRegistry := rooms.NewRegistry(rooms.NewRegistryOptions{
		Adapters:      adapterRegistry,
		StateProvider: stateProvider,
	})
	batcher := batch.NewBatcher(batch.NewBatcherOptions{})

	saveChan := make(chan workers.SaveSnapshotRequest, workers.SaveChannelSize)

	sessionEngine := engine.NewEngine(engine.NewEngineOptions{
		Connections: connectionRegistry,
		Rooms:       roomRegistry,
		Adapters:    adapterRegistry,
		Limiter:     limiter,
		Batcher:     batcher,
		SaveChan:    saveChan,
	})
	connectionRegistry.SetRemoveHandler(sessionEngine.ConnectionClosed)

	sweepWorker := workers.NewSweepWorker(workers.NewSweepWorkerOptions{
		Registry: connectionRegistry,
	})
	go sweepWorker.Start(ctx)

	reaperWorker := workers.NewReaperWorker(workers.NewReaperWorkerOptions{
		Rooms:      roomRegistry,
		Repository: repository,
	})
	go reaperWorker.Start(ctx)

	saveWorker := workers.NewSaveWorker(workers.NewSaveWorkerOptions{
		Rooms:      roomRegistry,
		Repository: repository,
		Requests:   saveChan,
		Interval:   10 * time.Second,
	})
	go saveWorker.Start(ctx)

	apiServer := api.NewAPIServer(api.NewAPIServerOptions{
		Port:   *httpPort,
		Engine: sessionEngine,
	})
	go apiServer.Start(ctx)

	wsServer := network.NewWSServer(network.NewWSServerOptions{
		Port: *wsPort,
	})
	wsServer.Start(ctx, sessionEngine.HandleConnect, sessionEngine.HandleDisconnect, sessionEngine.HandleMessage)
}
