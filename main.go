package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/kitokato77/cnc4-gs2/broadcast"
	"github.com/kitokato77/cnc4-gs2/config"
	"github.com/kitokato77/cnc4-gs2/logger"
	"github.com/kitokato77/cnc4-gs2/monitor"
	"github.com/kitokato77/cnc4-gs2/persistence"
	"github.com/kitokato77/cnc4-gs2/server"
	"github.com/kitokato77/cnc4-gs2/services"
	"github.com/kitokato77/cnc4-gs2/session"
	"github.com/kitokato77/cnc4-gs2/timer"
)

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		panic(err)
	}

	// Initialize logger
	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	// Initialize room store
	var (
		store       persistence.RoomStore
		broadcaster broadcast.Broadcaster
	)
	switch cfg.Store.Driver {
	case "memory":
		store = persistence.NewMemoryStore(cfg.Room.TTL)
		broadcaster = broadcast.NewMemoryHub()
		logger.Log.Warn("Using the in-memory room store; rooms are not shared between processes.")
	case "redis":
		client, err := newRedisClient(cfg.Redis)
		if err != nil {
			logger.Log.Fatalf("Invalid redis.url: %v", err)
		}
		defer client.Close()
		store = persistence.NewRedisStore(client, cfg.Room.TTL)
		broadcaster = broadcast.NewRedisBroadcaster(client)
	}

	// Initialize match archive
	archive, err := openArchive(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	if archive != nil {
		defer archive.Close()
		logger.Log.Info("Database connection successful.")
	}

	// Initialize monitor
	mon := monitor.NewMonitor(cfg.Monitor.Namespace)
	if cfg.Monitor.Address != "" {
		metricsServer := mon.StartServer(cfg.Monitor.Address)
		defer metricsServer.Close()
	}

	timers := timer.NewManager(timer.DefaultResolution)
	defer timers.Stop()
	timers.AddTimer(0, cfg.Monitor.SweepInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mon.SweepActiveRooms(ctx, store)
	})

	rooms := services.NewRoomService(store, services.Options{
		Broadcaster: broadcaster,
		Archive:     archive,
		Recorder:    mon,
		MaxRetries:  cfg.Room.MaxRetries,
	})

	// Initialize Game Server
	gameServer := server.NewGameServer(rooms, session.NewManager(), server.Options{
		MaxWorkers:     cfg.Server.MaxWorkers,
		RequestTimeout: cfg.Server.RequestTimeout,
		Observer:       mon,
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Log.Info("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gameServer.Shutdown(ctx); err != nil {
			logger.Log.Errorf("Shutdown: %v", err)
		}
	}()

	// Start Server
	logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Start(cfg.Server.HTTPAddress); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}

// newRedisClient builds the client from redis.url. An unreachable Redis is
// only logged: requests answer "Redis not available" until it comes back.
func newRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Log.Warnf("Redis at %s not reachable yet: %v", opts.Addr, err)
	} else {
		logger.Log.Infof("Connected to Redis at %s", opts.Addr)
	}
	return client, nil
}

// openArchive returns nil when no database driver is configured.
func openArchive(cfg config.DatabaseConfig) (persistence.Archive, error) {
	switch cfg.Driver {
	case "gorm":
		return persistence.NewGormPostgreSQL(cfg.Postgres.DSN())
	case "postgres":
		return persistence.NewPostgreSQL(cfg.Postgres.DSN())
	default:
		return nil, nil
	}
}
