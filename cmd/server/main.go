package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"golang.org/x/sync/errgroup"

	"pagerouter/internal/config"
	"pagerouter/internal/db"
	"pagerouter/internal/jobs"
	"pagerouter/internal/metrics"
	"pagerouter/internal/persist"
	"pagerouter/internal/redis"
	"pagerouter/internal/server"
	"pagerouter/internal/visitlog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	yc, err := config.LoadYAMLConfig(cfg.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config file %s: %v", cfg.ConfigFile, err)
	}
	if yc == nil {
		log.Printf("No config file at %s, using built-in profiles", cfg.ConfigFile)
	}

	// Attribution ledger (optional)
	var database *db.DB
	if cfg.LedgerEnabled() {
		database, err = db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Migrations completed successfully")
	} else {
		log.Println("DATABASE_URL not set, beacon ledger disabled")
	}
	metrics.Init(database)

	// Redis (optional)
	rdb, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var (
		storage        persist.Storage
		sweeper        jobs.Sweeper
		limiterStorage fiber.Storage
	)
	if rdb != nil {
		shared := rdb.Storage()
		defer shared.Close()
		limiterStorage = shared
		if cfg.VisitorStore == config.VisitorStoreRedis {
			storage = shared
		}
	}
	switch cfg.VisitorStore {
	case config.VisitorStoreRedis:
		if rdb == nil {
			log.Fatal("VISITOR_STORE=redis requires REDIS_URL")
		}
	case config.VisitorStoreMemory:
		mem := persist.NewMemoryStorage()
		storage, sweeper = mem, mem
	case config.VisitorStoreNone:
		log.Println("Visitor store disabled, selections persist in cookies only")
	default:
		log.Fatalf("Unknown VISITOR_STORE %q", cfg.VisitorStore)
	}

	vl := yc.VisitLogSettings()
	visits := visitlog.New(visitlog.Options{
		Dir:          cfg.LogDir,
		UniquePerDay: vl.UniquePerDay,
		IndexTTL:     time.Duration(vl.IndexTTLDays) * 24 * time.Hour,
		MaxPayload:   vl.MaxPayload,
		SnippetSize:  vl.SnippetSize,
	})

	srv := server.New(cfg, yc, limiterStorage)
	if err := srv.RegisterRoutes(server.Deps{
		DB:      database,
		Redis:   rdb,
		Storage: storage,
		Visits:  visits,
	}); err != nil {
		log.Fatalf("Failed to register routes: %v", err)
	}

	janitor := jobs.NewJanitor(yc.JanitorInterval(), visits, srv.Pages, sweeper)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Server starting on %s", cfg.ServerAddr)
		return srv.Start()
	})
	g.Go(func() error {
		janitor.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		return srv.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server exited")
}
