package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"pastebox/cfg"
	"pastebox/pkg/seal"
	"pastebox/svc/api"
	"pastebox/svc/cache"
	"pastebox/svc/db"
	"pastebox/svc/svc"
	"pastebox/svc/util"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

type store interface {
	svc.Store
	svc.Pinger
	svc.Purger
	io.Closer
}

func main() {
	health := flag.Bool("health", false, "ping the configured store and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		util.Fatal().Err(err).Msg("failed to read .env")
	}
	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()

	if *health {
		util.InitLog("disabled", false)
		os.Exit(checkHealth(c))
	}

	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Str("driver", c.StoreDriver).Msg("starting pastebox")
	if c.TestMode {
		util.Warn().Msg("TEST_MODE is on: X-Test-Now-Ms overrides the expiry clock")
	}

	st, err := openStore(c)
	if err != nil {
		util.Fatal().Err(err).Str("driver", c.StoreDriver).Msg("failed to open store")
	}
	defer st.Close()

	lru, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
	}
	graves, err := cache.NewTombstones(c.TombstoneSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create tombstone cache")
	}
	util.Info().
		Int("records", c.LRUCacheSize).
		Int("tombstones", c.TombstoneSize).
		Msg("caches initialized")

	pasteSvc := svc.NewPaste(st, svc.Options{
		Cache:         lru,
		Tombstones:    graves,
		IDLength:      c.IDLength,
		IDMaxAttempts: c.IDMaxAttempts,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var bg sync.WaitGroup
	if c.SweepInterval > 0 {
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := svc.StartSweeper(ctx, st, c.SweepInterval, nil); err != nil {
				util.Error().Err(err).Msg("failed to start sweeper")
			}
		}()
	}
	if sqlStore, ok := st.(*db.SQL); ok && sqlStore.Dialect() == db.DialectSQLite {
		bg.Add(1)
		go func() {
			defer bg.Done()
			sqlStore.StartWALMaintenance(ctx)
		}()
		util.Info().Msg("WAL maintenance worker started")
	}

	server, err := api.NewServer(c, pasteSvc)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to build server")
	}
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	cancel()
	done := make(chan struct{})
	go func() {
		bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		util.Warn().Msg("background workers did not stop in time")
	}
	util.Info().Msg("shutdown complete")
}

func openStore(c *cfg.Cfg) (store, error) {
	sealer, err := seal.FromBase64(c.ContentKey.Value())
	if err != nil {
		return nil, err
	}
	opts := db.Options{
		MaxOpenConns: c.DBMaxOpenConns,
		MaxIdleConns: c.DBMaxIdleConns,
		QueryTimeout: c.DBQueryTimeout,
		Sealer:       sealer,
	}
	switch c.StoreDriver {
	case cfg.DriverPostgres:
		return db.NewPostgres(c.DatabaseURL.Value(), opts)
	case cfg.DriverRedis:
		return db.NewRedis(c.RedisURL, c, sealer)
	case cfg.DriverMemory:
		return db.NewMemory(), nil
	default:
		return db.NewSQLite(c.DatabasePath, opts)
	}
}

func checkHealth(c *cfg.Cfg) int {
	st, err := openStore(c)
	if err != nil {
		return 1
	}
	defer st.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		return 1
	}
	return 0
}
