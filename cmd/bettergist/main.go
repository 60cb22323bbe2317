package main

import (
	"bettergist/cfg"
	"bettergist/pkg/secrets"
	"bettergist/svc/api"
	"bettergist/svc/cache"
	"bettergist/svc/challenge"
	"bettergist/svc/db"
	"bettergist/svc/lim"
	"bettergist/svc/svc"
	"bettergist/svc/util"
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthCheck())
	}
	if err := cfg.LoadEnvFile(); err != nil {
		util.Fatal().Err(err).Msg("failed to load env file")
	}
	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, err := secrets.New(ctx, c.SecretsSource)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize secrets source")
	}
	if err := secrets.Resolve(ctx, src, c); err != nil {
		util.Fatal().Err(err).Str("source", src.Name()).Msg("failed to resolve secrets")
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	util.Info().
		Str("environment", c.Environment).
		Str("store", c.StoreBackend).
		Str("challenge", c.Challenge.Mode).
		Str("secrets", src.Name()).
		Msg("starting bettergist")

	store, sqlDB, err := openStore(ctx, c)
	if err != nil {
		util.Fatal().Err(err).Str("backend", c.StoreBackend).Msg("failed to initialize snippet store")
	}
	defer store.Close()

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.IsProduction() {
				util.Fatal().Err(err).Msg("CRITICAL: Redis required in production")
			}
			util.Warn().Err(err).Msg("redis unavailable, using in-process counters")
		} else {
			util.Info().Msg("redis connected")
			defer rdb.Close()
		}
	}

	// Interfaces are assigned only from a non-nil *db.Redis.
	var (
		counter     lim.CounterStore = lim.NewMemoryCounter()
		snippetRDB  svc.SnippetCache
		redisPinger api.Pinger
	)
	if rdb != nil {
		counter, snippetRDB, redisPinger = rdb, rdb, rdb
	}

	verifier, err := newVerifier(c, rdb)
	if err != nil {
		util.Fatal().Err(err).Str("mode", c.Challenge.Mode).Msg("failed to initialize challenge")
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize, time.Hour)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
	}
	util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")

	shareLimiter := lim.NewShareLimiter(counter, c.ShareLimit.Ceiling, c.ShareLimit.Window)
	util.Info().
		Int("ceiling", c.ShareLimit.Ceiling).
		Dur("window", c.ShareLimit.Window).
		Bool("shared_counter", rdb != nil).
		Msg("share limiter initialized")

	snippets := svc.NewSnippets(store, lruCache, snippetRDB, shareLimiter, verifier, c)
	if err := snippets.StartCleaner(ctx, c.CleanupInterval); err != nil {
		util.Error().Err(err).Msg("failed to start cleaner")
	}

	readLimiter := lim.NewReadLimiter(c.ReadRPM, c.ReadBurst)
	defer readLimiter.Stop()

	quitWAL := make(chan struct{})
	walDone := make(chan struct{})
	if sqlDB != nil {
		go func() {
			defer close(walDone)
			sqlDB.StartWALMaintenance(quitWAL)
		}()
		util.Info().Msg("WAL maintenance worker started")
	} else {
		close(walDone)
	}

	server := api.NewServer(c, snippets, readLimiter, store, redisPinger)
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	snippets.Shutdown(shutdownCtx)
	cancel()
	close(quitWAL)
	select {
	case <-walDone:
		util.Info().Msg("WAL maintenance stopped")
	case <-time.After(10 * time.Second):
		util.Warn().Msg("WAL maintenance did not stop gracefully")
	}
	util.Info().Msg("shutdown complete")
}

// openStore returns the configured store and, for SQLite, the concrete
// handle that owns WAL maintenance.
func openStore(ctx context.Context, c *cfg.Cfg) (db.Store, *db.SQLite, error) {
	switch c.StoreBackend {
	case cfg.BackendPostgres:
		pg, err := db.NewPostgres(ctx, c.DatabaseURL.Value(), c.DBMaxOpenConns, c.DBQueryTimeout)
		if err != nil {
			return nil, nil, err
		}
		util.Info().Str("dsn", util.RedactSecret(c.DatabaseURL.Value())).Msg("postgres store initialized")
		return pg, nil, nil
	case cfg.BackendSQLite:
		s, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			return nil, nil, err
		}
		util.Info().Str("path", c.DatabasePath).Msg("sqlite store initialized")
		return s, s, nil
	}
	return nil, nil, errors.Errorf("unknown store backend %q", c.StoreBackend)
}
func newVerifier(c *cfg.Cfg, rdb *db.Redis) (challenge.Verifier, error) {
	switch c.Challenge.Mode {
	case cfg.ChallengeArithmetic:
		a, err := challenge.NewArithmetic(c.Challenge.Secret.Bytes(), c.Challenge.TTL)
		if err != nil {
			return nil, err
		}
		if c.Challenge.Secret.Value() == "" {
			util.Warn().Msg("CHALLENGE_SECRET not set, tokens will not survive a restart")
		}
		if rdb != nil {
			a.WithReplayGuard(rdb)
		}
		return a, nil
	case cfg.ChallengeRecaptcha:
		client := &http.Client{Timeout: 5 * time.Second}
		return challenge.NewRecaptcha(c.Challenge.RecaptchaSiteKey, c.Challenge.RecaptchaSecret.Value(), c.Challenge.RecaptchaURL, client), nil
	case cfg.ChallengeNone:
		util.Warn().Msg("abuse challenge disabled")
		return challenge.None{}, nil
	}
	return nil, errors.Errorf("unknown challenge mode %q", c.Challenge.Mode)
}

// healthCheck is the container probe: load config and ping the store.
func healthCheck() int {
	cfg.LoadEnvFile()
	c, err := cfg.Load()
	if err != nil {
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if c.StoreBackend == cfg.BackendPostgres {
		src, err := secrets.New(ctx, c.SecretsSource)
		if err != nil || secrets.Resolve(ctx, src, c) != nil {
			return 1
		}
	}
	store, _, err := openStore(ctx, c)
	if err != nil {
		return 1
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return 1
	}
	return 0
}
