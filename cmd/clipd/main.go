package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clipd/cfg"
	"clipd/metrics"
	"clipd/pkg/secrets"
	"clipd/svc/api"
	"clipd/svc/auth"
	"clipd/svc/cache"
	"clipd/svc/db"
	"clipd/svc/lim"
	"clipd/svc/svc"
	"clipd/svc/util"

	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "-health":
			os.Exit(runHealthCheck())
		case "-sweep":
			os.Exit(runSweep())
		}
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting clipd API")
	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pepper, err := loadPepper(ctx, c)
	if err != nil {
		util.Fatal().Err(err).Msg("CRITICAL: failed to load pepper")
		os.Exit(1)
	}
	if len(pepper) < 32 {
		util.Fatal().Int("length", len(pepper)).Msg("CRITICAL: pepper too short, must be >= 32 bytes")
		os.Exit(1)
	}

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("CRITICAL: Redis required in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode)")
		} else {
			util.Info().Msg("redis connected")
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}
	util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")

	hasher, err := auth.NewHasher(c.Argon2Time, c.Argon2Memory, c.Argon2Parallelism, c.Argon2KeyLen, pepper)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize hasher")
		os.Exit(1)
	}

	clipSvc := svc.NewClip(sqlDB, lruCache, rdb, c)
	userSvc := svc.NewUser(sqlDB, hasher)

	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.RateLimit.ConservativeLimit, rdb, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, clipSvc, userSvc, limiter, sqlDB, rdb)

	quitWAL := make(chan struct{})
	go db.StartWALMaintenance(sqlDB.DB(), quitWAL)
	util.Info().Msg("WAL maintenance worker started")

	reaper := svc.NewReaper(sqlDB, c.ReaperInterval)
	if err := reaper.Run(ctx); err != nil {
		util.Error().Err(err).Msg("failed to start reaper")
	}

	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
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
	close(quitWAL)
	cancel()
	clipSvc.Shutdown()
	util.Info().Msg("shutdown complete")
}

// loadPepper resolves the argon2 pepper, preferring the external secrets
// chain when PEPPER_FROM_SECRETS is set.
func loadPepper(ctx context.Context, c *cfg.Cfg) ([]byte, error) {
	if !c.PepperFromSecrets {
		return []byte(c.Pepper.Value()), nil
	}
	adapter, err := secrets.NewAdapter(ctx)
	if err != nil {
		return nil, err
	}
	pepperB64, err := adapter.GetSecret(ctx, "ARGON2_PEPPER")
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(pepperB64)
}

func runHealthCheck() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "clipd.db"
	}
	sqlDB, err := db.NewSQLite(dbPath)
	if err != nil {
		return 1
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(ctx); err != nil {
		return 1
	}
	return 0
}

// runSweep performs one reaper pass and reports the result on stdout, for
// cron or scheduler invocation.
func runSweep() int {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	c, err := cfg.Load()
	if err != nil {
		json.NewEncoder(os.Stdout).Encode(map[string]string{
			"error":   "cleanup failed",
			"message": err.Error(),
		})
		return 1
	}
	util.InitLog(c.LogLevel, false)
	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		json.NewEncoder(os.Stdout).Encode(map[string]string{
			"error":   "cleanup failed",
			"message": err.Error(),
		})
		return 1
	}
	defer sqlDB.Close()

	reaper := svc.NewReaper(sqlDB, c.ReaperInterval)
	deleted, err := reaper.Sweep(ctx)
	if err != nil {
		json.NewEncoder(os.Stdout).Encode(map[string]string{
			"error":   "cleanup failed",
			"message": err.Error(),
		})
		return 1
	}
	json.NewEncoder(os.Stdout).Encode(map[string]any{
		"success":      true,
		"deletedClips": deleted,
	})
	return 0
}
