package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bank-ledger/pkg/account"
	"bank-ledger/pkg/account/cached"
	"bank-ledger/pkg/account/postgres"
	"bank-ledger/pkg/api"
	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/cache/bloom"
	"bank-ledger/pkg/cache/memory"
	"bank-ledger/pkg/cache/redis"
	"bank-ledger/pkg/chain"
	"bank-ledger/pkg/logging"
	promMetrics "bank-ledger/pkg/metrics/prometheus"
	"bank-ledger/pkg/transfer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.NewLoggerFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metricsCollector := promMetrics.NewPrometheusCollector("ledger")
	if err := metricsCollector.Register(registry); err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}
	httpMetrics := api.NewHTTPMetrics("ledger")
	if err := httpMetrics.Register(registry); err != nil {
		logger.Fatal("Failed to register HTTP metrics", zap.Error(err))
	}

	pgConfig := postgres.DefaultConfig()
	pgConfig.DSN = os.Getenv("POSTGRES_DSN")
	pgConfig.Host = getEnv("POSTGRES_HOST", pgConfig.Host)
	pgConfig.Port = getEnvInt("POSTGRES_PORT", pgConfig.Port)
	pgConfig.User = getEnv("POSTGRES_USER", pgConfig.User)
	pgConfig.Password = getEnv("POSTGRES_PASSWORD", pgConfig.Password)
	pgConfig.Database = getEnv("POSTGRES_DB", pgConfig.Database)
	pgConfig.SSLMode = getEnv("POSTGRES_SSLMODE", pgConfig.SSLMode)
	pgConfig.MaxOpenConns = getEnvInt("POSTGRES_MAX_OPEN_CONNS", pgConfig.MaxOpenConns)
	pgConfig.Logger = logger

	store, err := postgres.New(pgConfig)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer store.Close()
	logger.Info("account store ready", zap.String("host", pgConfig.Host), zap.String("database", pgConfig.Database))

	var (
		reader     account.Reader = store
		cacheChain *chain.Chain
		engineCfg  = transfer.DefaultConfig()
	)

	if getEnvBool("CACHE_ENABLED", true) {
		cacheChain = newCacheChain(logger, metricsCollector)
		defer cacheChain.Close()

		cachedReader := cached.New(store, cacheChain, cached.Config{Logger: logger, Metrics: metricsCollector})
		reader = cachedReader
		engineCfg.Invalidator = cachedReader
	}

	engineCfg.MaxAmount = int64(getEnvInt("TRANSFER_MAX_AMOUNT", int(transfer.DefaultMaxAmount)))
	engineCfg.Logger = logger
	engineCfg.Metrics = metricsCollector
	engine := transfer.NewEngine(store, engineCfg)
	logger.Info("transfer engine ready", zap.Int64("max_amount", engine.MaxAmount()))

	serverConfig := api.DefaultServerConfig()
	serverConfig.Address = ":" + getEnv("PORT", "8080")

	server := api.NewServer(api.Deps{
		Reader:      reader,
		Engine:      engine,
		Auth:        api.NewHeaderAuthenticator(os.Getenv("IDENTITY_HEADER")),
		Store:       store,
		Cache:       cacheChain,
		Gatherer:    registry,
		HTTPMetrics: httpMetrics,
		Logger:      logger,
	}, serverConfig)

	go func() {
		if err := server.ListenAndServe(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newCacheChain builds memory L1 and, when reachable, Redis L2. A Redis
// outage at startup degrades to L1 only.
func newCacheChain(logger *logging.Logger, collector *promMetrics.PrometheusCollector) *chain.Chain {
	ttl := getEnvDuration("CACHE_TTL", 30*time.Second)

	layers := []cache.Layer{
		memory.NewMemoryCache(memory.MemoryCacheConfig{
			Name:            "L1-memory",
			MaxSize:         getEnvInt("CACHE_L1_MAX_SIZE", 10000),
			DefaultTTL:      ttl,
			MaxTTL:          getEnvDuration("CACHE_L1_MAX_TTL", 5*time.Second),
			CleanupInterval: time.Minute,
		}),
	}

	redisConfig := redis.DefaultRedisCacheConfig()
	redisConfig.Name = "L2-redis"
	redisConfig.Addr = getEnv("REDIS_ADDR", redisConfig.Addr)
	redisConfig.Password = os.Getenv("REDIS_PASSWORD")
	redisConfig.DefaultTTL = ttl
	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		redisConfig.ClusterAddrs = strings.Split(addrs, ",")
	}

	redisCache, err := redis.NewRedisCache(redisConfig)
	if err != nil {
		logger.Warn("Redis unavailable, running with memory cache only", zap.Error(err))
	} else {
		var l2 cache.Layer = redisCache
		if getEnvBool("CACHE_BLOOM_ENABLED", false) {
			bloomConfig := bloom.DefaultConfig()
			bloomConfig.ExpectedItems = uint(getEnvInt("CACHE_BLOOM_CAPACITY", 100000))
			bloomConfig.Logger = logger
			l2 = bloom.NewBloomLayer(redisCache, bloomConfig)
		}
		layers = append(layers, l2)
	}

	cfg := chain.DefaultConfig()
	cfg.DefaultTTL = ttl
	cfg.TTLStrategy = chain.DecayingTTLStrategy{DecayFactor: 0.5}
	cfg.Logger = logger
	cfg.Metrics = collector

	c, err := chain.NewWithConfig(cfg, layers...)
	if err != nil {
		logger.Fatal("Failed to create cache chain", zap.Error(err))
	}
	return c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logging.L().Warn("invalid integer in environment, using default", zap.String("key", key), zap.String("value", value))
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		logging.L().Warn("invalid boolean in environment, using default", zap.String("key", key), zap.String("value", value))
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logging.L().Warn("invalid duration in environment, using default", zap.String("key", key), zap.String("value", value))
		return defaultValue
	}
	return d
}
