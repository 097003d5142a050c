package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"bank-ledger/pkg/cache"

	"github.com/redis/rueidis"
)

// RedisCache is the shared L2 layer. Payloads are stored as raw bytes.
type RedisCache struct {
	client rueidis.Client
	name   string
	config RedisCacheConfig
}

type RedisCacheConfig struct {
	Name string
	// Addr is the server address for single node mode, e.g. "localhost:6379".
	Addr string
	// ClusterAddrs enables cluster mode when set. Only DB 0 is available there.
	ClusterAddrs []string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	// DefaultTTL applies when Set is called with a zero ttl.
	DefaultTTL   time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// SentinelAddrs enables sentinel mode when set.
	SentinelAddrs     []string
	SentinelMasterSet string
	SentinelUsername  string
	SentinelPassword  string
}

func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		Name:         "L2",
		Addr:         "localhost:6379",
		KeyPrefix:    "ledger:",
		DefaultTTL:   time.Minute,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ClusterCacheConfig returns a configuration for Redis Cluster mode.
func ClusterCacheConfig(name string, clusterAddrs []string, password string) RedisCacheConfig {
	config := DefaultRedisCacheConfig()
	config.Name = name
	config.ClusterAddrs = clusterAddrs
	config.Password = password
	config.Addr = ""
	config.DB = 0
	return config
}

// SentinelCacheConfig returns a configuration for Redis Sentinel mode.
func SentinelCacheConfig(name string, sentinelAddrs []string, masterSet, password string) RedisCacheConfig {
	config := DefaultRedisCacheConfig()
	config.Name = name
	config.SentinelAddrs = sentinelAddrs
	config.SentinelMasterSet = masterSet
	config.Password = password
	config.Addr = ""
	return config
}

func (c RedisCacheConfig) initAddress() ([]string, error) {
	switch {
	case len(c.ClusterAddrs) > 0:
		return c.ClusterAddrs, nil
	case len(c.SentinelAddrs) > 0:
		return c.SentinelAddrs, nil
	case c.Addr != "":
		return []string{c.Addr}, nil
	default:
		return nil, errors.New("redis: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}
}

// NewRedisCache connects and pings the server.
func NewRedisCache(config RedisCacheConfig) (*RedisCache, error) {
	if config.Name == "" {
		config.Name = "L2"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Minute
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	initAddress, err := config.initAddress()
	if err != nil {
		return nil, err
	}

	clientOpts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		Dialer:           net.Dialer{Timeout: config.DialTimeout},
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	}
	if len(config.SentinelAddrs) > 0 {
		clientOpts.Sentinel = rueidis.SentinelOption{
			MasterSet: config.SentinelMasterSet,
			Username:  config.SentinelUsername,
			Password:  config.SentinelPassword,
		}
	}

	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	r := &RedisCache{client: client, name: config.Name, config: config}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return r, nil
}

func (r *RedisCache) key(k string) string {
	return r.config.KeyPrefix + k
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	resp := r.client.Do(ctx, r.client.B().Get().Key(r.key(key)).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, cache.ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("redis get: failed to read response: %w", err)
	}
	return data, nil
}

// Set stores value with an EX expiry. Redis expiries have second granularity,
// so ttls below one second are rounded up.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = r.config.DefaultTTL
	}
	if ttl < time.Second {
		ttl = time.Second
	}

	cmd := r.client.B().Set().Key(r.key(key)).Value(rueidis.BinaryString(value)).Ex(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete issues one DEL per key so keys may live in different cluster slots.
func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	cmds := make(rueidis.Commands, 0, len(keys))
	for _, key := range keys {
		if err := cache.ValidateKey(key); err != nil {
			return err
		}
		cmds = append(cmds, r.client.B().Del().Key(r.key(key)).Build())
	}

	var errs []error
	for i, resp := range r.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			errs = append(errs, fmt.Errorf("key %s: %w", keys[i], err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("redis delete: %w", errors.Join(errs...))
	}
	return nil
}

func (r *RedisCache) Name() string {
	return r.name
}

func (r *RedisCache) Close() error {
	r.client.Close()
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// FlushDB removes every key of the selected database, not only those under
// the configured prefix. Against a cluster it reaches a single node.
func (r *RedisCache) FlushDB(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Flushdb().Build()).Error(); err != nil {
		return fmt.Errorf("redis flushdb: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of key, or ErrKeyNotFound.
func (r *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	resp := r.client.Do(ctx, r.client.B().Pttl().Key(r.key(key)).Build())
	if err := resp.Error(); err != nil {
		return 0, fmt.Errorf("redis ttl: %w", err)
	}

	ms, err := resp.AsInt64()
	if err != nil {
		return 0, fmt.Errorf("redis ttl: failed to read response: %w", err)
	}
	switch ms {
	case -2:
		return 0, cache.ErrKeyNotFound
	case -1:
		return -1, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}
