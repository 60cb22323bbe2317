package db

import (
	"bettergist/cfg"
	"bettergist/pkg/domain"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const snippetKeyPrefix = "snippet:"

type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedis(url string, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if c.RedisTLS {
		tlsConfig, err := buildRedisTLSConfig(opt, c.RedisCACert)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	timeout := c.RedisTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Redis{client: client, timeout: timeout}, nil
}
func buildRedisTLSConfig(opt *redis.Options, caPath string) (*tls.Config, error) {
	tlsConfig := opt.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	tlsConfig.MinVersion = tls.VersionTLS12
	if tlsConfig.ServerName == "" {
		host, _, err := net.SplitHostPort(opt.Addr)
		if err != nil {
			host = opt.Addr
		}
		tlsConfig.ServerName = host
	}
	if caPath == "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to load system cert pool: %w", err)
		}
		tlsConfig.RootCAs = pool
		return tlsConfig, nil
	}
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read Redis CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append Redis CA cert to pool")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}
func (r *Redis) CacheSnippet(ctx context.Context, s *domain.Snippet, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal snippet")
	}
	return errors.Wrap(r.client.Set(ctx, snippetKeyPrefix+s.ID, data, ttl).Err(), "set snippet")
}

// GetSnippet returns nil, nil on a cache miss.
func (r *Redis) GetSnippet(ctx context.Context, id string) (*domain.Snippet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, snippetKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get snippet")
	}
	var s domain.Snippet
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "unmarshal snippet")
	}
	return &s, nil
}

// fixedWindowScript creates the counter with a TTL on first use, refuses
// without incrementing once the ceiling is reached, and otherwise
// increments. Returns {count, allowed, pttl}.
var fixedWindowScript = redis.NewScript(`
	local window = tonumber(ARGV[1])
	local ceiling = tonumber(ARGV[2])
	local current = redis.call("GET", KEYS[1])
	if current == false then
		redis.call("SET", KEYS[1], 1, "PX", window)
		return {1, 1, window}
	end
	current = tonumber(current)
	local ttl = redis.call("PTTL", KEYS[1])
	if ttl < 0 then
		redis.call("PEXPIRE", KEYS[1], window)
		ttl = window
	end
	if current >= ceiling then
		return {current, 0, ttl}
	end
	local n = redis.call("INCR", KEYS[1])
	return {n, 1, ttl}
`)

func (r *Redis) FixedWindow(ctx context.Context, key string, ceiling int, window time.Duration) (int, bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := fixedWindowScript.Run(ctx, r.client, []string{key}, window.Milliseconds(), ceiling).Int64Slice()
	if err != nil {
		return 0, false, 0, errors.Wrap(err, "fixed window lua")
	}
	if len(res) != 3 {
		return 0, false, 0, errors.Errorf("fixed window lua: unexpected reply length %d", len(res))
	}
	return int(res[0]), res[1] == 1, time.Duration(res[2]) * time.Millisecond, nil
}

// MarkUsed records key for ttl and reports whether this call was the first.
func (r *Redis) MarkUsed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	first, err := r.client.SetNX(ctx, "used_token:"+key, "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "mark used")
	}
	return first, nil
}
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
