package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned when the key store has no value for a name.
var ErrKeyNotFound = errors.New("key not found")

const defaultKeyPrefix = "autoalter:keys:"

// RedisConfig configures the Redis-backed key store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Timeout  time.Duration
}

// RedisKeyStore reads secrets stored as plain string values under
// <prefix><name>.
type RedisKeyStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisKeyStore connects to Redis and verifies the connection.
func NewRedisKeyStore(ctx context.Context, cfg RedisConfig) (*RedisKeyStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis key store requires addr")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisKeyStore{client: client, prefix: prefix, timeout: timeout}, nil
}

// KeyValue implements KeyStore.
func (s *RedisKeyStore) KeyValue(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := s.client.Get(ctx, s.prefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%s: %w", name, ErrKeyNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", name, err)
	}
	return v, nil
}

// Put stores a secret under name. Used by provisioning tooling and tests.
func (s *RedisKeyStore) Put(ctx context.Context, name, value string) error {
	return s.client.Set(ctx, s.prefix+name, value, 0).Err()
}

// Close releases the connection pool.
func (s *RedisKeyStore) Close() error {
	return s.client.Close()
}

// StaticKeyStore is an in-memory KeyStore.
type StaticKeyStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewStaticKeyStore(keys map[string]string) *StaticKeyStore {
	cp := make(map[string]string, len(keys))
	for k, v := range keys {
		cp[k] = v
	}
	return &StaticKeyStore{keys: cp}
}

func (s *StaticKeyStore) KeyValue(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.keys[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrKeyNotFound)
	}
	return v, nil
}

func (s *StaticKeyStore) Set(name, value string) {
	s.mu.Lock()
	s.keys[name] = value
	s.mu.Unlock()
}
