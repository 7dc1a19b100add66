package archive

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Registry stores batch summaries as JSON under their batch id.
type Registry interface {
	Save(ctx context.Context, batchID string, summary any) error
	// Load decodes the summary into dst, or returns ErrArchiveNotFound.
	Load(ctx context.Context, batchID string, dst any) error
	Close() error
}

// RedisConfig configures the Redis registry.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RedisRegistry keeps summaries in Redis with an expiry.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisRegistry connects to Redis.
func NewRedisRegistry(cfg RedisConfig, logger *zap.Logger) *RedisRegistry {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRegistry{client: client, ttl: cfg.TTL, logger: logger}
}

// Ping checks connectivity.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func batchKey(id string) string {
	return "batch:" + id
}

// Save implements Registry.
func (r *RedisRegistry) Save(ctx context.Context, batchID string, summary any) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, batchKey(batchID), data, r.ttl).Err()
}

// Load implements Registry.
func (r *RedisRegistry) Load(ctx context.Context, batchID string, dst any) error {
	data, err := r.client.Get(ctx, batchKey(batchID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrArchiveNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		r.logger.Error("failed to unmarshal batch summary",
			zap.String("batch_id", batchID), zap.Error(err))
		return err
	}
	return nil
}

// Close implements Registry.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

// MemoryRegistry is the in-process Registry used when Redis is disabled.
type MemoryRegistry struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// NewMemoryRegistry creates a registry whose entries expire after ttl
// (zero keeps them forever).
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

// Save implements Registry.
func (m *MemoryRegistry) Save(_ context.Context, batchID string, summary any) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	var exp time.Time
	if m.ttl > 0 {
		exp = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[batchID] = memoryEntry{data: data, expires: exp}
	m.sweepLocked()
	return nil
}

// Load implements Registry.
func (m *MemoryRegistry) Load(_ context.Context, batchID string, dst any) error {
	m.mu.RLock()
	e, ok := m.entries[batchID]
	m.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && m.now().After(e.expires)) {
		return ErrArchiveNotFound
	}
	return json.Unmarshal(e.data, dst)
}

// Close implements Registry.
func (m *MemoryRegistry) Close() error {
	return nil
}

func (m *MemoryRegistry) sweepLocked() {
	now := m.now()
	for id, e := range m.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(m.entries, id)
		}
	}
}

// OpenRegistry returns a Redis registry when enabled and reachable, and the
// in-memory registry otherwise.
func OpenRegistry(ctx context.Context, cfg RedisConfig, logger *zap.Logger) Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return NewMemoryRegistry(cfg.TTL)
	}
	r := NewRedisRegistry(cfg, logger)
	if err := r.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, batch summaries kept in memory",
			zap.String("addr", cfg.Addr), zap.Error(err))
		_ = r.Close()
		return NewMemoryRegistry(cfg.TTL)
	}
	logger.Info("redis connected", zap.String("addr", cfg.Addr))
	return r
}
