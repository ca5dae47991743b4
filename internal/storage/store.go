// Package storage provides the key-value stores backing accounts, sessions and sync blobs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Jeffrey-done/SubScript/internal/config"
	"github.com/Jeffrey-done/SubScript/internal/redis"
)

// ErrNotFound is returned by Get for absent or expired keys.
var ErrNotFound = errors.New("storage: key not found")

// Store is the key-value contract used by the auth gateway. A zero ttl means no expiry;
// expiry is enforced on read.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only when the key is absent (or expired) and reports whether it wrote.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Close() error
}

// New builds the store selected by basic_config.store_type.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	storeType := strings.ToLower(strings.TrimSpace(cfg.BasicConfig.StoreType))
	switch storeType {
	case "memory":
		return NewMemoryStore(), nil
	case "", "redis":
		client, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client), nil
	default:
		db, err := Open(storeType, cfg)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db, storeType); err != nil {
			db.Close()
			return nil, err
		}
		store, err := NewSQLStore(db, storeType)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("sql store: %w", err)
		}
		return store, nil
	}
}

// RedisStore is the default production store.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key)
	if errors.Is(err, redis.ErrCacheMiss) {
		return "", ErrNotFound
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl)
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore keeps everything in process. Used for local development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok && !entry.expired(s.now()) {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
