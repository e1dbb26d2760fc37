package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/zoobzio/clockz"
)

// Ledger хранит захваченные dedupe ключи.
type Ledger interface {
	// Acquire захватывает ключ на ttl. false — ключ уже занят.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release освобождает ключ. Отсутствующий ключ — не ошибка.
	Release(ctx context.Context, key string) error
}

// DefaultKeyPrefix — префикс ключей в Redis.
const DefaultKeyPrefix = "atelier:dedupe:"

// RedisLedger — Ledger поверх Redis.
type RedisLedger struct {
	rdb    goredis.UniversalClient
	prefix string
}

// NewRedisLedger создаёт RedisLedger.
func NewRedisLedger(rdb goredis.UniversalClient, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisLedger{rdb: rdb, prefix: prefix}
}

// NewRedisClient подключается к Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Acquire выполняет SET NX с TTL.
func (l *RedisLedger) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrLedgerUnavailable, key, err)
	}
	return ok, nil
}

// Release удаляет ключ.
func (l *RedisLedger) Release(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrLedgerUnavailable, key, err)
	}
	return nil
}

// MemoryLedger — Ledger в памяти процесса (STORE=memory и тесты).
type MemoryLedger struct {
	mu      sync.Mutex
	clock   clockz.Clock
	expires map[string]time.Time
}

// NewMemoryLedger создаёт MemoryLedger. clock nil — реальное время.
func NewMemoryLedger(clock clockz.Clock) *MemoryLedger {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &MemoryLedger{
		clock:   clock,
		expires: make(map[string]time.Time),
	}
}

// Acquire захватывает ключ, если он свободен или истёк.
func (l *MemoryLedger) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if exp, ok := l.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	l.expires[key] = now.Add(ttl)
	return true, nil
}

// Release освобождает ключ.
func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.expires, key)
	return nil
}

// Held сообщает, занят ли ключ.
func (l *MemoryLedger) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.expires[key]
	return ok && l.clock.Now().Before(exp)
}
