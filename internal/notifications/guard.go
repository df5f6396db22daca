package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/lms-notifier/pkg/config"
	"github.com/angelmondragon/lms-notifier/pkg/redis"
)

// Guard suppresses repeated announcements of the same assignment within a
// window. dup is true when fingerprint was already seen for identity.
type Guard interface {
	CheckAndMark(ctx context.Context, identity, fingerprint string) (dup bool, err error)
}

// NewGuard returns the guard for mode, or nil when deduplication is off.
func NewGuard(mode string, window time.Duration, store redis.DedupeStore) (Guard, error) {
	switch mode {
	case "", config.DedupeModeOff:
		return nil, nil
	case config.DedupeModeMemory:
		if window <= 0 {
			return nil, fmt.Errorf("dedupe window must be positive (got %s)", window)
		}
		return NewMemoryGuard(window), nil
	case config.DedupeModeRedis:
		return NewRedisGuard(store, window)
	default:
		return nil, fmt.Errorf("unknown dedupe mode %q", mode)
	}
}

// MemoryGuard keeps fingerprints in process memory until they expire.
type MemoryGuard struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryGuard(window time.Duration) *MemoryGuard {
	return &MemoryGuard{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

func (g *MemoryGuard) CheckAndMark(_ context.Context, identity, fingerprint string) (bool, error) {
	key := identity + "\x00" + fingerprint
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()
	for k, expires := range g.seen {
		if !now.Before(expires) {
			delete(g.seen, k)
		}
	}
	if _, ok := g.seen[key]; ok {
		return true, nil
	}
	g.seen[key] = now.Add(g.window)
	return false, nil
}

// RedisGuard marks fingerprints with SETNX and a TTL so the window survives
// daemon restarts and is shared by every daemon of the same user.
type RedisGuard struct {
	store  redis.DedupeStore
	window time.Duration
}

func NewRedisGuard(store redis.DedupeStore, window time.Duration) (*RedisGuard, error) {
	if store == nil {
		return nil, errors.New("dedupe store is required")
	}
	if window <= 0 {
		return nil, fmt.Errorf("dedupe window must be positive (got %s)", window)
	}
	return &RedisGuard{store: store, window: window}, nil
}

func (g *RedisGuard) CheckAndMark(ctx context.Context, identity, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, errors.New("fingerprint is required")
	}
	set, err := g.store.SetNX(ctx, g.store.DedupeKey(identity, fingerprint), "1", g.window)
	if err != nil {
		return false, err
	}
	return !set, nil
}
