package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"call-ledger/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout means a record could not be acquired before the wait bound.
var ErrLockTimeout = errors.New("wallet: lock wait exceeded")

// Locker serializes units that touch the same records.
//
// Lock acquires every key in one fixed global order (sorted, de-duplicated),
// so two units that are mutually caller and receiver of each other cannot deadlock.
// It waits until ctx is done; the caller bounds the wait with a deadline.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

func WalletKey(userID string) string       { return "wallet:" + userID }
func EarningKey(userID string) string      { return "earning:" + userID }
func PendingKey(merchantTxID string) string { return "pending:" + merchantTxID }

// OrderKeys returns keys sorted and without duplicates or blanks.
func OrderKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KeyedLocker is an in-process Locker. Unused keys are released from memory.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: map[string]*lockSlot{}}
}

func (l *KeyedLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := OrderKeys(keys)
	held := make([]string, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}

	for _, k := range ordered {
		if err := l.acquire(ctx, k); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *KeyedLocker) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.unref(key, s)
		l.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
	}
}

func (l *KeyedLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		return
	}
	<-s.ch
	l.unref(key, s)
}

func (l *KeyedLocker) unref(key string, s *lockSlot) {
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// RedisLocker is a Locker shared by every API instance.
// Each key is set-if-absent with a TTL so a crashed holder frees it eventually.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

type RedisLockerOptions struct {
	// Prefix namespaces keys, default "ledger:lock".
	Prefix string
	// TTL must exceed the longest unit; default 15s.
	TTL time.Duration
	// Poll is the retry interval while a key is held; default 10ms.
	Poll time.Duration
}

func NewRedisLocker(client redis.UniversalClient, opts RedisLockerOptions) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = "ledger:lock"
	}
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Second
	}
	if opts.Poll <= 0 {
		opts.Poll = 10 * time.Millisecond
	}
	return &RedisLocker{client: client, prefix: opts.Prefix, ttl: opts.TTL, poll: opts.Poll}
}

func (l *RedisLocker) key(k string) string { return l.prefix + ":" + k }

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	token := uuid.NewString()
	ordered := OrderKeys(keys)
	held := make([]string, 0, len(ordered))
	release := func() {
		// Release must succeed even when the caller's ctx is already gone.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = utils.Unlock(rctx, l.client, l.key(held[i]), token)
		}
	}

	for _, k := range ordered {
		if err := l.acquire(ctx, l.key(k), token); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := utils.TryLock(ctx, l.client, key, token, l.ttl)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}
