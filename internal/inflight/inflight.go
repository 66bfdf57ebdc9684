// Package inflight provides short-lived claims on a (user, day) pair so two
// pipelines never send the same briefing at once. The ledger still decides
// whether a day is done; a claim only covers the window between the ledger
// check and the ledger write.
package inflight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the claim expired or belongs to
// someone else.
var ErrNotHeld = errors.New("claim not held")

// Claimer takes and releases claims. Acquire returns ok=false without error
// when another holder has the key.
type Claimer interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Key builds the claim key for a user's day.
func Key(userID, day string) string {
	return fmt.Sprintf("brief:inflight:%s:%s", userID, day)
}

// Memory is a process-local Claimer.
type Memory struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
	now    func() time.Time
}

type memoryClaim struct {
	token   string
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{claims: make(map[string]memoryClaim), now: time.Now}
}

// WithClock overrides the clock used for expiry.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if c, ok := m.claims[key]; ok && now.Before(c.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.claims[key] = memoryClaim{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (m *Memory) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.claims[key]
	if !ok || c.token != token {
		return ErrNotHeld
	}
	delete(m.claims, key)
	return nil
}

// Redis shares claims across instances with SET NX PX.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *Redis) Release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

var (
	_ Claimer = (*Memory)(nil)
	_ Claimer = (*Redis)(nil)
)
