package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// AttemptLimiter はクライアントごとのログイン失敗回数を管理します。
type AttemptLimiter interface {
	// Check はロック中であれば解除までの残り時間を返します。
	Check(ctx context.Context, key string) (time.Duration, error)
	// RecordFailure は失敗を記録し、ロックまでの残り回数を返します。
	RecordFailure(ctx context.Context, key string) (int, error)
	// Reset は記録を消去します。
	Reset(ctx context.Context, key string) error
}

// LimitPolicy は試行制限のパラメータです。
type LimitPolicy struct {
	MaxAttempts  int
	Window       time.Duration
	LockDuration time.Duration
}

// DefaultLimitPolicy は 15 分間に 5 回失敗すると 10 分ロックします。
var DefaultLimitPolicy = LimitPolicy{
	MaxAttempts:  5,
	Window:       15 * time.Minute,
	LockDuration: 10 * time.Minute,
}

func (p LimitPolicy) normalize() LimitPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultLimitPolicy.MaxAttempts
	}
	if p.Window <= 0 {
		p.Window = DefaultLimitPolicy.Window
	}
	if p.LockDuration <= 0 {
		p.LockDuration = DefaultLimitPolicy.LockDuration
	}
	return p
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// expired はウィンドウとロックの両方が過ぎていれば true を返します。
func (s *attemptState) expired(now time.Time, window time.Duration) bool {
	return now.Sub(s.firstAttempt) > window && !now.Before(s.lockedUntil)
}

// MemoryLimiter はプロセス内で失敗回数を保持します。
type MemoryLimiter struct {
	policy    LimitPolicy
	now       func() time.Time
	lock      sync.Mutex
	attempts  map[string]*attemptState
	lastSweep time.Time
}

// NewMemoryLimiter は MemoryLimiter を作成します。
func NewMemoryLimiter(policy LimitPolicy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:   policy.normalize(),
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

// Check はロック中であれば解除までの残り時間を返します。
func (m *MemoryLimiter) Check(_ context.Context, key string) (time.Duration, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[key]
	if !ok {
		return 0, nil
	}
	now := m.now()
	if state.expired(now, m.policy.Window) {
		delete(m.attempts, key)
		return 0, nil
	}
	if !now.Before(state.lockedUntil) {
		return 0, nil
	}
	return state.lockedUntil.Sub(now), nil
}

// RecordFailure は失敗を記録し、ロックまでの残り回数を返します。
func (m *MemoryLimiter) RecordFailure(_ context.Context, key string) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	m.sweep(now)

	state, ok := m.attempts[key]
	if !ok || now.Sub(state.firstAttempt) > m.policy.Window {
		state = &attemptState{firstAttempt: now}
		m.attempts[key] = state
	}

	state.count++
	if state.count >= m.policy.MaxAttempts {
		state.lockedUntil = now.Add(m.policy.LockDuration)
		state.count = m.policy.MaxAttempts
	}

	return max(m.policy.MaxAttempts-state.count, 0), nil
}

// sweep はウィンドウごとに一度、期限切れの記録をまとめて削除します。
func (m *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.policy.Window {
		return
	}
	for key, state := range m.attempts {
		if state.expired(now, m.policy.Window) {
			delete(m.attempts, key)
		}
	}
	m.lastSweep = now
}

// Reset は記録を消去します。
func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, key)
	return nil
}

const (
	attemptKeyPrefix = "login:attempts:"
	lockKeyPrefix    = "login:lock:"
)

// RedisLimiter は複数インスタンスで共有できるよう Redis に失敗回数を保持します。
type RedisLimiter struct {
	rdb    redis.UniversalClient
	policy LimitPolicy
}

// NewRedisLimiter は RedisLimiter を作成します。
func NewRedisLimiter(rdb redis.UniversalClient, policy LimitPolicy) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		policy: policy.normalize(),
	}
}

// Check はロック中であれば解除までの残り時間を返します。
func (r *RedisLimiter) Check(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.rdb.PTTL(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return 0, oops.Code("LIMITER_CHECK_FAILED").With("key", key).Wrap(err)
	}
	// キーが存在しない場合は負の値が返る
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// RecordFailure は失敗を記録し、ロックまでの残り回数を返します。
func (r *RedisLimiter) RecordFailure(ctx context.Context, key string) (int, error) {
	attemptKey := attemptKeyPrefix + key

	// 最初の失敗からウィンドウを数える。キー作成と TTL 設定は同じトランザクションで行う
	pipe := r.rdb.TxPipeline()
	pipe.SetNX(ctx, attemptKey, 0, r.policy.Window)
	incr := pipe.Incr(ctx, attemptKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, oops.Code("LIMITER_RECORD_FAILED").With("key", key).Wrap(err)
	}

	count := int(incr.Val())
	if count >= r.policy.MaxAttempts {
		pipe := r.rdb.TxPipeline()
		pipe.Set(ctx, lockKeyPrefix+key, "1", r.policy.LockDuration)
		pipe.Del(ctx, attemptKey)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, oops.Code("LIMITER_RECORD_FAILED").With("key", key).Wrap(err)
		}
		return 0, nil
	}
	return r.policy.MaxAttempts - count, nil
}

// Reset は記録を消去します。
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, attemptKeyPrefix+key, lockKeyPrefix+key).Err(); err != nil {
		return oops.Code("LIMITER_RESET_FAILED").With("key", key).Wrap(err)
	}
	return nil
}
