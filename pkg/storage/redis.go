// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stacklok/credkeeper/pkg/logger"
)

// Default timeouts for Redis operations
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultLockTTL bounds how long a crashed holder can block renewals.
	// It outlives a provider request, and a live holder keeps extending it.
	DefaultLockTTL = 90 * time.Second
)

// RedisConfig configures a Redis-backed store. Setting MasterName switches
// to Sentinel failover with Addrs as the sentinel addresses.
type RedisConfig struct {
	Addrs      []string
	MasterName string
	Username   string
	Password   string
	DB         int
	KeyPrefix  string
}

// unlockScript deletes the lock only if it is still held by the caller.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// extendScript pushes the lease expiry out only if it is still held by the
// caller.
var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var errLockHeld = errors.New("lock held by another holder")

// RedisStore keeps the sealed blob in Redis so that several hosts can share
// one session.
type RedisStore struct {
	client      redis.UniversalClient
	key         string
	lockKey     string
	sealer      *Sealer
	lockTTL     time.Duration
	lockTimeout time.Duration
}

var _ Backend = (*RedisStore)(nil)

// NewRedisStore connects to Redis and returns a store for storeKey.
func NewRedisStore(ctx context.Context, cfg RedisConfig, storeKey string, sealer *Sealer) (*RedisStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("at least one redis address is required")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.KeyPrefix, storeKey, sealer), nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix, storeKey string, sealer *Sealer) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "credkeeper"
	}
	key := fmt.Sprintf("%s:credentials:%s", keyPrefix, storeKey)
	return &RedisStore{
		client:      client,
		key:         key,
		lockKey:     key + ":lock",
		sealer:      sealer,
		lockTTL:     DefaultLockTTL,
		lockTimeout: DefaultLockTimeout,
	}
}

// Read returns the opened blob, or nil if the key does not exist.
func (s *RedisStore) Read(ctx context.Context) ([]byte, error) {
	sealed, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from redis: %w", err)
	}
	return s.sealer.Open(sealed)
}

// Write seals data and replaces the stored value.
func (s *RedisStore) Write(ctx context.Context, data []byte) error {
	sealed, err := s.sealer.Seal(data)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, sealed, 0).Err(); err != nil {
		return fmt.Errorf("failed to write credentials to redis: %w", err)
	}
	return nil
}

// Delete removes the stored value.
func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete credentials from redis: %w", err)
	}
	return nil
}

// Lock acquires a lease on the store. The lease expires on its own after
// the lock TTL so a crashed holder cannot block renewals forever.
func (s *RedisStore) Lock(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 50 * time.Millisecond
	expBackoff.MaxInterval = time.Second
	expBackoff.Reset()

	_, err := backoff.Retry(lockCtx, func() (bool, error) {
		// Use SetNX for atomic check-and-set to prevent race conditions.
		ok, err := s.client.SetNX(lockCtx, s.lockKey, token, s.lockTTL).Result()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errLockHeld
		}
		return true, nil
	}, backoff.WithBackOff(expBackoff), backoff.WithMaxElapsedTime(s.lockTimeout))
	if err != nil {
		if errors.Is(err, errLockHeld) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to acquire redis lock: %w", err)
	}

	// The holder's context may be gone by the time it unlocks.
	holdCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.keepLease(holdCtx, token)
	}()

	return func() {
		stop()
		<-done
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultWriteTimeout)
		defer cancel()
		_ = unlockScript.Run(releaseCtx, s.client, []string{s.lockKey}, token).Err()
	}, nil
}

// keepLease extends the lease every third of its TTL until ctx ends or the
// lease is lost.
func (s *RedisStore) keepLease(ctx context.Context, token string) {
	ticker := time.NewTicker(s.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := extendScript.Run(ctx, s.client, []string{s.lockKey}, token, s.lockTTL.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() == nil {
					logger.Warnw("failed to extend credential store lease", "key", s.lockKey, "error", err)
				}
				continue
			}
			if extended == 0 {
				logger.Warnw("credential store lease was lost", "key", s.lockKey)
				return
			}
		}
	}
}

// Ping checks Redis connectivity (health check).
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
