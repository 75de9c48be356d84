package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the keyed backend. Each refresh value owns an independent
// key mapping to its subject, and every subject has a set indexing its live
// values; both carry the refresh TTL so expired entries vanish on their own.
//
// Key layout:
//
//	refresh:<value>       -> subjectID   (TTL)
//	refreshset:<subject>  -> set<value>  (TTL, refreshed on every add)
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore returns a keyed store on the given client. prefix namespaces
// all keys and may be empty.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) valueKey(value string) string {
	return s.prefix + "refresh:" + value
}

func (s *RedisStore) subjectKey(subjectID string) string {
	return s.prefix + "refreshset:" + subjectID
}

// Add records the value under both key families in one transaction.
func (s *RedisStore) Add(ctx context.Context, subjectID, value string, ttl time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.valueKey(value), subjectID, ttl)
		pipe.SAdd(ctx, s.subjectKey(subjectID), value)
		pipe.Expire(ctx, s.subjectKey(subjectID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Contains checks the value key and requires it to map to the subject.
func (s *RedisStore) Contains(ctx context.Context, subjectID, value string) (bool, error) {
	owner, err := s.rdb.Get(ctx, s.valueKey(value)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return owner == subjectID, nil
}

// Rotate runs an optimistic WATCH transaction on oldValue's key: read the
// owner, abort with ErrReuseDetected if it is gone or owned by someone else,
// otherwise commit the swap preconditioned on the key being unchanged. A
// transaction aborted by a concurrent writer is retried through the read step
// exactly once; losing again means the race winner rotated or revoked the
// value, which is reuse from this caller's point of view.
func (s *RedisStore) Rotate(ctx context.Context, subjectID, oldValue, newValue string, ttl time.Duration) error {
	attempt := func() error {
		return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			owner, err := tx.Get(ctx, s.valueKey(oldValue)).Result()
			if errors.Is(err, redis.Nil) {
				return ErrReuseDetected
			}
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			if owner != subjectID {
				return ErrReuseDetected
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, s.valueKey(oldValue))
				pipe.SRem(ctx, s.subjectKey(subjectID), oldValue)
				pipe.Set(ctx, s.valueKey(newValue), subjectID, ttl)
				pipe.SAdd(ctx, s.subjectKey(subjectID), newValue)
				pipe.Expire(ctx, s.subjectKey(subjectID), ttl)
				return nil
			})
			return err
		}, s.valueKey(oldValue))
	}

	err := attempt()
	if errors.Is(err, redis.TxFailedErr) {
		err = attempt()
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrReuseDetected):
		return ErrReuseDetected
	case errors.Is(err, redis.TxFailedErr):
		// Lost the race twice; the value is no longer current.
		return ErrReuseDetected
	case errors.Is(err, ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// RevokeAll reads the subject's index set and deletes every value key plus
// the set itself.
func (s *RedisStore) RevokeAll(ctx context.Context, subjectID string) error {
	values, err := s.rdb.SMembers(ctx, s.subjectKey(subjectID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, v := range values {
			pipe.Del(ctx, s.valueKey(v))
		}
		pipe.Del(ctx, s.subjectKey(subjectID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeOne removes a single value from both key families.
func (s *RedisStore) RevokeOne(ctx context.Context, subjectID, value string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.valueKey(value))
		pipe.SRem(ctx, s.subjectKey(subjectID), value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Ping reports backend reachability for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
