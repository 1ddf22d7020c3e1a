package cache

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// NullCacheValue marks a cached miss so repeated lookups of absent rows stay
// off the database.
const NullCacheValue = "$NULL$"

// GetWithCached implements cache-aside with null value caching.
// Cache errors degrade to a direct fetch; fetch errors are never cached.
//
// Example:
//
//	sub, err := GetWithCached(ctx, c, "submission:42", time.Minute, 10*time.Second,
//		func(s *Submission) bool { return s == nil },
//		marshalSubmission, unmarshalSubmission,
//		func(ctx context.Context) (*Submission, error) { return repo.GetByID(ctx, nil, 42) })
func GetWithCached[T any](
	ctx context.Context,
	cache Cache,
	key string,
	ttl time.Duration,
	emptyTTL time.Duration,
	isEmpty func(T) bool,
	marshal func(T) (string, error),
	unmarshal func(string) (T, error),
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T

	if cache != nil {
		if cached, err := cache.Get(ctx, key); err == nil && cached != "" {
			if cached == NullCacheValue {
				return zero, nil
			}
			if result, err := unmarshal(cached); err == nil {
				return result, nil
			}
		}
	}

	data, err := fn(ctx)
	if err != nil {
		return zero, err
	}
	if cache == nil {
		return data, nil
	}

	if isEmpty(data) {
		_ = cache.Set(ctx, key, NullCacheValue, emptyTTL)
		return zero, nil
	}

	if encoded, err := marshal(data); err == nil {
		_ = cache.Set(ctx, key, encoded, JitterTTL(ttl))
	}
	return data, nil
}

// Invalidate deletes keys, ignoring a nil cache. Invalidation failures are
// returned so callers can log them; the TTL bounds the staleness either way.
func Invalidate(ctx context.Context, cache Cache, keys ...string) error {
	if cache == nil || len(keys) == 0 {
		return nil
	}
	return cache.Del(ctx, keys...)
}

// JitterTTL shaves up to 10% off ttl so keys written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
