package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "\x00pending"

type ClaimState int

const (
	// ClaimAcquired: caller owns the key and must Complete or Release it.
	ClaimAcquired ClaimState = iota
	// ClaimInFlight: another request holds the key and has not finished.
	ClaimInFlight
	// ClaimDone: a previous request finished; Response holds what it returned.
	ClaimDone
)

type Claim struct {
	State    ClaimState
	Response []byte
}

type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func CheckoutKey(buyerID, token string) string {
	return fmt.Sprintf(KeyIdemCheckout, buyerID, token)
}

func (s *IdempotencyStore) Claim(ctx context.Context, key string) (Claim, error) {
	ok, err := s.rdb.SetNX(ctx, key, pendingMarker, s.ttl).Result()
	if err != nil {
		return Claim{}, err
	}
	if ok {
		return Claim{State: ClaimAcquired}, nil
	}

	v, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; the holder is gone
		return s.Claim(ctx, key)
	}
	if err != nil {
		return Claim{}, err
	}
	if string(v) == pendingMarker {
		return Claim{State: ClaimInFlight}, nil
	}
	return Claim{State: ClaimDone, Response: v}, nil
}

// Complete stores the final response for replay within the ttl window.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, response []byte) error {
	return s.rdb.Set(ctx, key, response, s.ttl).Err()
}

// Release frees a claim whose request failed so the caller may retry.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
