package redisx

import "time"

const (
	// Checkout idempotency: idem:checkout:{buyer_id}:{idempotency_key} -> pending marker | response JSON
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
