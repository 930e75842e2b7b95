package ratelimit

import "context"

// RateLimiter throttles calls to an outbound dependency, keyed by bucket
// (for example "sms"). Wait blocks until a slot is free or ctx ends.
type RateLimiter interface {
	Allow(ctx context.Context, bucket string) (bool, error)
	Wait(ctx context.Context, bucket string) error
}
