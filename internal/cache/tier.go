// Package cache implements the two-tier key/value cache shared by the resolvers,
// the identity store and the dedup gate.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by a Tier when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Tier is a single cache level. Get returns the remaining TTL alongside the
// value; a non-positive TTL means the tier could not report one.
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache is the typed get/set contract the pipeline components depend on.
// Store satisfies it.
type Cache interface {
	Get(ctx context.Context, cat Category, key string, dst any) bool
	Set(ctx context.Context, cat Category, key string, value any, ttl time.Duration)
}

// Category namespaces keys and labels metrics.
type Category string

const (
	CategoryLocation     Category = "location"
	CategoryThreat       Category = "threat"
	CategoryDedup        Category = "dedup"
	CategorySession      Category = "session"
	CategorySessionIndex Category = "session_idx"
	CategorySuspicious   Category = "suspicious"
)

func namespaced(cat Category, key string) string {
	return string(cat) + ":" + key
}
