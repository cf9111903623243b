// Package dedup remembers recently processed inbound updates so redelivered
// webhooks are dropped before any side effect happens.
package dedup

import (
	"context"
	"time"
)

// DefaultTTL is how long a key is remembered after it is first seen.
const DefaultTTL = 10 * time.Minute

// Store is a set of keys with a fixed lifetime. MarkIfNew is atomic: of two
// concurrent calls with the same key exactly one reports true.
type Store interface {
	MarkIfNew(ctx context.Context, key string) (bool, error)
	Close() error
}
