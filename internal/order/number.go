package order

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewOrderNumber returns "ORD-" plus a ULID stamped with now. Numbers minted
// in the same millisecond still sort in creation order.
func NewOrderNumber(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "ORD-" + ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
