package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewBookingID returns a lexicographically sortable identifier.
// Crockford base32 keeps it alphanumeric, so it survives bank transfer memos intact.
func NewBookingID() string {
	return newULID()
}

// NewEventID returns identifier for published events
func NewEventID() string {
	return newULID()
}

func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NormalizeBookingID accepts ids in any letter case (banks and payers may change it)
// and returns the canonical uppercase form. ok is false if value is not a booking id.
func NormalizeBookingID(value string) (id string, ok bool) {
	parsed, err := ulid.ParseStrict(strings.ToUpper(strings.TrimSpace(value)))
	if err != nil {
		return "", false
	}

	return parsed.String(), true
}
