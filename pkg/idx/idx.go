// Package idx generates ULID identifiers used to correlate log lines of a
// single operation. User records themselves are keyed by storage-assigned
// integers; idx values never reach the database.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ID string

const Zero ID = ""

// ErrInvalid reports a malformed ULID string.
var ErrInvalid = errors.New("idx: invalid ulid")

var (
	mu      sync.Mutex
	once    sync.Once
	entropy *ulid.MonotonicEntropy
)

// New returns a lexicographically sortable ULID for the current UTC time.
func New() ID {
	return NewAt(time.Now().UTC())
}

// NewAt generates an ID at the provided time. Calls within the same
// millisecond are strictly increasing.
func NewAt(t time.Time) ID {
	once.Do(func() { entropy = ulid.Monotonic(rand.Reader, 0) })

	mu.Lock()
	defer mu.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}

// Parse validates s as a canonical ULID, e.g. an operation id handed in by
// a caller that wants its own id on our log lines.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}
	if _, err := ulid.ParseStrict(s); err != nil {
		return Zero, ErrInvalid
	}
	return ID(s), nil
}

func (id ID) String() string { return string(id) }
