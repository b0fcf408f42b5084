package query

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidKey = errors.New("query: invalid key")
	ErrNoFetcher  = errors.New("query: no fetch function")
	ErrClosed     = errors.New("query: client closed")
)

// State is the lifecycle of one cached key.
type State int

const (
	// StateAbsent: never fetched, or fetched and failed before any data.
	StateAbsent State = iota
	// StateFetching: a request for the key is in flight.
	StateFetching
	// StateFresh: data is within its staleness window.
	StateFresh
	// StateStale: data exists but is past its window or was invalidated.
	StateStale
	// StateFailed: the last fetch failed and there is no data.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateFetching:
		return "fetching"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Update is delivered to subscribers whenever a key changes.
type Update struct {
	Key       Key
	State     State
	Data      []byte
	Err       error
	UpdatedAt time.Time
}

// Info describes a cached key for inspection.
type Info struct {
	Key         string    `json:"key"`
	State       State     `json:"state"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	StaleAt     time.Time `json:"stale_at,omitempty"`
	Invalidated bool      `json:"invalidated"`
	Subscribers int       `json:"subscribers"`
	Version     uint64    `json:"version"`
	Error       string    `json:"error,omitempty"`
}

// Conflict records a mutation response that arrived after a later-issued
// mutation had already written the same entity. The late response is
// discarded.
type Conflict struct {
	Key      Key
	Mutation string
	// Sequence is the discarded mutation's stamp; Applied is the stamp of
	// the write that is kept.
	Sequence uint64
	Applied  uint64
	At       time.Time
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: %s #%d discarded, #%d kept", c.Key, c.Mutation, c.Sequence, c.Applied)
}
