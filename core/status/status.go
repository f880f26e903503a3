// Package status implements the add-object status lifecycle described in
// §4.4: a per-API-root map of status-id to status record, with
// success/failure/pending detail lists and retention-based expiry.
package status

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the status record's lifecycle state. The reference backend only
// ever produces Complete; Pending exists for interface completeness since
// the contract names it, but no code path here ever emits it.
type State string

// The two recognized status states.
const (
	Complete State = "complete"
	Pending  State = "pending"
)

// Detail is one object's outcome within an add_objects call.
type Detail struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Message string `json:"message,omitempty"`
}

// UnknownID and UnknownVersion are the sentinel values recorded for a
// submitted envelope entry that could not even be parsed as an object.
const (
	UnknownID      = "<unknown id>"
	UnknownVersion = "<unknown version>"
)

// Record is a single status resource.
type Record struct {
	ID               string    `json:"id"`
	Status           State     `json:"status"`
	RequestTimestamp time.Time `json:"request_timestamp"`
	TotalCount       int       `json:"total_count"`
	SuccessCount     int       `json:"success_count"`
	FailureCount     int       `json:"failure_count"`
	PendingCount     int       `json:"pending_count"`
	Successes        []Detail  `json:"successes,omitempty"`
	Failures         []Detail  `json:"failures,omitempty"`
	Pendings         []Detail  `json:"pendings,omitempty"`
}

// New builds a Record, enforcing the totals invariant from the detail
// lists: total_count == len(successes) + len(failures) + len(pendings),
// and each *_count mirrors its list's length.
func New(requestTime time.Time, state State, successes, failures, pendings []Detail) *Record {
	return &Record{
		ID:               uuid.NewString(),
		Status:           state,
		RequestTimestamp: requestTime,
		TotalCount:       len(successes) + len(failures) + len(pendings),
		SuccessCount:     len(successes),
		FailureCount:     len(failures),
		PendingCount:     len(pendings),
		Successes:        successes,
		Failures:         failures,
		Pendings:         pendings,
	}
}

// Store holds every status record for one API root. Safe for concurrent
// use.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Put inserts or replaces a status record under its own ID.
func (s *Store) Put(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
}

// Get returns the record with the given id, or nil if absent.
func (s *Store) Get(id string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

// SweepExpired deletes every record whose age exceeds retention as of now.
// Intended to be called from an expiry.Sweeper TaskFunc.
func (s *Store) SweepExpired(now time.Time, retention time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if now.Sub(rec.RequestTimestamp) > retention {
			delete(s.records, id)
		}
	}
}

// Len reports the number of live records; exposed for tests and metrics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Snapshot returns a shallow copy of every live record, keyed by id, for
// use by a persistence codec.
func (s *Store) Snapshot() map[string]*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Record, len(s.records))
	for id, rec := range s.records {
		out[id] = rec
	}
	return out
}
