// Package paging implements the server-side pagination session store
// described in §4.3: an opaque key maps to the remaining result slice, the
// normalized filter arguments that produced it, and a request time used by
// the background expiry sweeper. Session lookup compares the normalized
// arguments of the follow-up call to the recorded set and rejects drift.
package paging

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medallion-go/taxii/core/filter"
	"github.com/medallion-go/taxii/core/object"
	"github.com/medallion-go/taxii/core/taxiierr"
)

type session struct {
	remaining   []*object.Record
	normalized  string
	requestTime time.Time
}

// Store holds in-flight paging sessions keyed by their opaque key; each
// backend keeps one Store for all of its API roots and collections. It is
// safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*session)}
}

// normalize implements the §4.3 normalization: drop limit and next, then
// for every remaining argument split its comma-joined value, sort the
// pieces, and fold the whole thing into one comparable string.
func normalize(args filter.Args) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		if k == "limit" || k == "next" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		parts := strings.Split(args[k], ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		sort.Strings(parts)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(parts, ","))
		b.WriteByte(';')
	}
	return b.String()
}

// Create allocates a new session for a next_slice that remains after the
// first page was served, returning its opaque key. remaining must be
// non-empty; callers should not call Create for an exhausted slice.
func (s *Store) Create(args filter.Args, remaining []*object.Record, now time.Time) string {
	key := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = &session{
		remaining:   remaining,
		normalized:  normalize(args),
		requestTime: now,
	}
	return key
}

// Consume resolves a "next" key, validates that args (sans limit/next)
// match the session's recorded arguments, and returns up to limit objects
// from the remaining slice. more is true iff further objects remain after
// this call, in which case nextKey identifies the still-live session
// (unchanged: sessions keep their original key for their whole lifetime).
// limit mirrors filter.Process's tri-state: nil means no limit was given
// (return everything remaining), a non-nil *0 means the caller asked for
// an empty page, matching sortAndPaginate's handling of the first page.
func (s *Store) Consume(key string, args filter.Args, limit *int) (page []*object.Record, more bool, nextKey string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, false, "", taxiierr.New(taxiierr.BadRequest, "'next' not valid")
	}
	if normalize(args) != sess.normalized {
		return nil, false, "", taxiierr.New(taxiierr.BadRequest, "params changed over subsequent transaction")
	}

	remaining := sess.remaining
	if limit != nil && *limit <= 0 {
		delete(s.sessions, key)
		return nil, false, "", nil
	}

	var take int
	if limit == nil || *limit >= len(remaining) {
		take = len(remaining)
	} else {
		take = *limit
	}
	page = remaining[:take]
	rest := remaining[take:]

	if len(rest) > 0 {
		sess.remaining = rest
		return page, true, key, nil
	}
	delete(s.sessions, key)
	return page, false, "", nil
}

// SweepExpired deletes every session whose age exceeds timeout as of now.
// Intended to be called from an expiry.Sweeper TaskFunc.
func (s *Store) SweepExpired(now time.Time, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sess := range s.sessions {
		if now.Sub(sess.requestTime) > timeout {
			delete(s.sessions, key)
		}
	}
}

// Len reports the number of live sessions; exposed for tests and metrics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
