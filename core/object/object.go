// Package object implements the server-maintained sidecar metadata attached
// to every stored STIX object: date_added, media_type, version and the
// parsed spec_version tuple used for ordered comparison. Meta is never
// serialized into a response body; it travels alongside the object in the
// in-memory record and is persisted separately (see the persistence codec
// in backend/memory).
package object

import (
	"strconv"
	"strings"
	"time"

	"github.com/medallion-go/taxii/core/clock"
	"github.com/medallion-go/taxii/core/taxiierr"
)

// Meta is the per-object sidecar record. It is never present in a
// response body's object representation.
type Meta struct {
	DateAdded   time.Time
	MediaType   string
	Version     time.Time
	SpecVersion string
	// SpecVersionTuple holds the lexical dot-separated components of
	// SpecVersion, parsed as integers, so versions can be ordered
	// ("2.10" > "2.9").
	SpecVersionTuple []int
}

// Record pairs a STIX-style JSON object body with its server-maintained
// Meta. Body never contains a "__meta" (or similar) key; the in-memory
// form and the wire form are always kept separate.
type Record struct {
	Body map[string]interface{}
	Meta Meta
}

// ID returns the STIX id of the record's body, or "" if absent.
func (r *Record) ID() string {
	id, _ := r.Body["id"].(string)
	return id
}

// ParseSpecVersionTuple splits a spec_version string like "2.1" into its
// integer components for ordered comparison.
func ParseSpecVersionTuple(specVersion string) []int {
	parts := strings.Split(specVersion, ".")
	tuple := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			// Non-numeric components sort lowest; this should not occur
			// for well-formed STIX spec_version strings.
			n = 0
		}
		tuple[i] = n
	}
	return tuple
}

// CompareSpecVersionTuples returns <0, 0, >0 as a < b, a == b, a > b,
// comparing component-wise and treating a shorter tuple's missing trailing
// components as zero.
func CompareSpecVersionTuples(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			return av - bv
		}
	}
	return 0
}

// DetermineSpecVersion determines the spec_version of a STIX object the way
// the reference server does: objects lacking both "created" and "modified"
// are treated as 2.1 observable records (SCOs) with no explicit
// spec_version; otherwise the object's own spec_version is used, defaulting
// to "2.0".
func DetermineSpecVersion(body map[string]interface{}) string {
	_, hasCreated := body["created"]
	_, hasModified := body["modified"]
	if !hasCreated && !hasModified {
		return "2.1"
	}
	if sv, ok := body["spec_version"].(string); ok && sv != "" {
		return sv
	}
	return "2.0"
}

// DefaultMediaType derives the default media type for an object lacking
// an explicit one, from its spec_version.
func DefaultMediaType(specVersion string) string {
	return "application/stix+json;version=" + specVersion
}

// DetermineVersion derives an object's logical revision timestamp: the
// parsed "modified" property, else "created", else the given fallback
// (ordinarily the server's request time or an existing date_added).
func DetermineVersion(body map[string]interface{}, fallback time.Time) (time.Time, error) {
	if m, ok := body["modified"].(string); ok && m != "" {
		return clock.ParseTimestamp(m)
	}
	if c, ok := body["created"].(string); ok && c != "" {
		return clock.ParseTimestamp(c)
	}
	return fallback, nil
}

// Stamp implements the stamp(obj, now, default_media_type) contract: it
// computes the Meta for a newly (or already) inserted object.
//
//   - DateAdded = existing.DateAdded if non-zero, else now. Fails with
//     InternalError if neither is available (now must never be the zero
//     value; this guards a genuine invariant violation, not a client error).
//   - Version = parsed modified, else parsed created, else DateAdded.
//   - MediaType = existing.MediaType if non-empty, else defaultMediaType.
//   - SpecVersionTuple is derived from SpecVersion.
func Stamp(body map[string]interface{}, existing *Meta, now time.Time, defaultMediaType string) (Meta, error) {
	var meta Meta

	if existing != nil && !existing.DateAdded.IsZero() {
		meta.DateAdded = existing.DateAdded
	} else {
		meta.DateAdded = now
	}
	if meta.DateAdded.IsZero() {
		return Meta{}, taxiierr.New(taxiierr.InternalError, "object lacks a date_added timestamp and none could be assigned")
	}

	if existing != nil && existing.MediaType != "" {
		meta.MediaType = existing.MediaType
	} else if defaultMediaType != "" {
		meta.MediaType = defaultMediaType
	} else {
		return Meta{}, taxiierr.New(taxiierr.InternalError, "object lacks a media_type and none could be assigned")
	}

	version, err := DetermineVersion(body, meta.DateAdded)
	if err != nil {
		return Meta{}, taxiierr.New(taxiierr.InternalError, "could not determine object version: %s", err)
	}
	meta.Version = version

	meta.SpecVersion = DetermineSpecVersion(body)
	meta.SpecVersionTuple = ParseSpecVersionTuple(meta.SpecVersion)

	return meta, nil
}
