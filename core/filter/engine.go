// Package filter implements the composable matcher engine described in
// §4.2: top-level, nested, reference, calculation, TLP, added-after,
// version and spec_version predicates, with well-defined first/last/all
// semantics and deterministic (date_added, insertion order) pagination.
package filter

import (
	"sort"
	"strings"

	"github.com/medallion-go/taxii/core/clock"
	"github.com/medallion-go/taxii/core/object"
	"github.com/medallion-go/taxii/core/taxiierr"
)

// Args is a mapping of query parameter name ("match[type]", "added_after",
// ...) to its raw, possibly comma-joined string value, exactly as the
// values arrive from an HTTP query string.
type Args map[string]string

// Clone returns a shallow copy of Args.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// AllowedFilters is the set of bare filter names (without the surrounding
// "match[...]") a particular endpoint permits.
type AllowedFilters map[string]bool

// NewAllowedFilters builds an AllowedFilters set from a list of bare names.
func NewAllowedFilters(names ...string) AllowedFilters {
	out := make(AllowedFilters, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// bareName strips the "match[" / "]" wrapper from a filter query parameter
// name, or returns the name unchanged for "added_after".
func bareName(filterArg string) string {
	if strings.HasPrefix(filterArg, "match[") && strings.HasSuffix(filterArg, "]") {
		return filterArg[len("match[") : len(filterArg)-1]
	}
	return filterArg
}

func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// Headers holds the X-TAXII-Date-Added-First/Last values computed from a
// result page, in taxii timestamp form. Zero value means "omit both
// headers" (an empty page).
type Headers struct {
	First string
	Last  string
	set   bool
}

// HasValues reports whether the headers should be emitted at all.
func (h Headers) HasValues() bool { return h.set }

// NewHeaders builds Headers from already-known first/last taxii-format
// timestamps, for callers that compute a page outside of Process (e.g. a
// paging-session continuation).
func NewHeaders(first, last string) Headers {
	return Headers{First: first, Last: last, set: true}
}

// HeadersFromPage computes Headers the same way Process does, from an
// already-sorted, already-paginated slice of records.
func HeadersFromPage(page []*object.Record) Headers {
	if len(page) == 0 {
		return Headers{}
	}
	return NewHeaders(clock.TaxiiFormat(page[0].Meta.DateAdded), clock.TaxiiFormat(page[len(page)-1].Meta.DateAdded))
}

type propMatcher struct {
	matcher     Matcher
	matchValues []interface{}
}

// Process runs the full §4.2 pipeline against data: it builds the matcher
// plan from args ∩ allowed, applies property matchers AND-wise, applies
// the version and spec_version filters, sorts by date_added ascending, and
// paginates by limit. A nil limit means "no limit" (all matched objects
// form the page; nextSlice is always empty).
func Process(data []*object.Record, args Args, allowed AllowedFilters, limit *int) (page, nextSlice []*object.Record, headers Headers, err error) {
	// Stage 1: build the matcher plan, sorted by speed tier.
	var filterKeys []string
	for key := range args {
		bn := bareName(key)
		if !allowed[bn] {
			continue
		}
		if bn == "version" || bn == "spec_version" {
			// These get specialized post-processing below, not a uniform
			// property matcher.
			continue
		}
		if _, ok := filterInfoFor(bn); !ok {
			// Unrecognized filter name: silently ignored.
			continue
		}
		filterKeys = append(filterKeys, key)
	}
	sort.Slice(filterKeys, func(i, j int) bool {
		return speedTier(bareName(filterKeys[i])) < speedTier(bareName(filterKeys[j]))
	})

	var plan []propMatcher
	for _, key := range filterKeys {
		bn := bareName(key)
		m := buildMatcher(bn)
		if m == nil {
			continue
		}
		info, _ := filterInfoFor(bn)
		rawValues := splitCommaList(args[key])
		coerced := make([]interface{}, 0, len(rawValues))
		for _, rv := range rawValues {
			cv, cerr := info.Coerce(rv)
			if cerr != nil {
				return nil, nil, Headers{}, taxiierr.New(
					taxiierr.BadRequest, "invalid query value(s) for %s: %s", key, cerr,
				)
			}
			coerced = append(coerced, cv)
		}
		plan = append(plan, propMatcher{matcher: m, matchValues: coerced})
	}

	// Stage 2: apply property matchers AND-wise.
	matched := make([]*object.Record, 0, len(data))
	for _, rec := range data {
		ok := true
		for _, pm := range plan {
			if !pm.matcher.Match(rec, pm.matchValues) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, rec)
		}
	}

	// Stage 3: version filter.
	matched, err = applyVersionFilter(matched, args["match[version]"], allowed["version"])
	if err != nil {
		return nil, nil, Headers{}, err
	}

	// Stage 4: spec_version filter.
	if allowed["spec_version"] {
		matched = applySpecVersionFilter(matched, args["match[spec_version]"])
	}

	// Stage 5 + 6: sort and paginate.
	page, nextSlice, headers = sortAndPaginate(matched, limit)
	return page, nextSlice, headers, nil
}

func sortAndPaginate(data []*object.Record, limit *int) ([]*object.Record, []*object.Record, Headers) {
	sort.SliceStable(data, func(i, j int) bool {
		return data[i].Meta.DateAdded.Before(data[j].Meta.DateAdded)
	})

	var page, rest []*object.Record
	if limit == nil {
		page = data
	} else if *limit <= 0 {
		page = nil
		rest = nil
	} else if *limit >= len(data) {
		page = data
	} else {
		page = data[:*limit]
		rest = data[*limit:]
	}

	var headers Headers
	if len(page) > 0 {
		headers = Headers{
			First: clock.TaxiiFormat(page[0].Meta.DateAdded),
			Last:  clock.TaxiiFormat(page[len(page)-1].Meta.DateAdded),
			set:   true,
		}
	}
	return page, rest, headers
}

// applyVersionFilter implements the match[version] semantics: default
// "last"; "all" short-circuits to identity; otherwise group by id and
// select the earliest/latest/exact-timestamp member(s) of each group.
func applyVersionFilter(data []*object.Record, raw string, allowed bool) ([]*object.Record, error) {
	if !allowed {
		return data, nil
	}

	values := splitCommaList(raw)
	if len(values) == 0 {
		values = []string{"last"}
	}

	for _, v := range values {
		if v == "all" {
			return data, nil
		}
	}

	type bounds struct {
		earliest, latest *object.Record
	}
	byID := map[string]*bounds{}
	for _, rec := range data {
		id := rec.ID()
		b, ok := byID[id]
		if !ok {
			b = &bounds{earliest: rec, latest: rec}
			byID[id] = b
			continue
		}
		if rec.Meta.Version.Before(b.earliest.Meta.Version) {
			b.earliest = rec
		}
		if rec.Meta.Version.After(b.latest.Meta.Version) {
			b.latest = rec
		}
	}

	wantFirst, wantLast := false, false
	var exactTimes []interface{}
	for _, v := range values {
		switch v {
		case "first":
			wantFirst = true
		case "last":
			wantLast = true
		default:
			t, err := clock.ParseTimestamp(v)
			if err != nil {
				return nil, taxiierr.New(taxiierr.BadRequest, "invalid query value for match[version]: %s", v)
			}
			exactTimes = append(exactTimes, t)
		}
	}

	var out []*object.Record
	for _, rec := range data {
		b := byID[rec.ID()]
		matched := false
		if wantFirst && rec == b.earliest {
			matched = true
		}
		if !matched && wantLast && rec == b.latest {
			matched = true
		}
		if !matched && valueIn(rec.Meta.Version, exactTimes) {
			matched = true
		}
		if matched {
			out = append(out, rec)
		}
	}
	return out, nil
}

// applySpecVersionFilter implements match[spec_version]: absent means
// "retain the latest spec_version tuple per id family"; present means
// "retain objects whose spec_version is in the set".
func applySpecVersionFilter(data []*object.Record, raw string) []*object.Record {
	values := splitCommaList(raw)
	if len(values) > 0 {
		wanted := map[string]bool{}
		for _, v := range values {
			wanted[v] = true
		}
		var out []*object.Record
		for _, rec := range data {
			if wanted[rec.Meta.SpecVersion] {
				out = append(out, rec)
			}
		}
		return out
	}

	latestTuple := map[string][]int{}
	for _, rec := range data {
		id := rec.ID()
		cur, ok := latestTuple[id]
		if !ok || object.CompareSpecVersionTuples(rec.Meta.SpecVersionTuple, cur) > 0 {
			latestTuple[id] = rec.Meta.SpecVersionTuple
		}
	}

	var out []*object.Record
	for _, rec := range data {
		if object.CompareSpecVersionTuples(rec.Meta.SpecVersionTuple, latestTuple[rec.ID()]) == 0 {
			out = append(out, rec)
		}
	}
	return out
}
