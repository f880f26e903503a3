package filter

import (
	"time"

	"github.com/medallion-go/taxii/core/object"
)

// Matcher evaluates a single object against a set of already-coerced query
// values, returning whether the object passes.
type Matcher interface {
	Match(rec *object.Record, matchValues []interface{}) bool
}

// valueIn reports whether v equals any element of set, using ordinary
// comparison. All of this package's coerced types (string, int, bool,
// time.Time parsed without a monotonic reading) are comparable with ==.
func valueIn(v interface{}, set []interface{}) bool {
	for _, item := range set {
		if v == item {
			return true
		}
	}
	return false
}

// recurseSimpleValuedProperties depth-first walks value, yielding
// (propName, propValue) pairs for every simple-valued (non-list, non-map)
// property found in nested maps/lists.
func recurseSimpleValuedProperties(value interface{}, yield func(name string, value interface{})) {
	switch v := value.(type) {
	case []interface{}:
		for _, sub := range v {
			recurseSimpleValuedProperties(sub, yield)
		}
	case map[string]interface{}:
		for key, sub := range v {
			switch sub.(type) {
			case []interface{}, map[string]interface{}:
				recurseSimpleValuedProperties(sub, yield)
			default:
				yield(key, sub)
			}
		}
	}
}

// simpleValuedProperties yields simple-valued (non-list, non-map)
// properties of obj, skipping the __meta sidecar if present, optionally
// including top-level properties.
func simpleValuedProperties(body map[string]interface{}, includeTopLevel bool, yield func(name string, value interface{})) {
	for propName, propValue := range body {
		if propName == "__meta" {
			continue
		}
		switch propValue.(type) {
		case []interface{}, map[string]interface{}:
			recurseSimpleValuedProperties(propValue, yield)
		default:
			if includeTopLevel {
				yield(propName, propValue)
			}
		}
	}
}

// refProperties yields (key, ref) pairs for every "*_ref" or "*_refs"
// property found anywhere in value (not just top-level).
func refProperties(value interface{}, yield func(key string, ref interface{})) {
	switch v := value.(type) {
	case []interface{}:
		for _, sub := range v {
			refProperties(sub, yield)
		}
	case map[string]interface{}:
		for key, sub := range v {
			switch {
			case hasSuffix(key, "_ref"):
				yield(key, sub)
			case hasSuffix(key, "_refs"):
				if list, ok := sub.([]interface{}); ok {
					for _, ref := range list {
						yield(key, ref)
					}
				}
			case key == "__meta":
				// skip
			default:
				refProperties(sub, yield)
			}
		}
	}
}

func hasSuffix(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}

// TopLevelPropertyMatcher matches a plain or list-valued top-level
// property against the query's coerced values. A missing property behaves
// as if DefaultValue were present, when DefaultValue is non-nil.
type TopLevelPropertyMatcher struct {
	PropName     string
	Info         FilterInfo
	DefaultValue interface{}
}

// Match implements Matcher.
func (m TopLevelPropertyMatcher) Match(rec *object.Record, matchValues []interface{}) bool {
	raw, present := rec.Body[m.PropName]
	if !present {
		if m.DefaultValue == nil {
			return false
		}
		raw = m.DefaultValue
	}

	var values []interface{}
	if list, ok := raw.([]interface{}); ok {
		values = list
	} else {
		values = []interface{}{raw}
	}

	for _, v := range values {
		coerced, err := m.Info.Coerce(v)
		if err != nil {
			continue
		}
		if valueIn(coerced, matchValues) {
			return true
		}
	}
	return false
}

// SubPropertyMatcher matches a simple-valued property found anywhere below
// the top level. List-valued sub-properties are containers to recurse
// into, never values to compare directly.
type SubPropertyMatcher struct {
	PropName string
	Info     FilterInfo
}

// Match implements Matcher.
func (m SubPropertyMatcher) Match(rec *object.Record, matchValues []interface{}) bool {
	found := false
	simpleValuedProperties(rec.Body, false, func(name string, value interface{}) {
		if found || name != m.PropName {
			return
		}
		coerced, err := m.Info.Coerce(value)
		if err != nil {
			return
		}
		if valueIn(coerced, matchValues) {
			found = true
		}
	})
	return found
}

// TLPMatcher matches TLP markings: the union of object_marking_refs and
// every granular_markings[].marking_ref.
type TLPMatcher struct{}

// Match implements Matcher.
func (m TLPMatcher) Match(rec *object.Record, matchValues []interface{}) bool {
	refs := map[string]bool{}
	if list, ok := rec.Body["object_marking_refs"].([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				refs[s] = true
			}
		}
	}
	if granular, ok := rec.Body["granular_markings"].([]interface{}); ok {
		for _, g := range granular {
			gm, ok := g.(map[string]interface{})
			if !ok {
				continue
			}
			if ref, ok := gm["marking_ref"].(string); ok {
				refs[ref] = true
			}
		}
	}
	for _, want := range matchValues {
		ws, ok := want.(string)
		if ok && refs[ws] {
			return true
		}
	}
	return false
}

// RelationshipsAllMatcher matches objects embedding any of the query's
// reference values in any "*_ref" or "*_refs" property, anywhere in the
// object.
type RelationshipsAllMatcher struct{}

// Match implements Matcher.
func (m RelationshipsAllMatcher) Match(rec *object.Record, matchValues []interface{}) bool {
	found := false
	refProperties(rec.Body, func(_ string, ref interface{}) {
		if found {
			return
		}
		if valueIn(ref, matchValues) {
			found = true
		}
	})
	return found
}

// CompareOp is a binary comparison used by CalculationMatcher. Both
// operands have already been coerced by the same FilterInfo, so they are
// always the same concrete type: either int (the integer calculation
// filters) or time.Time (the timestamp calculation filters).
type CompareOp func(propValue, matchValue interface{}) bool

// GTE and LTE are the two comparisons the TAXII interop calculation
// filters (e.g. confidence-gte, valid_until-gte) require.
func GTE(propValue, matchValue interface{}) bool { return compareOrdered(propValue, matchValue) >= 0 }
func LTE(propValue, matchValue interface{}) bool { return compareOrdered(propValue, matchValue) <= 0 }

func compareOrdered(a, b interface{}) int {
	switch av := a.(type) {
	case int:
		bv := b.(int)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case time.Time:
		bv := b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// CalculationMatcher applies a binary comparison between a coerced property
// value found anywhere in the object, and any one of the query's values;
// true on the first satisfied comparison.
type CalculationMatcher struct {
	PropName string
	Op       CompareOp
	Info     FilterInfo
}

// Match implements Matcher.
func (m CalculationMatcher) Match(rec *object.Record, matchValues []interface{}) bool {
	found := false
	simpleValuedProperties(rec.Body, true, func(name string, value interface{}) {
		if found || name != m.PropName {
			return
		}
		coerced, err := m.Info.Coerce(value)
		if err != nil {
			return
		}
		for _, mv := range matchValues {
			if m.Op(coerced, mv) {
				found = true
				return
			}
		}
	})
	return found
}

// AddedAfterMatcher compares meta.date_added to the minimum query
// timestamp with strict ">".
type AddedAfterMatcher struct{}

// Match implements Matcher.
func (m AddedAfterMatcher) Match(rec *object.Record, matchValues []interface{}) bool {
	if len(matchValues) == 0 {
		return false
	}
	min := matchValues[0].(time.Time)
	for _, v := range matchValues[1:] {
		t := v.(time.Time)
		if t.Before(min) {
			min = t
		}
	}
	return rec.Meta.DateAdded.After(min)
}
