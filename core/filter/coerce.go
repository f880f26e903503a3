package filter

import (
	"fmt"
	"strconv"
	"time"

	"github.com/medallion-go/taxii/core/clock"
)

// Coercer converts a raw value — either a string taken from a query
// parameter, or a value already decoded from an object's JSON body — into
// a canonical, comparable Go value of the matcher's expected type. Coercers
// must be idempotent: passing through an already-correctly-typed value.
type Coercer func(interface{}) (interface{}, error)

// StixType labels the STIX-defined semantics of a filterable property.
type StixType int

// The type categories filterable properties fall into.
const (
	StringType StixType = iota
	IntegerType
	BooleanType
	TimestampType
)

// FilterInfo bundles a property's STIX type with its coercer.
type FilterInfo struct {
	Type    StixType
	Coerce  Coercer
	display string
}

func coerceString(v interface{}) (interface{}, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	default:
		return fmt.Sprintf("%v", s), nil
	}
}

func coerceInt(v interface{}) (interface{}, error) {
	switch n := v.(type) {
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return nil, fmt.Errorf("not a base-10 integer: %q", n)
		}
		return i, nil
	case float64:
		if n != float64(int(n)) {
			return nil, fmt.Errorf("not an integral number: %v", n)
		}
		return int(n), nil
	case int:
		return n, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to integer", v)
	}
}

// coerceBool implements STIX boolean semantics: the string "false" (and
// only that, case-sensitively) coerces to false; any other non-empty
// string, or the native bool true, coerces to true.
func coerceBool(v interface{}) (interface{}, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return b != "" && b != "false", nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to boolean", v)
	}
}

func coerceTimestamp(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := clock.ParseTimestamp(t)
		if err != nil {
			return nil, err
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to timestamp", v)
	}
}

// tlpShortNameMap maps a TLP short name ("white", "green", "amber",
// "red") to its fixed marking definition ID. coerceTLP resolves short names
// through it and passes an already-valid marking definition ID through
// unchanged, which makes the coercer idempotent.
var tlpShortNameMap = map[string]string{
	"white": "marking-definition--613f2e26-407d-48c7-9eca-b8e91df99dc9",
	"green": "marking-definition--34098fce-860f-48ae-8e50-ebd3cc5e41da",
	"amber": "marking-definition--f88d31f6-486f-44da-b317-01333bde0b82",
	"red":   "marking-definition--5e57c739-391a-4eb3-b6be-7d15ca92d5ed",
}

func coerceTLP(v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("TLP marking short name must be a string, got %T", v)
	}
	for _, id := range tlpShortNameMap {
		if s == id {
			return s, nil
		}
	}
	id, ok := tlpShortNameMap[s]
	if !ok {
		return nil, fmt.Errorf("unrecognized TLP marking short name: %s", s)
	}
	return id, nil
}

// Predefined FilterInfo values reused across the recognized filter table.
var (
	StringFilter    = FilterInfo{Type: StringType, Coerce: coerceString}
	IntegerFilter   = FilterInfo{Type: IntegerType, Coerce: coerceInt}
	BooleanFilter   = FilterInfo{Type: BooleanType, Coerce: coerceBool}
	TimestampFilter = FilterInfo{Type: TimestampType, Coerce: coerceTimestamp}
	TLPFilter       = FilterInfo{Type: StringType, Coerce: coerceTLP}
)
