package filter

import (
	"testing"
	"time"

	"github.com/medallion-go/taxii/core/object"
	"github.com/stretchr/testify/require"
)

func rec(id string, dateAdded, version time.Time, specVersion string, body map[string]interface{}) *object.Record {
	b := map[string]interface{}{"id": id}
	for k, v := range body {
		b[k] = v
	}
	return &object.Record{
		Body: b,
		Meta: object.Meta{
			DateAdded:        dateAdded,
			MediaType:        object.DefaultMediaType(specVersion),
			Version:          version,
			SpecVersion:      specVersion,
			SpecVersionTuple: object.ParseSpecVersionTuple(specVersion),
		},
	}
}

func t1(s string) time.Time {
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return tm.UTC()
}

func TestProcessDefaultVersionIsLast(t *testing.T) {
	v1 := t1("2020-01-01T00:00:00Z")
	v2 := t1("2020-02-01T00:00:00Z")
	a1 := t1("2021-01-01T00:00:00Z")
	a2 := t1("2021-01-02T00:00:00Z")
	data := []*object.Record{
		rec("indicator--a", a1, v1, "2.1", nil),
		rec("indicator--a", a2, v2, "2.1", nil),
	}
	allowed := NewAllowedFilters("version", "spec_version")
	page, next, headers, err := Process(data, Args{}, allowed, nil)
	require.NoError(t, err)
	require.Empty(t, next)
	require.Len(t, page, 1)
	require.True(t, page[0].Meta.Version.Equal(v2))
	require.True(t, headers.HasValues())
}

func TestProcessVersionAll(t *testing.T) {
	v1 := t1("2020-01-01T00:00:00Z")
	v2 := t1("2020-02-01T00:00:00Z")
	added := t1("2021-01-01T00:00:00Z")
	data := []*object.Record{
		rec("indicator--a", added, v1, "2.1", nil),
		rec("indicator--a", added.Add(time.Second), v2, "2.1", nil),
	}
	allowed := NewAllowedFilters("version", "spec_version")
	page, _, _, err := Process(data, Args{"match[version]": "all"}, allowed, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)
}

func TestProcessVersionFirst(t *testing.T) {
	v1 := t1("2020-01-01T00:00:00Z")
	v2 := t1("2020-02-01T00:00:00Z")
	added := t1("2021-01-01T00:00:00Z")
	data := []*object.Record{
		rec("indicator--a", added, v1, "2.1", nil),
		rec("indicator--a", added.Add(time.Second), v2, "2.1", nil),
	}
	allowed := NewAllowedFilters("version", "spec_version")
	page, _, _, err := Process(data, Args{"match[version]": "first"}, allowed, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.True(t, page[0].Meta.Version.Equal(v1))
}

func TestProcessSpecVersionDefaultsToLatestPerID(t *testing.T) {
	added := t1("2021-01-01T00:00:00Z")
	data := []*object.Record{
		rec("indicator--a", added, added, "2.0", map[string]interface{}{"created": "2016-11-03T12:30:59.000Z"}),
		rec("indicator--a", added.Add(time.Second), added, "2.1", map[string]interface{}{"created": "2016-11-03T12:30:59.000Z", "modified": "2016-11-03T12:30:59.000Z", "spec_version": "2.1"}),
	}
	allowed := NewAllowedFilters("spec_version")
	page, _, _, err := Process(data, Args{}, allowed, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "2.1", page[0].Meta.SpecVersion)
}

func TestProcessSpecVersionExplicit(t *testing.T) {
	added := t1("2021-01-01T00:00:00Z")
	data := []*object.Record{
		rec("indicator--a", added, added, "2.0", nil),
		rec("indicator--a", added.Add(time.Second), added, "2.1", nil),
	}
	allowed := NewAllowedFilters("spec_version")
	page, _, _, err := Process(data, Args{"match[spec_version]": "2.0"}, allowed, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "2.0", page[0].Meta.SpecVersion)
}

func TestProcessTLPMatcher(t *testing.T) {
	added := t1("2021-01-01T00:00:00Z")
	greenID := "marking-definition--34098fce-860f-48ae-8e50-ebd3cc5e41da"
	data := []*object.Record{
		rec("indicator--a", added, added, "2.1", map[string]interface{}{
			"object_marking_refs": []interface{}{greenID},
		}),
		rec("indicator--b", added.Add(time.Second), added.Add(time.Second), "2.1", nil),
	}
	allowed := NewAllowedFilters("tlp")
	page, _, _, err := Process(data, Args{"match[tlp]": "green"}, allowed, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "indicator--a", page[0].ID())
}

func TestProcessAddedAfterStrictlyGreater(t *testing.T) {
	added1 := t1("2021-01-01T00:00:00Z")
	added2 := t1("2021-01-02T00:00:00Z")
	data := []*object.Record{
		rec("indicator--a", added1, added1, "2.1", nil),
		rec("indicator--b", added2, added2, "2.1", nil),
	}
	allowed := NewAllowedFilters("added_after")
	page, _, _, err := Process(data, Args{"added_after": "2021-01-01T00:00:00.000000Z"}, allowed, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "indicator--b", page[0].ID())
}

func TestProcessPaginatesByLimit(t *testing.T) {
	added1 := t1("2021-01-01T00:00:00Z")
	added2 := t1("2021-01-02T00:00:00Z")
	added3 := t1("2021-01-03T00:00:00Z")
	data := []*object.Record{
		rec("indicator--a", added1, added1, "2.1", nil),
		rec("indicator--b", added2, added2, "2.1", nil),
		rec("indicator--c", added3, added3, "2.1", nil),
	}
	limit := 2
	page, next, headers, err := Process(data, Args{}, NewAllowedFilters(), &limit)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Len(t, next, 1)
	require.Equal(t, "indicator--a", page[0].ID())
	require.Equal(t, "indicator--b", page[1].ID())
	require.True(t, headers.HasValues())
}

func TestProcessIgnoresUnrecognizedFilter(t *testing.T) {
	added := t1("2021-01-01T00:00:00Z")
	data := []*object.Record{rec("indicator--a", added, added, "2.1", nil)}
	page, _, _, err := Process(data, Args{"match[nonsense]": "x"}, NewAllowedFilters("nonsense"), nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
}

func TestProcessTopLevelTypeFilter(t *testing.T) {
	added := t1("2021-01-01T00:00:00Z")
	data := []*object.Record{
		rec("indicator--a", added, added, "2.1", map[string]interface{}{"type": "indicator"}),
		rec("malware--b", added.Add(time.Second), added.Add(time.Second), "2.1", map[string]interface{}{"type": "malware"}),
	}
	allowed := NewAllowedFilters("type")
	page, _, _, err := Process(data, Args{"match[type]": "indicator,malware"}, allowed, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)

	page, _, _, err = Process(data, Args{"match[type]": "malware"}, allowed, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "malware--b", page[0].ID())
}

func TestProcessRevokedDefaultsToFalse(t *testing.T) {
	added := t1("2021-01-01T00:00:00Z")
	data := []*object.Record{
		rec("indicator--a", added, added, "2.1", nil),
		rec("indicator--b", added.Add(time.Second), added.Add(time.Second), "2.1", map[string]interface{}{"revoked": true}),
	}
	allowed := NewAllowedFilters("revoked")
	page, _, _, err := Process(data, Args{"match[revoked]": "false"}, allowed, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "indicator--a", page[0].ID())
}
