package memory

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/medallion-go/taxii/core/backend"
	"github.com/medallion-go/taxii/core/filter"
	"github.com/medallion-go/taxii/core/taxiierr"
	"github.com/stretchr/testify/require"
)

const collID = "91a7b528-80eb-42ed-a74d-c6fbd5a26116"

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{
		Discovery: backend.Discovery{Title: "Test TAXII server", APIRoots: []string{"trustgroup1"}},
		APIRoots: map[string]*APIRootConfig{
			"trustgroup1": {
				Info: backend.APIRootInfo{Title: "trustgroup1", Versions: []string{"application/taxii+json;version=2.1"}},
				Collections: map[string]*Collection{
					collID: {ID: collID, Title: "indicators", CanRead: true, CanWrite: true},
				},
			},
		},
		SessionTimeout:  time.Hour,
		StatusRetention: 24 * time.Hour,
	})
	require.NoError(t, err)
	return b
}

func addBundle(t *testing.T, b *Backend, id string, modified string) {
	t.Helper()
	envelope := map[string]interface{}{
		"objects": []interface{}{
			map[string]interface{}{
				"id": id, "type": "indicator", "spec_version": "2.1",
				"created": modified, "modified": modified, "pattern": "[ipv4-addr:value = '1.2.3.4']",
			},
		},
	}
	_, err := b.AddObjects(context.Background(), "trustgroup1", collID, envelope, time.Now())
	require.NoError(t, err)
}

func TestAddAndReadBack(t *testing.T) {
	b := newTestBackend(t)
	id := "indicator--cd981c25-8042-4166-8945-51178443bdac"
	addBundle(t, b, id, "2016-11-03T12:30:59.000Z")

	env, _, err := b.GetObjects(context.Background(), "trustgroup1", collID, backend.Query{
		Args:    filter.Args{"match[id]": id},
		Allowed: filter.NewAllowedFilters("id", "version", "spec_version"),
	})
	require.NoError(t, err)
	require.Len(t, env.Objects, 1)
	require.Equal(t, id, env.Objects[0]["id"])
}

func TestAddObjectsReturnsStatusWithSuccessCount(t *testing.T) {
	b := newTestBackend(t)
	envelope := map[string]interface{}{
		"objects": []interface{}{
			map[string]interface{}{"id": "indicator--a", "type": "indicator", "created": "2016-11-03T12:30:59.000Z"},
			"not-an-object",
		},
	}
	rec, err := b.AddObjects(context.Background(), "trustgroup1", collID, envelope, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, rec.SuccessCount)
	require.Equal(t, 1, rec.FailureCount)
	require.Equal(t, 2, rec.TotalCount)
}

func TestDuplicateAddIsSuccessWithMessage(t *testing.T) {
	b := newTestBackend(t)
	id := "indicator--dup"
	addBundle(t, b, id, "2016-11-03T12:30:59.000Z")
	rec, err := b.AddObjects(context.Background(), "trustgroup1", collID, map[string]interface{}{
		"objects": []interface{}{
			map[string]interface{}{
				"id": id, "type": "indicator", "spec_version": "2.1",
				"created": "2016-11-03T12:30:59.000Z", "modified": "2016-11-03T12:30:59.000Z",
			},
		},
	}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, rec.SuccessCount)
	require.Equal(t, 0, rec.FailureCount)
	require.Equal(t, "Object already added", rec.Successes[0].Message)

	env, _, err := b.GetObjects(context.Background(), "trustgroup1", collID, backend.Query{
		Args:    filter.Args{"match[id]": id, "match[version]": "all"},
		Allowed: filter.NewAllowedFilters("id", "version", "spec_version"),
	})
	require.NoError(t, err)
	require.Len(t, env.Objects, 1)
}

func TestGetObjectMissingIDIs404(t *testing.T) {
	b := newTestBackend(t)
	_, _, err := b.GetObject(context.Background(), "trustgroup1", collID, "indicator--missing", backend.Query{
		Args: filter.Args{}, Allowed: filter.NewAllowedFilters("version", "spec_version"),
	})
	require.Error(t, err)
	te, ok := taxiierr.As(err)
	require.True(t, ok)
	require.Equal(t, 404, te.HTTPStatus())
}

func TestGetObjectExistsButFilteredIsEmptyEnvelope(t *testing.T) {
	b := newTestBackend(t)
	id := "indicator--exists"
	addBundle(t, b, id, "2016-11-03T12:30:59.000Z")

	env, _, err := b.GetObject(context.Background(), "trustgroup1", collID, id, backend.Query{
		Args:    filter.Args{"match[type]": "malware"},
		Allowed: filter.NewAllowedFilters("type", "version", "spec_version"),
	})
	require.NoError(t, err)
	require.Empty(t, env.Objects)
}

func TestDeleteObject(t *testing.T) {
	b := newTestBackend(t)
	id := "indicator--to-delete"
	addBundle(t, b, id, "2016-11-03T12:30:59.000Z")

	err := b.DeleteObject(context.Background(), "trustgroup1", collID, id, backend.Query{Args: filter.Args{}, Allowed: filter.NewAllowedFilters()})
	require.NoError(t, err)

	_, _, err = b.GetObjectVersions(context.Background(), "trustgroup1", collID, id, backend.Query{
		Args: filter.Args{}, Allowed: filter.NewAllowedFilters("version", "spec_version"),
	})
	require.Error(t, err)
}

func TestDeleteNonexistentObjectIs404(t *testing.T) {
	b := newTestBackend(t)
	err := b.DeleteObject(context.Background(), "trustgroup1", collID, "indicator--nope", backend.Query{Args: filter.Args{}, Allowed: filter.NewAllowedFilters()})
	require.Error(t, err)
}

func TestPaginationStability(t *testing.T) {
	b := newTestBackend(t)
	for i := 0; i < 5; i++ {
		addBundle(t, b, "indicator--page", time.Date(2016, 11, 3, 12, 30, 59+i, 0, time.UTC).Format("2006-01-02T15:04:05Z"))
	}

	limit := 2
	args := filter.Args{"match[id]": "indicator--page", "match[version]": "all"}
	allowed := filter.NewAllowedFilters("id", "version", "spec_version")

	env1, _, err := b.GetObjects(context.Background(), "trustgroup1", collID, backend.Query{Args: args, Allowed: allowed, Limit: &limit})
	require.NoError(t, err)
	require.Len(t, env1.Objects, 2)
	require.True(t, env1.More)
	require.NotEmpty(t, env1.Next)

	args2 := args.Clone()
	args2["next"] = env1.Next
	env2, _, err := b.GetObjects(context.Background(), "trustgroup1", collID, backend.Query{Args: args2, Allowed: allowed, Limit: &limit})
	require.NoError(t, err)
	require.Len(t, env2.Objects, 2)
	require.True(t, env2.More)

	args3 := args.Clone()
	args3["next"] = env2.Next
	env3, _, err := b.GetObjects(context.Background(), "trustgroup1", collID, backend.Query{Args: args3, Allowed: allowed, Limit: &limit})
	require.NoError(t, err)
	require.Len(t, env3.Objects, 1)
	require.False(t, env3.More)
}

func TestSessionInvalidationOnParamDrift(t *testing.T) {
	b := newTestBackend(t)
	for i := 0; i < 3; i++ {
		addBundle(t, b, "indicator--drift", time.Date(2016, 11, 3, 12, 30, 59+i, 0, time.UTC).Format("2006-01-02T15:04:05Z"))
	}
	limit := 2
	args := filter.Args{"match[id]": "indicator--drift", "match[version]": "all"}
	allowed := filter.NewAllowedFilters("id", "version", "spec_version")

	env1, _, err := b.GetObjects(context.Background(), "trustgroup1", collID, backend.Query{Args: args, Allowed: allowed, Limit: &limit})
	require.NoError(t, err)
	require.True(t, env1.More)

	driftedArgs := filter.Args{"match[id]": "indicator--drift", "match[version]": "first", "next": env1.Next}
	_, _, err = b.GetObjects(context.Background(), "trustgroup1", collID, backend.Query{Args: driftedArgs, Allowed: allowed, Limit: &limit})
	require.Error(t, err)
	te, ok := taxiierr.As(err)
	require.True(t, ok)
	require.Equal(t, 400, te.HTTPStatus())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	addBundle(t, b, "indicator--persisted", "2016-11-03T12:30:59.000Z")

	var buf bytes.Buffer
	require.NoError(t, b.Save(&buf))

	b2, err := New(Config{SessionTimeout: time.Hour, StatusRetention: 24 * time.Hour})
	require.NoError(t, err)
	require.NoError(t, b2.Load(bytes.NewReader(buf.Bytes())))

	env, _, err := b2.GetObjects(context.Background(), "trustgroup1", collID, backend.Query{
		Args:    filter.Args{"match[id]": "indicator--persisted"},
		Allowed: filter.NewAllowedFilters("id", "version", "spec_version"),
	})
	require.NoError(t, err)
	require.Len(t, env.Objects, 1)
}

func TestInteropModeRejectsShortRetention(t *testing.T) {
	_, err := New(Config{InteropMode: true, StatusRetention: time.Hour})
	require.Error(t, err)
}

func TestInteropModeRejectsDisabledRetention(t *testing.T) {
	_, err := New(Config{InteropMode: true, StatusRetention: 0})
	require.Error(t, err)
}
