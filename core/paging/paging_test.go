package paging

import (
	"testing"
	"time"

	"github.com/medallion-go/taxii/core/filter"
	"github.com/medallion-go/taxii/core/object"
	"github.com/stretchr/testify/require"
)

func records(n int) []*object.Record {
	out := make([]*object.Record, n)
	for i := range out {
		out[i] = &object.Record{Body: map[string]interface{}{"id": "indicator--x"}}
	}
	return out
}

func intPtr(n int) *int { return &n }

func TestCreateAndConsumeDrainsAllObjects(t *testing.T) {
	store := NewStore()
	args := filter.Args{"match[type]": "indicator", "limit": "2"}
	now := time.Now()

	key := store.Create(args, records(3), now)
	require.Equal(t, 1, store.Len())

	page, more, next, err := store.Consume(key, args, intPtr(2))
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, key, next)
	require.Len(t, page, 2)

	page, more, _, err = store.Consume(key, args, intPtr(2))
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, page, 1)
	require.Equal(t, 0, store.Len())
}

func TestConsumeRejectsUnknownKey(t *testing.T) {
	store := NewStore()
	_, _, _, err := store.Consume("nonexistent", filter.Args{}, intPtr(10))
	require.Error(t, err)
}

func TestConsumeRejectsDriftedArgs(t *testing.T) {
	store := NewStore()
	args := filter.Args{"match[type]": "indicator"}
	key := store.Create(args, records(3), time.Now())

	_, _, _, err := store.Consume(key, filter.Args{"match[version]": "first"}, intPtr(10))
	require.Error(t, err)
}

func TestConsumeIgnoresArgOrderWithinCommaList(t *testing.T) {
	store := NewStore()
	createArgs := filter.Args{"match[type]": "indicator,malware"}
	key := store.Create(createArgs, records(2), time.Now())

	consumeArgs := filter.Args{"match[type]": "malware,indicator"}
	page, more, _, err := store.Consume(key, consumeArgs, intPtr(10))
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, page, 2)
}

func TestConsumeWithExplicitZeroLimitReturnsEmptyPage(t *testing.T) {
	store := NewStore()
	args := filter.Args{"match[type]": "indicator"}
	key := store.Create(args, records(3), time.Now())

	page, more, next, err := store.Consume(key, args, intPtr(0))
	require.NoError(t, err)
	require.False(t, more)
	require.Empty(t, next)
	require.Empty(t, page)
	require.Equal(t, 0, store.Len())
}

func TestConsumeWithNilLimitReturnsEverythingRemaining(t *testing.T) {
	store := NewStore()
	args := filter.Args{"match[type]": "indicator"}
	key := store.Create(args, records(3), time.Now())

	page, more, _, err := store.Consume(key, args, nil)
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, page, 3)
}

func TestSweepExpiredRemovesOldSessions(t *testing.T) {
	store := NewStore()
	old := time.Now().Add(-time.Hour)
	store.Create(filter.Args{}, records(1), old)
	store.Create(filter.Args{"match[id]": "indicator--y"}, records(1), time.Now())

	store.SweepExpired(time.Now(), 10*time.Minute)
	require.Equal(t, 1, store.Len())
}
