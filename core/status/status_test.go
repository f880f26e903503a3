package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewComputesTotalsInvariant(t *testing.T) {
	rec := New(time.Now(), Complete,
		[]Detail{{ID: "indicator--a", Version: "2016-11-03T12:30:59.000Z"}},
		[]Detail{{ID: "indicator--b", Version: UnknownVersion, Message: "duplicate"}},
		nil,
	)
	require.Equal(t, 2, rec.TotalCount)
	require.Equal(t, 1, rec.SuccessCount)
	require.Equal(t, 1, rec.FailureCount)
	require.Equal(t, 0, rec.PendingCount)
	require.Equal(t, Complete, rec.Status)
}

func TestStorePutGet(t *testing.T) {
	store := NewStore()
	rec := New(time.Now(), Complete, nil, nil, nil)
	store.Put(rec)
	require.Equal(t, rec, store.Get(rec.ID))
	require.Nil(t, store.Get("missing"))
}

func TestSweepExpiredRemovesOldRecords(t *testing.T) {
	store := NewStore()
	old := New(time.Now().Add(-48*time.Hour), Complete, nil, nil, nil)
	fresh := New(time.Now(), Complete, nil, nil, nil)
	store.Put(old)
	store.Put(fresh)

	store.SweepExpired(time.Now(), 24*time.Hour)
	require.Equal(t, 1, store.Len())
	require.NotNil(t, store.Get(fresh.ID))
}
