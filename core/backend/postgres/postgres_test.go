package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/medallion-go/taxii/core/backend"
)

var _ backend.Backend = (*Backend)(nil)

func newMockBackend(t *testing.T) (*Backend, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	b, err := New(Config{
		DB:              &DB{DB: sqlDB, Schema: "taxii"},
		SessionTimeout:  time.Hour,
		StatusRetention: 24 * time.Hour,
	})
	require.NoError(t, err)
	return b, mock
}

func TestGetCollectionFound(t *testing.T) {
	b, mock := newMockBackend(t)
	rows := sqlmock.NewRows([]string{"id", "title", "description", "can_read", "can_write", "media_types"}).
		AddRow("coll-1", "indicators", "", true, true, []byte(`["application/stix+json;version=2.1"]`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, title, description, can_read, can_write, media_types FROM`)).
		WithArgs("trustgroup1", "coll-1").WillReturnRows(rows)

	summary, err := b.GetCollection(context.Background(), "trustgroup1", "coll-1")
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.Equal(t, "indicators", summary.Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCollectionMissingReturnsNilNil(t *testing.T) {
	b, mock := newMockBackend(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, title, description, can_read, can_write, media_types FROM`)).
		WithArgs("trustgroup1", "nope").WillReturnError(sql.ErrNoRows)

	summary, err := b.GetCollection(context.Background(), "trustgroup1", "nope")
	require.NoError(t, err)
	require.Nil(t, summary)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddObjectsInsertsAndRecordsSuccess(t *testing.T) {
	b, mock := newMockBackend(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT media_types FROM`)).
		WillReturnRows(sqlmock.NewRows([]string{"media_types"}).AddRow([]byte(`[]`)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	envelope := map[string]interface{}{
		"objects": []interface{}{
			map[string]interface{}{"id": "indicator--a", "type": "indicator", "created": "2016-11-03T12:30:59.000Z"},
		},
	}
	rec, err := b.AddObjects(context.Background(), "trustgroup1", "coll-1", envelope, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, rec.SuccessCount)
	require.Equal(t, 0, rec.FailureCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddObjectsDuplicateIsFailureNotSuccess(t *testing.T) {
	b, mock := newMockBackend(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	envelope := map[string]interface{}{
		"objects": []interface{}{
			map[string]interface{}{"id": "indicator--dup", "type": "indicator", "created": "2016-11-03T12:30:59.000Z"},
		},
	}
	rec, err := b.AddObjects(context.Background(), "trustgroup1", "coll-1", envelope, time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, rec.SuccessCount)
	require.Equal(t, 1, rec.FailureCount)
	require.Equal(t, "an identical entry already exists", rec.Failures[0].Message)
}

func TestGetStatusRoundTrip(t *testing.T) {
	b, mock := newMockBackend(t)
	rows := sqlmock.NewRows([]string{"record"}).AddRow([]byte(`{"id":"s1","status":"complete","total_count":1,"success_count":1}`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT record FROM`)).WithArgs("trustgroup1", "s1").WillReturnRows(rows)

	rec, err := b.GetStatus(context.Background(), "trustgroup1", "s1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "s1", rec.ID)
}

