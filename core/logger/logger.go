// Package logger provides the request-scoped structured logger threaded
// through context.Context: a logrus.Entry stamped with a request ID at the
// HTTP layer's edge, and enriched as a request resolves further — which API
// root and collection it names, which identity authenticated it — so every
// log line written while handling one request shares a common trace key.
package logger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Field names stamped onto a request's logger entry.
const (
	FieldRequestID    = "request_id"
	FieldAPIRoot      = "api_root"
	FieldCollectionID = "collection_id"
	FieldIdentity     = "identity"
)

type entryKeyType struct{}

var entryKey = &entryKeyType{}

// InitLogger installs the process-wide log formatter and minimum level.
func InitLogger(level logrus.Level) {
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	})
	logrus.SetLevel(level)
}

// AddRequestID installs router middleware that stamps every inbound
// request's context with a fresh request-scoped logger entry.
func AddRequestID(router *mux.Router) {
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, _ := withRequestID(r.Context())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
}

// Default returns a bare logger for use outside any request's context,
// such as background sweepers.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// withRequestID stamps ctx with a new request ID unless it already carries
// an entry, in which case that entry is returned unchanged.
func withRequestID(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if entry, ok := ctx.Value(entryKey).(*logrus.Entry); ok {
		return ctx, entry
	}
	id, _ := uuid.NewUUID()
	entry := logrus.WithField(FieldRequestID, id.String())
	return context.WithValue(ctx, entryKey, entry), entry
}

// WithResource enriches ctx's logger entry with the api root and, if
// non-empty, the collection a request resolved to.
func WithResource(ctx context.Context, apiRoot, collectionID string) context.Context {
	entry := FromContext(ctx).WithField(FieldAPIRoot, apiRoot)
	if collectionID != "" {
		entry = entry.WithField(FieldCollectionID, collectionID)
	}
	return context.WithValue(ctx, entryKey, entry)
}

// WithIdentity enriches ctx's logger entry with the caller identity an
// auth.Provider resolved.
func WithIdentity(ctx context.Context, identity string) context.Context {
	entry := FromContext(ctx).WithField(FieldIdentity, identity)
	return context.WithValue(ctx, entryKey, entry)
}

// FromContext returns ctx's request-scoped logger entry, or a bare logger
// if ctx is nil or carries none.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return Default()
	}
	if entry, ok := ctx.Value(entryKey).(*logrus.Entry); ok {
		return entry
	}
	return Default()
}
