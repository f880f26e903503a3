package httpapi

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/medallion-go/taxii/core/backend"
	"github.com/medallion-go/taxii/core/logger"
	"github.com/medallion-go/taxii/core/taxiierr"
)

func writeJSON(w http.ResponseWriter, status int, contentType string, headers backend.Headers, body interface{}) {
	w.Header().Set("Content-Type", contentType)
	if headers.First != "" {
		w.Header().Set("X-TAXII-Date-Added-First", headers.First)
	}
	if headers.Last != "" {
		w.Header().Set("X-TAXII-Date-Added-Last", headers.Last)
	}
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.Encode(body)
}

// writeError maps any error to the single JSON error body + status code
// the HTTP layer ever produces. Unrecognized errors are treated as 500s,
// per §7's propagation policy.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	te, ok := taxiierr.As(err)
	if !ok {
		te = taxiierr.New(taxiierr.InternalError, "%s", err)
	}
	logger.FromContext(r.Context()).WithField("status", te.HTTPStatus()).Warn(te.Error())

	w.Header().Set("Content-Type", responseContentType(taxiiMediaFamily))
	w.WriteHeader(te.HTTPStatus())
	enc := json.NewEncoder(w)
	enc.Encode(te.AsBody())
}

func notFound(w http.ResponseWriter, r *http.Request, what string) {
	writeError(w, r, taxiierr.New(taxiierr.NotFound, "%s not found", what))
}
