// Package httpapi implements the thin HTTP dispatch layer described in
// §4's HTTP Endpoint Layer: route → query parsing → backend call → JSON
// response, with Accept-header gating and X-TAXII-Date-Added-First/Last
// response headers applied in exactly one place.
package httpapi

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/medallion-go/taxii/core/auth"
	"github.com/medallion-go/taxii/core/backend"
	"github.com/medallion-go/taxii/core/filter"
	"github.com/medallion-go/taxii/core/logger"
	"github.com/medallion-go/taxii/core/notify"
)

// Server wires a Backend, an auth.Provider, and an optional notify.Publisher
// into a routed HTTP handler.
type Server struct {
	backend   backend.Backend
	auth      auth.Provider
	publisher *notify.Publisher
	router    *mux.Router
}

// NewServer builds a Server. A nil authProvider defaults to auth.Anonymous;
// a nil publisher disables the best-effort notification hook.
func NewServer(be backend.Backend, authProvider auth.Provider, publisher *notify.Publisher) *Server {
	if authProvider == nil {
		authProvider = auth.Anonymous{}
	}
	s := &Server{backend: be, auth: authProvider, publisher: publisher}
	s.router = mux.NewRouter()
	s.routes()
	logger.AddRequestID(s.router)
	return s
}

// Handler returns the fully wrapped http.Handler, including CORS.
func (s *Server) Handler() http.Handler {
	return handlers.CORS(
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Accept", "Authorization", "Range"}),
	)(s.router)
}

func (s *Server) routes() {
	s.router.HandleFunc("/taxii/", s.handleDiscovery).Methods(http.MethodGet)
	s.router.HandleFunc("/{root}/", s.handleAPIRootInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/{root}/collections/", s.handleCollections).Methods(http.MethodGet)
	s.router.HandleFunc("/{root}/collections/{id}/", s.handleCollection).Methods(http.MethodGet)
	s.router.HandleFunc("/{root}/collections/{id}/objects/", s.handleGetObjects).Methods(http.MethodGet)
	s.router.HandleFunc("/{root}/collections/{id}/objects/", s.handleAddObjects).Methods(http.MethodPost)
	s.router.HandleFunc("/{root}/collections/{id}/objects/{oid}/", s.handleGetObject).Methods(http.MethodGet)
	s.router.HandleFunc("/{root}/collections/{id}/objects/{oid}/", s.handleDeleteObject).Methods(http.MethodDelete)
	s.router.HandleFunc("/{root}/collections/{id}/objects/{oid}/versions/", s.handleGetObjectVersions).Methods(http.MethodGet)
	s.router.HandleFunc("/{root}/collections/{id}/manifest/", s.handleGetManifest).Methods(http.MethodGet)
	s.router.HandleFunc("/{root}/status/{sid}/", s.handleGetStatus).Methods(http.MethodGet)
}

// objectFilters is the closed set of filter names recognized on any
// endpoint that lists or narrows STIX objects (objects, manifest, single
// object, versions) — every tier from the filter table plus the
// specialized version/spec_version/added_after names.
func objectFilters() filter.AllowedFilters {
	names := []string{"id", "type", "version", "spec_version", "added_after"}
	for n := range filter.Tier1Properties {
		names = append(names, n)
	}
	for n := range filter.Tier2Properties {
		names = append(names, n)
	}
	for n := range filter.Tier3Properties {
		names = append(names, n)
	}
	for n := range filter.RelationshipProperties {
		names = append(names, n)
	}
	for n := range filter.CalculationProperties {
		names = append(names, n)
	}
	return filter.NewAllowedFilters(names...)
}

var allObjectFilters = objectFilters()
