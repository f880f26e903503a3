package httpapi

import (
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/medallion-go/taxii/core/backend"
	"github.com/medallion-go/taxii/core/clock"
	"github.com/medallion-go/taxii/core/logger"
	"github.com/medallion-go/taxii/core/notify"
	"github.com/medallion-go/taxii/core/status"
	"github.com/medallion-go/taxii/core/taxiierr"
)

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if !acceptsFamily(r.Header.Get("Accept"), taxiiMediaFamily) {
		writeError(w, r, taxiierr.New(taxiierr.NotAcceptable, "Accept header does not list %s", taxiiMediaFamily))
		return
	}
	disc, err := s.backend.ServerDiscovery(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseContentType(taxiiMediaFamily), backend.Headers{}, disc)
}

func (s *Server) handleAPIRootInfo(w http.ResponseWriter, r *http.Request) {
	root := mux.Vars(r)["root"]
	if !acceptsFamily(r.Header.Get("Accept"), taxiiMediaFamily) {
		writeError(w, r, taxiierr.New(taxiierr.NotAcceptable, "Accept header does not list %s", taxiiMediaFamily))
		return
	}
	r = r.WithContext(logger.WithResource(r.Context(), root, ""))
	info, err := s.backend.GetAPIRootInformation(r.Context(), root)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if info == nil {
		notFound(w, r, "api root '"+root+"'")
		return
	}
	writeJSON(w, http.StatusOK, responseContentType(taxiiMediaFamily), backend.Headers{}, info)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	root := mux.Vars(r)["root"]
	if !acceptsFamily(r.Header.Get("Accept"), taxiiMediaFamily) {
		writeError(w, r, taxiierr.New(taxiierr.NotAcceptable, "Accept header does not list %s", taxiiMediaFamily))
		return
	}
	r = r.WithContext(logger.WithResource(r.Context(), root, ""))
	summaries, err := s.backend.GetCollections(r.Context(), root)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if summaries == nil {
		notFound(w, r, "api root '"+root+"'")
		return
	}
	writeJSON(w, http.StatusOK, responseContentType(taxiiMediaFamily), backend.Headers{}, map[string]interface{}{"collections": summaries})
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !acceptsFamily(r.Header.Get("Accept"), taxiiMediaFamily) {
		writeError(w, r, taxiierr.New(taxiierr.NotAcceptable, "Accept header does not list %s", taxiiMediaFamily))
		return
	}
	r = r.WithContext(logger.WithResource(r.Context(), vars["root"], vars["id"]))
	summary, err := s.backend.GetCollection(r.Context(), vars["root"], vars["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if summary == nil {
		notFound(w, r, "collection '"+vars["id"]+"'")
		return
	}
	writeJSON(w, http.StatusOK, responseContentType(taxiiMediaFamily), backend.Headers{}, summary)
}

// authorizeCollection authenticates the caller, looks up the collection's
// read/write booleans, and returns the request (its context enriched with
// the resolved api root/collection/identity for logging) and a taxiierr on
// any failure: 401 if authentication itself failed, 404 if the api
// root/collection is unknown, 403 if the collection does not permit the
// requested operation.
func (s *Server) authorizeCollection(r *http.Request, root, collectionID string, write bool) (*http.Request, error) {
	identity, err := s.auth.Authenticate(r)
	if err != nil {
		return r, err
	}
	r = r.WithContext(logger.WithIdentity(logger.WithResource(r.Context(), root, collectionID), identity))

	summary, err := s.backend.GetCollection(r.Context(), root, collectionID)
	if err != nil {
		return r, err
	}
	if summary == nil {
		return r, taxiierr.New(taxiierr.NotFound, "collection '%s' not found", collectionID)
	}
	if write && !summary.CanWrite {
		return r, taxiierr.New(taxiierr.Forbidden, "collection '%s' is not writable", collectionID)
	}
	if !write && !summary.CanRead {
		return r, taxiierr.New(taxiierr.Forbidden, "collection '%s' is not readable", collectionID)
	}
	return r, nil
}

func (s *Server) buildQuery(r *http.Request) (backend.Query, error) {
	limit, err := parseLimit(r)
	if err != nil {
		return backend.Query{}, err
	}
	return backend.Query{Args: parseArgs(r), Allowed: allObjectFilters, Limit: limit}, nil
}

func (s *Server) handleGetObjects(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !acceptsFamily(r.Header.Get("Accept"), taxiiMediaFamily) {
		writeError(w, r, taxiierr.New(taxiierr.NotAcceptable, "Accept header does not list %s", taxiiMediaFamily))
		return
	}
	var err error
	if r, err = s.authorizeCollection(r, vars["root"], vars["id"], false); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := s.buildQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	envelope, headers, err := s.backend.GetObjects(r.Context(), vars["root"], vars["id"], q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseContentType(taxiiMediaFamily), headers, envelope)
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !acceptsFamily(r.Header.Get("Accept"), taxiiMediaFamily) {
		writeError(w, r, taxiierr.New(taxiierr.NotAcceptable, "Accept header does not list %s", taxiiMediaFamily))
		return
	}
	var err error
	if r, err = s.authorizeCollection(r, vars["root"], vars["id"], false); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := s.buildQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	envelope, headers, err := s.backend.GetObject(r.Context(), vars["root"], vars["id"], vars["oid"], q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseContentType(taxiiMediaFamily), headers, envelope)
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var err error
	if r, err = s.authorizeCollection(r, vars["root"], vars["id"], true); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := s.buildQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.backend.DeleteObject(r.Context(), vars["root"], vars["id"], vars["oid"], q); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetObjectVersions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !acceptsFamily(r.Header.Get("Accept"), taxiiMediaFamily) {
		writeError(w, r, taxiierr.New(taxiierr.NotAcceptable, "Accept header does not list %s", taxiiMediaFamily))
		return
	}
	var err error
	if r, err = s.authorizeCollection(r, vars["root"], vars["id"], false); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := s.buildQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	versions, headers, err := s.backend.GetObjectVersions(r.Context(), vars["root"], vars["id"], vars["oid"], q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseContentType(taxiiMediaFamily), headers, versions)
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !acceptsFamily(r.Header.Get("Accept"), taxiiMediaFamily) {
		writeError(w, r, taxiierr.New(taxiierr.NotAcceptable, "Accept header does not list %s", taxiiMediaFamily))
		return
	}
	var err error
	if r, err = s.authorizeCollection(r, vars["root"], vars["id"], false); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := s.buildQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	manifest, headers, err := s.backend.GetObjectManifest(r.Context(), vars["root"], vars["id"], q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseContentType(taxiiMediaFamily), headers, manifest)
}

func (s *Server) handleAddObjects(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !acceptsFamily(r.Header.Get("Accept"), taxiiMediaFamily) {
		writeError(w, r, taxiierr.New(taxiierr.NotAcceptable, "Accept header does not list %s", taxiiMediaFamily))
		return
	}
	var err error
	if r, err = s.authorizeCollection(r, vars["root"], vars["id"], true); err != nil {
		writeError(w, r, err)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, taxiierr.New(taxiierr.BadRequest, "could not read request body: %s", err))
		return
	}
	var envelope map[string]interface{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		writeError(w, r, taxiierr.New(taxiierr.UnprocessableEntity, "request body is not a JSON object"))
		return
	}

	rec, err := s.backend.AddObjects(r.Context(), vars["root"], vars["id"], envelope, clock.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.publishAdded(vars["root"], vars["id"], rec)
	writeJSON(w, http.StatusAccepted, responseContentType(taxiiMediaFamily), backend.Headers{}, rec)
}

// publishAdded fires one best-effort notification per successfully added
// object. It never affects the response already written for the request.
func (s *Server) publishAdded(root, collectionID string, rec *status.Record) {
	if s.publisher == nil || rec == nil {
		return
	}
	for _, d := range rec.Successes {
		s.publisher.Publish(notify.ObjectAdded{
			APIRoot:      root,
			CollectionID: collectionID,
			ObjectID:     d.ID,
			Version:      d.Version,
		})
	}
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !acceptsFamily(r.Header.Get("Accept"), taxiiMediaFamily) {
		writeError(w, r, taxiierr.New(taxiierr.NotAcceptable, "Accept header does not list %s", taxiiMediaFamily))
		return
	}
	identity, err := s.auth.Authenticate(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	r = r.WithContext(logger.WithIdentity(logger.WithResource(r.Context(), vars["root"], ""), identity))
	rec, err := s.backend.GetStatus(r.Context(), vars["root"], vars["sid"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rec == nil {
		notFound(w, r, "status '"+vars["sid"]+"'")
		return
	}
	writeJSON(w, http.StatusOK, responseContentType(taxiiMediaFamily), backend.Headers{}, rec)
}
