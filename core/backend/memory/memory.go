// Package memory implements the reference in-process storage backend
// (§4.6): a deterministic implementation over in-memory maps that serves
// as the semantic oracle every other backend variant must match. Every
// request-path operation runs under a single backend-wide mutex, matching
// §5's "each request is a critical section" scheduling model; the
// background sweepers delete expired sessions and status records under
// the paging and status stores' own locks.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/medallion-go/taxii/core/backend"
	"github.com/medallion-go/taxii/core/clock"
	"github.com/medallion-go/taxii/core/expiry"
	"github.com/medallion-go/taxii/core/filter"
	"github.com/medallion-go/taxii/core/object"
	"github.com/medallion-go/taxii/core/paging"
	"github.com/medallion-go/taxii/core/status"
	"github.com/medallion-go/taxii/core/taxiierr"
)

// Collection holds one collection's configuration and its live object set.
type Collection struct {
	ID          string
	Title       string
	Description string
	CanRead     bool
	CanWrite    bool
	MediaTypes  []string
	Objects     []*object.Record
}

type apiRoot struct {
	info        backend.APIRootInfo
	collections map[string]*Collection
	status      *status.Store
}

// Config configures a Backend at construction time.
type Config struct {
	Discovery       backend.Discovery
	APIRoots        map[string]*APIRootConfig
	SessionTimeout  time.Duration
	StatusRetention time.Duration
	InteropMode     bool
}

// APIRootConfig seeds one API root's information and collections.
type APIRootConfig struct {
	Info        backend.APIRootInfo
	Collections map[string]*Collection
}

// Backend is the reference in-process storage driver.
type Backend struct {
	mu       sync.Mutex
	discovery backend.Discovery
	apiRoots  map[string]*apiRoot

	sessions        *paging.Store
	sessionTimeout  time.Duration
	statusRetention time.Duration

	sessionSweeper *expiry.Sweeper
	statusSweeper  *expiry.Sweeper
}

// New constructs a Backend from cfg. If InteropMode is set and
// StatusRetention is non-zero but below 24h, construction fails: the
// spec requires interop deployments to either disable retention checking
// never, or configure it at or above the floor.
func New(cfg Config) (*Backend, error) {
	if cfg.InteropMode && cfg.StatusRetention > 0 && cfg.StatusRetention < 24*time.Hour {
		return nil, fmt.Errorf("memory: interop mode requires status_retention >= 24h, got %s", cfg.StatusRetention)
	}
	if cfg.InteropMode && cfg.StatusRetention == 0 {
		return nil, fmt.Errorf("memory: interop mode does not allow disabling status retention")
	}

	b := &Backend{
		discovery:       cfg.Discovery,
		apiRoots:        make(map[string]*apiRoot, len(cfg.APIRoots)),
		sessions:        paging.NewStore(),
		sessionTimeout:  cfg.SessionTimeout,
		statusRetention: cfg.StatusRetention,
	}
	for name, arc := range cfg.APIRoots {
		collections := arc.Collections
		if collections == nil {
			collections = map[string]*Collection{}
		}
		b.apiRoots[name] = &apiRoot{
			info:        arc.Info,
			collections: collections,
			status:      status.NewStore(),
		}
	}
	return b, nil
}

// StartBackgroundTasks starts the session-expiry and status-expiry
// sweepers. Callers own the lifetime of ctx; StopBackgroundTasks stops
// both sweepers.
func (b *Backend) StartBackgroundTasks(ctx context.Context, sweepInterval time.Duration) {
	if b.sessionTimeout > 0 {
		b.sessionSweeper = expiry.NewSweeper("paging-session-expiry", sweepInterval, func(now time.Time) {
			b.sessions.SweepExpired(now, b.sessionTimeout)
		})
		b.sessionSweeper.Start(ctx)
	}
	if b.statusRetention > 0 {
		b.statusSweeper = expiry.NewSweeper("status-retention-expiry", sweepInterval, func(now time.Time) {
			b.mu.Lock()
			roots := make([]*apiRoot, 0, len(b.apiRoots))
			for _, ar := range b.apiRoots {
				roots = append(roots, ar)
			}
			b.mu.Unlock()
			for _, ar := range roots {
				ar.status.SweepExpired(now, b.statusRetention)
			}
		})
		b.statusSweeper.Start(ctx)
	}
}

// StopBackgroundTasks stops both sweepers, blocking until each has
// finished its in-flight tick, if any.
func (b *Backend) StopBackgroundTasks() {
	if b.sessionSweeper != nil {
		b.sessionSweeper.Stop()
	}
	if b.statusSweeper != nil {
		b.statusSweeper.Stop()
	}
}

// ServerDiscovery implements backend.Backend.
func (b *Backend) ServerDiscovery(ctx context.Context) (*backend.Discovery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.discovery
	return &d, nil
}

// GetAPIRootInformation implements backend.Backend.
func (b *Backend) GetAPIRootInformation(ctx context.Context, apiRootName string) (*backend.APIRootInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ar, ok := b.apiRoots[apiRootName]
	if !ok {
		return nil, nil
	}
	info := ar.info
	return &info, nil
}

// GetCollections implements backend.Backend.
func (b *Backend) GetCollections(ctx context.Context, apiRootName string) ([]backend.CollectionSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ar, ok := b.apiRoots[apiRootName]
	if !ok {
		return nil, nil
	}
	out := make([]backend.CollectionSummary, 0, len(ar.collections))
	for _, c := range ar.collections {
		out = append(out, summarize(c))
	}
	return out, nil
}

// GetCollection implements backend.Backend.
func (b *Backend) GetCollection(ctx context.Context, apiRootName, collectionID string) (*backend.CollectionSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ar, ok := b.apiRoots[apiRootName]
	if !ok {
		return nil, nil
	}
	c, ok := ar.collections[collectionID]
	if !ok {
		return nil, nil
	}
	s := summarize(c)
	return &s, nil
}

func summarize(c *Collection) backend.CollectionSummary {
	return backend.CollectionSummary{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		CanRead:     c.CanRead,
		CanWrite:    c.CanWrite,
		MediaTypes:  append([]string(nil), c.MediaTypes...),
	}
}

// getObjectsLocked resolves either a paging continuation (q.Args["next"]
// set) or a fresh filtered read over coll.Objects, and must be called
// while b.mu is held.
func (b *Backend) getObjectsLocked(coll *Collection, q backend.Query, requestTime time.Time) (page []*object.Record, more bool, nextKey string, headers filter.Headers, err error) {
	if nextKey := q.Args["next"]; nextKey != "" {
		page, more, key, err := b.sessions.Consume(nextKey, q.Args, q.Limit)
		if err != nil {
			return nil, false, "", filter.Headers{}, err
		}
		return page, more, key, filter.HeadersFromPage(page), nil
	}

	page, rest, headers, err := filter.Process(coll.Objects, q.Args, q.Allowed, q.Limit)
	if err != nil {
		return nil, false, "", filter.Headers{}, err
	}
	if len(rest) > 0 {
		key := b.sessions.Create(q.Args, rest, requestTime)
		return page, true, key, headers, nil
	}
	return page, false, "", headers, nil
}

func (b *Backend) resolveCollection(apiRootName, collectionID string) (*Collection, error) {
	ar, ok := b.apiRoots[apiRootName]
	if !ok {
		return nil, taxiierr.New(taxiierr.NotFound, "API root '%s' not found", apiRootName)
	}
	c, ok := ar.collections[collectionID]
	if !ok {
		return nil, taxiierr.New(taxiierr.NotFound, "Collection '%s' not found", collectionID)
	}
	return c, nil
}

func objectIDExists(coll *Collection, objectID string) bool {
	for _, rec := range coll.Objects {
		if rec.ID() == objectID {
			return true
		}
	}
	return false
}

// GetObjectManifest implements backend.Backend.
func (b *Backend) GetObjectManifest(ctx context.Context, apiRootName, collectionID string, q backend.Query) (*backend.ManifestResource, backend.Headers, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	coll, err := b.resolveCollection(apiRootName, collectionID)
	if err != nil {
		return nil, backend.Headers{}, err
	}
	page, more, next, headers, err := b.getObjectsLocked(coll, q, clock.Now())
	if err != nil {
		return nil, backend.Headers{}, err
	}
	entries := make([]backend.ManifestEntry, len(page))
	for i, rec := range page {
		entries[i] = backend.ManifestEntry{
			ID:        rec.ID(),
			DateAdded: clock.TaxiiFormat(rec.Meta.DateAdded),
			Version:   clock.TaxiiFormat(rec.Meta.Version),
			MediaType: rec.Meta.MediaType,
		}
	}
	return &backend.ManifestResource{Objects: entries, More: more, Next: next}, toBackendHeaders(headers), nil
}

// GetObjects implements backend.Backend.
func (b *Backend) GetObjects(ctx context.Context, apiRootName, collectionID string, q backend.Query) (*backend.Envelope, backend.Headers, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	coll, err := b.resolveCollection(apiRootName, collectionID)
	if err != nil {
		return nil, backend.Headers{}, err
	}
	page, more, next, headers, err := b.getObjectsLocked(coll, q, clock.Now())
	if err != nil {
		return nil, backend.Headers{}, err
	}
	return &backend.Envelope{Objects: plainBodies(page), More: more, Next: next}, toBackendHeaders(headers), nil
}

func plainBodies(page []*object.Record) []map[string]interface{} {
	out := make([]map[string]interface{}, len(page))
	for i, rec := range page {
		out[i] = rec.Body
	}
	return out
}

func toBackendHeaders(h filter.Headers) backend.Headers {
	if !h.HasValues() {
		return backend.Headers{}
	}
	return backend.Headers{First: h.First, Last: h.Last}
}

// GetObject implements backend.Backend. It disambiguates "object id does
// not exist" (404) from "object exists but filters excluded every
// version" (200, empty envelope) by checking existence up front, since
// delegating straight to GetObjects cannot tell the two apart.
func (b *Backend) GetObject(ctx context.Context, apiRootName, collectionID, objectID string, q backend.Query) (*backend.Envelope, backend.Headers, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	coll, err := b.resolveCollection(apiRootName, collectionID)
	if err != nil {
		return nil, backend.Headers{}, err
	}
	if !objectIDExists(coll, objectID) {
		return nil, backend.Headers{}, taxiierr.New(taxiierr.NotFound, "Object '%s' not found", objectID)
	}

	narrowed := narrowToID(q, objectID)
	page, more, next, headers, err := b.getObjectsLocked(coll, narrowed, clock.Now())
	if err != nil {
		return nil, backend.Headers{}, err
	}
	return &backend.Envelope{Objects: plainBodies(page), More: more, Next: next}, toBackendHeaders(headers), nil
}

// GetObjectVersions implements backend.Backend, with the same existence
// disambiguation as GetObject.
func (b *Backend) GetObjectVersions(ctx context.Context, apiRootName, collectionID, objectID string, q backend.Query) (*backend.VersionsResource, backend.Headers, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	coll, err := b.resolveCollection(apiRootName, collectionID)
	if err != nil {
		return nil, backend.Headers{}, err
	}
	if !objectIDExists(coll, objectID) {
		return nil, backend.Headers{}, taxiierr.New(taxiierr.NotFound, "Object '%s' not found", objectID)
	}

	narrowed := narrowToID(q, objectID)
	page, more, next, headers, err := b.getObjectsLocked(coll, narrowed, clock.Now())
	if err != nil {
		return nil, backend.Headers{}, err
	}
	versions := make([]string, len(page))
	for i, rec := range page {
		versions[i] = clock.TaxiiFormat(rec.Meta.Version)
	}
	return &backend.VersionsResource{Versions: versions, More: more, Next: next}, toBackendHeaders(headers), nil
}

func narrowToID(q backend.Query, objectID string) backend.Query {
	args := q.Args.Clone()
	args["match[id]"] = objectID
	allowed := make(filter.AllowedFilters, len(q.Allowed)+1)
	for k, v := range q.Allowed {
		allowed[k] = v
	}
	allowed["id"] = true
	return backend.Query{Args: args, Allowed: allowed, Limit: q.Limit}
}

// AddObjects implements backend.Backend, producing a per-object success or
// failure detail rather than aborting the whole batch on a single bad
// object.
func (b *Backend) AddObjects(ctx context.Context, apiRootName, collectionID string, envelope map[string]interface{}, requestTime time.Time) (*status.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ar, ok := b.apiRoots[apiRootName]
	if !ok {
		return nil, taxiierr.New(taxiierr.NotFound, "API root '%s' not found", apiRootName)
	}
	coll, ok := ar.collections[collectionID]
	if !ok {
		return nil, taxiierr.New(taxiierr.NotFound, "Collection '%s' not found", collectionID)
	}

	rawObjects, ok := envelope["objects"]
	if !ok {
		return nil, taxiierr.New(taxiierr.UnprocessableEntity, `Invalid TAXII envelope: missing "objects" property`)
	}
	list, ok := rawObjects.([]interface{})
	if !ok {
		return nil, taxiierr.New(taxiierr.UnprocessableEntity, "Invalid TAXII envelope")
	}

	var successes, failures []status.Detail
	for _, raw := range list {
		body, ok := raw.(map[string]interface{})
		if !ok {
			failures = append(failures, status.Detail{
				ID: status.UnknownID, Version: status.UnknownVersion,
				Message: fmt.Sprintf("Not an object: %v", raw),
			})
			continue
		}

		specVersion := object.DetermineSpecVersion(body)
		mediaType := object.DefaultMediaType(specVersion)
		meta, err := object.Stamp(body, nil, requestTime, mediaType)
		if err != nil {
			id, _ := body["id"].(string)
			if id == "" {
				id = status.UnknownID
			}
			failures = append(failures, status.Detail{ID: id, Version: status.UnknownVersion, Message: err.Error()})
			continue
		}

		rec := &object.Record{Body: body, Meta: meta}
		id := rec.ID()
		versionStr := clock.TaxiiFormat(meta.Version)

		duplicate := false
		for _, existing := range coll.Objects {
			if existing.ID() == id && existing.Meta.Version.Equal(meta.Version) {
				duplicate = true
				break
			}
		}
		if duplicate {
			successes = append(successes, status.Detail{ID: id, Version: versionStr, Message: "Object already added"})
			continue
		}

		coll.Objects = append(coll.Objects, rec)
		if !containsString(coll.MediaTypes, mediaType) {
			coll.MediaTypes = append(coll.MediaTypes, mediaType)
		}
		successes = append(successes, status.Detail{ID: id, Version: versionStr})
	}

	rec := status.New(requestTime, status.Complete, successes, failures, nil)
	ar.status.Put(rec)
	return rec, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// DeleteObject implements backend.Backend.
func (b *Backend) DeleteObject(ctx context.Context, apiRootName, collectionID, objectID string, q backend.Query) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	coll, err := b.resolveCollection(apiRootName, collectionID)
	if err != nil {
		return err
	}

	var candidates []*object.Record
	for _, rec := range coll.Objects {
		if rec.ID() == objectID {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return taxiierr.New(taxiierr.NotFound, "Object '%s' not found", objectID)
	}

	toRemove, _, _, err := filter.Process(candidates, q.Args, q.Allowed, nil)
	if err != nil {
		return err
	}
	removeSet := make(map[*object.Record]bool, len(toRemove))
	for _, rec := range toRemove {
		removeSet[rec] = true
	}
	kept := coll.Objects[:0:0]
	for _, rec := range coll.Objects {
		if !removeSet[rec] {
			kept = append(kept, rec)
		}
	}
	coll.Objects = kept
	return nil
}

// GetStatus implements backend.Backend.
func (b *Backend) GetStatus(ctx context.Context, apiRootName, statusID string) (*status.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ar, ok := b.apiRoots[apiRootName]
	if !ok {
		return nil, nil
	}
	return ar.status.Get(statusID), nil
}
