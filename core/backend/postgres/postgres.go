// Package postgres implements the document-database-style storage driver:
// the same backend.Backend contract as core/backend/memory, but with
// object bodies persisted as JSONB rows in Postgres instead of held in a
// process-resident slice. Status records are stored in the status table.
// Paging sessions remain in-process and do not survive a restart.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/lib/pq"

	"github.com/medallion-go/taxii/core/backend"
	"github.com/medallion-go/taxii/core/clock"
	"github.com/medallion-go/taxii/core/expiry"
	"github.com/medallion-go/taxii/core/filter"
	"github.com/medallion-go/taxii/core/object"
	"github.com/medallion-go/taxii/core/paging"
	"github.com/medallion-go/taxii/core/status"
	"github.com/medallion-go/taxii/core/taxiierr"
)

// DB wraps a *sql.DB with the schema its tables live under, the same
// shape as the teacher's core/csql.DB wrapper.
type DB struct {
	*sql.DB
	Schema string
}

// Open connects to Postgres and ensures the backend's schema and tables
// exist.
func Open(dataSourceName, schema string) (*DB, error) {
	if schema == "" {
		schema = "public"
	}
	sqlDB, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening connection: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}
	db := &DB{DB: sqlDB, Schema: schema}
	if err := db.ensureSchema(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) ensureSchema() error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, db.Schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.discovery (
			singleton boolean PRIMARY KEY DEFAULT true CHECK (singleton),
			document jsonb NOT NULL
		)`, db.Schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.api_roots (
			api_root text PRIMARY KEY,
			information jsonb NOT NULL
		)`, db.Schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.collections (
			api_root text NOT NULL,
			id text NOT NULL,
			title text NOT NULL,
			description text NOT NULL DEFAULT '',
			can_read boolean NOT NULL DEFAULT false,
			can_write boolean NOT NULL DEFAULT false,
			media_types jsonb NOT NULL DEFAULT '[]',
			PRIMARY KEY (api_root, id)
		)`, db.Schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.objects (
			api_root text NOT NULL,
			collection_id text NOT NULL,
			id text NOT NULL,
			version timestamptz NOT NULL,
			date_added timestamptz NOT NULL,
			media_type text NOT NULL,
			body jsonb NOT NULL,
			PRIMARY KEY (api_root, collection_id, id, version)
		)`, db.Schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.status (
			api_root text NOT NULL,
			id text NOT NULL,
			record jsonb NOT NULL,
			request_timestamp timestamptz NOT NULL,
			PRIMARY KEY (api_root, id)
		)`, db.Schema),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("postgres: preparing schema: %w", err)
		}
	}
	return nil
}

// Config configures a Backend. DB must already have its schema prepared
// (see Open); when Discovery.Title is set, Discovery is written at
// construction, replacing any existing discovery row.
type Config struct {
	DB              *DB
	Discovery       backend.Discovery
	SessionTimeout  time.Duration
	StatusRetention time.Duration
}

// Backend is the Postgres-backed storage driver.
type Backend struct {
	db              *DB
	sessions        *paging.Store
	sessionTimeout  time.Duration
	statusRetention time.Duration

	sessionSweeper *expiry.Sweeper
	statusSweeper  *expiry.Sweeper
}

// New constructs a Backend and, when cfg.Discovery.Title is set, upserts
// the discovery row.
func New(cfg Config) (*Backend, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("postgres: Config.DB must not be nil")
	}
	b := &Backend{
		db:              cfg.DB,
		sessions:        paging.NewStore(),
		sessionTimeout:  cfg.SessionTimeout,
		statusRetention: cfg.StatusRetention,
	}
	if cfg.Discovery.Title != "" {
		doc, err := json.Marshal(cfg.Discovery)
		if err != nil {
			return nil, err
		}
		_, err = b.db.Exec(fmt.Sprintf(`INSERT INTO %q.discovery (document) VALUES ($1)
			ON CONFLICT (singleton) DO UPDATE SET document = excluded.document`, b.db.Schema), doc)
		if err != nil {
			return nil, fmt.Errorf("postgres: writing discovery row: %w", err)
		}
	}
	return b, nil
}

// SeedTopology upserts the configured api roots and collections into their
// tables, the same ON CONFLICT DO UPDATE pattern New uses for the
// discovery row. It is idempotent: re-running it against an already
// provisioned schema only refreshes titles, descriptions and permission
// flags, it never touches stored objects.
func (b *Backend) SeedTopology(ctx context.Context, apiRoots map[string]backend.APIRootInfo, collections map[string]map[string]backend.CollectionSummary) error {
	for root, info := range apiRoots {
		doc, err := json.Marshal(info)
		if err != nil {
			return err
		}
		_, err = b.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %q.api_roots (api_root, information) VALUES ($1, $2)
			ON CONFLICT (api_root) DO UPDATE SET information = excluded.information`, b.db.Schema), root, doc)
		if err != nil {
			return fmt.Errorf("postgres: seeding api root %q: %w", root, err)
		}
	}
	for root, byID := range collections {
		for id, summary := range byID {
			mediaTypes, err := json.Marshal(summary.MediaTypes)
			if err != nil {
				return err
			}
			_, err = b.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %q.collections
				(api_root, id, title, description, can_read, can_write, media_types)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (api_root, id) DO UPDATE SET
					title = excluded.title, description = excluded.description,
					can_read = excluded.can_read, can_write = excluded.can_write,
					media_types = excluded.media_types`, b.db.Schema),
				root, id, summary.Title, summary.Description, summary.CanRead, summary.CanWrite, mediaTypes)
			if err != nil {
				return fmt.Errorf("postgres: seeding collection %q/%q: %w", root, id, err)
			}
		}
	}
	return nil
}

// StartBackgroundTasks starts the session-expiry and status-expiry
// sweepers. Status expiry here issues a DELETE against the durable table
// rather than walking an in-process map, but is otherwise the same
// Sweeper abstraction the in-process backend uses.
func (b *Backend) StartBackgroundTasks(ctx context.Context, sweepInterval time.Duration) {
	if b.sessionTimeout > 0 {
		b.sessionSweeper = expiry.NewSweeper("postgres-session-expiry", sweepInterval, func(now time.Time) {
			b.sessions.SweepExpired(now, b.sessionTimeout)
		})
		b.sessionSweeper.Start(ctx)
	}
	if b.statusRetention > 0 {
		b.statusSweeper = expiry.NewSweeper("postgres-status-expiry", sweepInterval, func(now time.Time) {
			cutoff := now.Add(-b.statusRetention)
			b.db.Exec(fmt.Sprintf(`DELETE FROM %q.status WHERE request_timestamp < $1`, b.db.Schema), cutoff)
		})
		b.statusSweeper.Start(ctx)
	}
}

// StopBackgroundTasks stops any started sweepers.
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
	var raw []byte
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT document FROM %q.discovery WHERE singleton`, b.db.Schema)).Scan(&raw)
	if err == sql.ErrNoRows {
		return &backend.Discovery{}, nil
	}
	if err != nil {
		return nil, taxiierr.New(taxiierr.InternalError, "postgres: reading discovery: %s", err)
	}
	var disc backend.Discovery
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, taxiierr.New(taxiierr.InternalError, "postgres: decoding discovery: %s", err)
	}
	return &disc, nil
}

// GetAPIRootInformation implements backend.Backend.
func (b *Backend) GetAPIRootInformation(ctx context.Context, apiRoot string) (*backend.APIRootInfo, error) {
	var raw []byte
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT information FROM %q.api_roots WHERE api_root = $1`, b.db.Schema), apiRoot).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, taxiierr.New(taxiierr.InternalError, "postgres: reading api root: %s", err)
	}
	var info backend.APIRootInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, taxiierr.New(taxiierr.InternalError, "postgres: decoding api root: %s", err)
	}
	return &info, nil
}

// GetCollections implements backend.Backend.
func (b *Backend) GetCollections(ctx context.Context, apiRoot string) ([]backend.CollectionSummary, error) {
	if info, err := b.GetAPIRootInformation(ctx, apiRoot); err != nil || info == nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, title, description, can_read, can_write, media_types FROM %q.collections WHERE api_root = $1`, b.db.Schema), apiRoot)
	if err != nil {
		return nil, taxiierr.New(taxiierr.InternalError, "postgres: listing collections: %s", err)
	}
	defer rows.Close()

	out := []backend.CollectionSummary{}
	for rows.Next() {
		var s backend.CollectionSummary
		var mediaTypesRaw []byte
		if err := rows.Scan(&s.ID, &s.Title, &s.Description, &s.CanRead, &s.CanWrite, &mediaTypesRaw); err != nil {
			return nil, taxiierr.New(taxiierr.InternalError, "postgres: scanning collection row: %s", err)
		}
		json.Unmarshal(mediaTypesRaw, &s.MediaTypes)
		out = append(out, s)
	}
	return out, nil
}

// GetCollection implements backend.Backend.
func (b *Backend) GetCollection(ctx context.Context, apiRoot, collectionID string) (*backend.CollectionSummary, error) {
	var s backend.CollectionSummary
	var mediaTypesRaw []byte
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, title, description, can_read, can_write, media_types FROM %q.collections WHERE api_root = $1 AND id = $2`, b.db.Schema),
		apiRoot, collectionID).Scan(&s.ID, &s.Title, &s.Description, &s.CanRead, &s.CanWrite, &mediaTypesRaw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, taxiierr.New(taxiierr.InternalError, "postgres: reading collection: %s", err)
	}
	json.Unmarshal(mediaTypesRaw, &s.MediaTypes)
	return &s, nil
}

// loadCollectionObjects reads every stored object of a collection into
// records, re-deriving Meta.Version/SpecVersion from the body the same
// way the in-memory persistence codec does on load.
func (b *Backend) loadCollectionObjects(ctx context.Context, apiRoot, collectionID string) ([]*object.Record, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT body, date_added, media_type FROM %q.objects WHERE api_root = $1 AND collection_id = $2`, b.db.Schema),
		apiRoot, collectionID)
	if err != nil {
		return nil, taxiierr.New(taxiierr.InternalError, "postgres: loading objects: %s", err)
	}
	defer rows.Close()

	var out []*object.Record
	for rows.Next() {
		var bodyRaw []byte
		var dateAdded time.Time
		var mediaType string
		if err := rows.Scan(&bodyRaw, &dateAdded, &mediaType); err != nil {
			return nil, taxiierr.New(taxiierr.InternalError, "postgres: scanning object row: %s", err)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(bodyRaw, &body); err != nil {
			return nil, taxiierr.New(taxiierr.InternalError, "postgres: decoding object body: %s", err)
		}
		meta, err := object.Stamp(body, &object.Meta{DateAdded: dateAdded, MediaType: mediaType}, dateAdded, mediaType)
		if err != nil {
			return nil, err
		}
		out = append(out, &object.Record{Body: body, Meta: meta})
	}
	return out, nil
}

func objectIDExists(records []*object.Record, id string) bool {
	for _, rec := range records {
		if rec.ID() == id {
			return true
		}
	}
	return false
}

func (b *Backend) resolveObjects(ctx context.Context, apiRoot, collectionID string, q backend.Query, requestTime time.Time) (page []*object.Record, more bool, nextKey string, headers filter.Headers, err error) {
	if q.Args["next"] != "" {
		page, more, nextKey, err = b.sessions.Consume(q.Args["next"], q.Args, q.Limit)
		if err != nil {
			return nil, false, "", filter.Headers{}, err
		}
		return page, more, nextKey, filter.HeadersFromPage(page), nil
	}

	all, err := b.loadCollectionObjects(ctx, apiRoot, collectionID)
	if err != nil {
		return nil, false, "", filter.Headers{}, err
	}
	page, rest, headers, err := filter.Process(all, q.Args, q.Allowed, q.Limit)
	if err != nil {
		return nil, false, "", filter.Headers{}, err
	}
	if len(rest) > 0 {
		nextKey = b.sessions.Create(q.Args, rest, requestTime)
		more = true
	}
	return page, more, nextKey, headers, nil
}

// GetObjectManifest implements backend.Backend.
func (b *Backend) GetObjectManifest(ctx context.Context, apiRoot, collectionID string, q backend.Query) (*backend.ManifestResource, backend.Headers, error) {
	page, more, next, headers, err := b.resolveObjects(ctx, apiRoot, collectionID, q, clock.Now())
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
func (b *Backend) GetObjects(ctx context.Context, apiRoot, collectionID string, q backend.Query) (*backend.Envelope, backend.Headers, error) {
	page, more, next, headers, err := b.resolveObjects(ctx, apiRoot, collectionID, q, clock.Now())
	if err != nil {
		return nil, backend.Headers{}, err
	}
	bodies := make([]map[string]interface{}, len(page))
	for i, rec := range page {
		bodies[i] = rec.Body
	}
	return &backend.Envelope{Objects: bodies, More: more, Next: next}, toBackendHeaders(headers), nil
}

func toBackendHeaders(h filter.Headers) backend.Headers {
	if !h.HasValues() {
		return backend.Headers{}
	}
	return backend.Headers{First: h.First, Last: h.Last}
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

// GetObject implements backend.Backend, with the same existence-before-
// filter disambiguation the in-process backend uses.
func (b *Backend) GetObject(ctx context.Context, apiRoot, collectionID, objectID string, q backend.Query) (*backend.Envelope, backend.Headers, error) {
	all, err := b.loadCollectionObjects(ctx, apiRoot, collectionID)
	if err != nil {
		return nil, backend.Headers{}, err
	}
	if !objectIDExists(all, objectID) {
		return nil, backend.Headers{}, taxiierr.New(taxiierr.NotFound, "Object '%s' not found", objectID)
	}
	return b.GetObjects(ctx, apiRoot, collectionID, narrowToID(q, objectID))
}

// GetObjectVersions implements backend.Backend.
func (b *Backend) GetObjectVersions(ctx context.Context, apiRoot, collectionID, objectID string, q backend.Query) (*backend.VersionsResource, backend.Headers, error) {
	all, err := b.loadCollectionObjects(ctx, apiRoot, collectionID)
	if err != nil {
		return nil, backend.Headers{}, err
	}
	if !objectIDExists(all, objectID) {
		return nil, backend.Headers{}, taxiierr.New(taxiierr.NotFound, "Object '%s' not found", objectID)
	}
	page, more, next, headers, err := b.resolveObjects(ctx, apiRoot, collectionID, narrowToID(q, objectID), clock.Now())
	if err != nil {
		return nil, backend.Headers{}, err
	}
	versions := make([]string, len(page))
	for i, rec := range page {
		versions[i] = clock.TaxiiFormat(rec.Meta.Version)
	}
	return &backend.VersionsResource{Versions: versions, More: more, Next: next}, toBackendHeaders(headers), nil
}

// AddObjects implements backend.Backend. Unlike the in-process reference,
// a duplicate (id, version) is recorded as a FAILURE detail with the
// message "an identical entry already exists", illustrating that this is
// a deliberate, backend-specific choice rather than a shared invariant.
func (b *Backend) AddObjects(ctx context.Context, apiRoot, collectionID string, envelope map[string]interface{}, requestTime time.Time) (*status.Record, error) {
	rawObjects, ok := envelope["objects"].([]interface{})
	if !ok {
		return nil, taxiierr.New(taxiierr.UnprocessableEntity, "envelope lacks an 'objects' array")
	}

	var successes, failures []status.Detail
	seenMediaTypes := map[string]bool{}

	for _, raw := range rawObjects {
		body, ok := raw.(map[string]interface{})
		if !ok {
			failures = append(failures, status.Detail{ID: status.UnknownID, Version: status.UnknownVersion, Message: "object is not a JSON object"})
			continue
		}
		id, _ := body["id"].(string)
		if id == "" {
			id = status.UnknownID
		}

		specVersion := object.DetermineSpecVersion(body)
		mediaType := object.DefaultMediaType(specVersion)
		meta, err := object.Stamp(body, nil, requestTime, mediaType)
		if err != nil {
			failures = append(failures, status.Detail{ID: id, Version: status.UnknownVersion, Message: err.Error()})
			continue
		}
		versionStr := clock.TaxiiFormat(meta.Version)

		var exists bool
		err = b.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT EXISTS(SELECT 1 FROM %q.objects WHERE api_root = $1 AND collection_id = $2 AND id = $3 AND version = $4)`, b.db.Schema),
			apiRoot, collectionID, id, meta.Version).Scan(&exists)
		if err != nil {
			failures = append(failures, status.Detail{ID: id, Version: versionStr, Message: err.Error()})
			continue
		}
		if exists {
			failures = append(failures, status.Detail{ID: id, Version: versionStr, Message: "an identical entry already exists"})
			continue
		}

		bodyRaw, err := json.Marshal(body)
		if err != nil {
			failures = append(failures, status.Detail{ID: id, Version: versionStr, Message: err.Error()})
			continue
		}
		_, err = b.db.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %q.objects (api_root, collection_id, id, version, date_added, media_type, body) VALUES ($1,$2,$3,$4,$5,$6,$7)`, b.db.Schema),
			apiRoot, collectionID, id, meta.Version, meta.DateAdded, meta.MediaType, bodyRaw)
		if err != nil {
			failures = append(failures, status.Detail{ID: id, Version: versionStr, Message: err.Error()})
			continue
		}
		successes = append(successes, status.Detail{ID: id, Version: versionStr})
		seenMediaTypes[meta.MediaType] = true
	}

	if len(seenMediaTypes) > 0 {
		if err := b.registerMediaTypes(ctx, apiRoot, collectionID, seenMediaTypes); err != nil {
			return nil, err
		}
	}

	rec := status.New(requestTime, status.Complete, successes, failures, nil)
	statusRaw, err := json.Marshal(rec)
	if err != nil {
		return nil, taxiierr.New(taxiierr.InternalError, "postgres: marshaling status: %s", err)
	}
	_, err = b.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %q.status (api_root, id, record, request_timestamp) VALUES ($1,$2,$3,$4)`, b.db.Schema),
		apiRoot, rec.ID, statusRaw, requestTime)
	if err != nil {
		return nil, taxiierr.New(taxiierr.InternalError, "postgres: persisting status: %s", err)
	}
	return rec, nil
}

func (b *Backend) registerMediaTypes(ctx context.Context, apiRoot, collectionID string, newTypes map[string]bool) error {
	var raw []byte
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT media_types FROM %q.collections WHERE api_root = $1 AND id = $2`, b.db.Schema),
		apiRoot, collectionID).Scan(&raw)
	if err != nil {
		return taxiierr.New(taxiierr.InternalError, "postgres: reading media_types: %s", err)
	}
	var existing []string
	json.Unmarshal(raw, &existing)
	known := map[string]bool{}
	for _, mt := range existing {
		known[mt] = true
	}
	changed := false
	for mt := range newTypes {
		if !known[mt] {
			existing = append(existing, mt)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	updated, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %q.collections SET media_types = $1 WHERE api_root = $2 AND id = $3`, b.db.Schema),
		updated, apiRoot, collectionID)
	return err
}

// DeleteObject implements backend.Backend.
func (b *Backend) DeleteObject(ctx context.Context, apiRoot, collectionID, objectID string, q backend.Query) error {
	all, err := b.loadCollectionObjects(ctx, apiRoot, collectionID)
	if err != nil {
		return err
	}
	var candidates []*object.Record
	for _, rec := range all {
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
	for _, rec := range toRemove {
		_, err := b.db.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %q.objects WHERE api_root = $1 AND collection_id = $2 AND id = $3 AND version = $4`, b.db.Schema),
			apiRoot, collectionID, objectID, rec.Meta.Version)
		if err != nil {
			return taxiierr.New(taxiierr.InternalError, "postgres: deleting object: %s", err)
		}
	}
	return nil
}

// GetStatus implements backend.Backend.
func (b *Backend) GetStatus(ctx context.Context, apiRoot, statusID string) (*status.Record, error) {
	var raw []byte
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT record FROM %q.status WHERE api_root = $1 AND id = $2`, b.db.Schema),
		apiRoot, statusID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, taxiierr.New(taxiierr.InternalError, "postgres: reading status: %s", err)
	}
	var rec status.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, taxiierr.New(taxiierr.InternalError, "postgres: decoding status: %s", err)
	}
	return &rec, nil
}
