// Package backend defines the polymorphic storage contract consumed by the
// HTTP layer (§4.5), the shared resource types every implementation
// returns, and a package-level registration table that replaces dynamic
// dispatch on a backend-type string.
package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/medallion-go/taxii/core/filter"
	"github.com/medallion-go/taxii/core/object"
	"github.com/medallion-go/taxii/core/status"
)

// Discovery is the top-level, process-wide discovery record.
type Discovery struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Contact     string   `json:"contact,omitempty"`
	Default     string   `json:"default,omitempty"`
	APIRoots    []string `json:"api_roots"`
}

// APIRootInfo is the information resource returned for GET /{root}/.
type APIRootInfo struct {
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Versions           []string `json:"versions"`
	MaxContentLength   int      `json:"max_content_length"`
}

// CollectionSummary is a collection's metadata, without its object list.
type CollectionSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	CanRead     bool     `json:"can_read"`
	CanWrite    bool     `json:"can_write"`
	MediaTypes  []string `json:"media_types,omitempty"`
}

// Envelope is the page-of-objects resource returned by get_objects and
// get_object.
type Envelope struct {
	Objects []map[string]interface{} `json:"objects,omitempty"`
	More    bool                     `json:"more"`
	Next    string                   `json:"next,omitempty"`
}

// ManifestEntry is one element of a manifest resource.
type ManifestEntry struct {
	ID        string `json:"id"`
	DateAdded string `json:"date_added"`
	Version   string `json:"version"`
	MediaType string `json:"media_type"`
}

// ManifestResource is the page-of-manifest-entries resource.
type ManifestResource struct {
	Objects []ManifestEntry `json:"objects,omitempty"`
	More    bool            `json:"more"`
	Next    string          `json:"next,omitempty"`
}

// VersionsResource lists an object's version timestamps.
type VersionsResource struct {
	Versions []string `json:"versions,omitempty"`
	More     bool      `json:"more"`
	Next     string    `json:"next,omitempty"`
}

// Headers carries the X-TAXII-Date-Added-First/Last response headers,
// present only when a page is non-empty.
type Headers struct {
	First string
	Last  string
}

// Query bundles a request's filter arguments with the endpoint's allowed
// filter set and an optional limit, threaded through every read operation.
type Query struct {
	Args    filter.Args
	Allowed filter.AllowedFilters
	Limit   *int
}

// Backend is the polymorphic contract every storage driver implements. All
// operations are safe for concurrent use by multiple goroutines.
type Backend interface {
	ServerDiscovery(ctx context.Context) (*Discovery, error)
	GetAPIRootInformation(ctx context.Context, apiRoot string) (*APIRootInfo, error)
	GetCollections(ctx context.Context, apiRoot string) ([]CollectionSummary, error)
	GetCollection(ctx context.Context, apiRoot, collectionID string) (*CollectionSummary, error)
	GetObjectManifest(ctx context.Context, apiRoot, collectionID string, q Query) (*ManifestResource, Headers, error)
	GetObjects(ctx context.Context, apiRoot, collectionID string, q Query) (*Envelope, Headers, error)
	GetObject(ctx context.Context, apiRoot, collectionID, objectID string, q Query) (*Envelope, Headers, error)
	GetObjectVersions(ctx context.Context, apiRoot, collectionID, objectID string, q Query) (*VersionsResource, Headers, error)
	AddObjects(ctx context.Context, apiRoot, collectionID string, envelope map[string]interface{}, requestTime time.Time) (*status.Record, error)
	DeleteObject(ctx context.Context, apiRoot, collectionID, objectID string, q Query) error
	GetStatus(ctx context.Context, apiRoot, statusID string) (*status.Record, error)
}

// Record is re-exported for implementations that need the object package's
// in-memory record type without importing it directly (most do import it).
type Record = object.Record

// Constructor builds a Backend from a freeform configuration value, whose
// concrete shape is defined by the variant itself.
type Constructor func(config interface{}) (Backend, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Constructor{}
)

// Register adds a named backend variant to the registry. It is intended to
// be called from each variant's package init(), mirroring how
// database/sql drivers register themselves — a package-level table
// populated at program start, with no reflection or metaclass magic
// involved.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic("backend: Register called twice for variant " + name)
	}
	registry[name] = ctor
}

// New constructs a Backend for the named, registered variant.
func New(name string, config interface{}) (Backend, error) {
	registryMu.Lock()
	ctor, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("backend: no variant registered under name %q", name)
	}
	return ctor(config)
}
