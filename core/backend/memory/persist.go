package memory

import (
	"io"

	json "github.com/goccy/go-json"

	"github.com/medallion-go/taxii/core/backend"
	"github.com/medallion-go/taxii/core/clock"
	"github.com/medallion-go/taxii/core/object"
	"github.com/medallion-go/taxii/core/status"
	"github.com/medallion-go/taxii/core/taxiierr"
)

// wireMeta is the on-disk shape of object.Meta: only the two fields that
// cannot be re-derived at load time. version and spec_version_tuple are
// always recomputed from the object body, per §4.1's persistence codec.
type wireMeta struct {
	DateAdded string `json:"date_added"`
	MediaType string `json:"media_type"`
}

type wireCollection struct {
	ID          string                   `json:"id"`
	Title       string                   `json:"title"`
	Description string                   `json:"description,omitempty"`
	CanRead     bool                     `json:"can_read"`
	CanWrite    bool                     `json:"can_write"`
	MediaTypes  []string                 `json:"media_types,omitempty"`
	Objects     []map[string]interface{} `json:"objects,omitempty"`
}

type wireAPIRootDoc struct {
	Information backend.APIRootInfo       `json:"information"`
	Collections map[string]wireCollection `json:"collections"`
	Status      map[string]*status.Record `json:"status"`
}

// encodeRecord produces the persisted object shape: the body's own fields
// plus a synthesized "__meta" key, exactly mirroring how the reference
// server's MetaEncoder renders a Meta instance inline with the object.
func encodeRecord(rec *object.Record) map[string]interface{} {
	out := make(map[string]interface{}, len(rec.Body)+1)
	for k, v := range rec.Body {
		out[k] = v
	}
	out["__meta"] = wireMeta{
		DateAdded: clock.TaxiiFormat(rec.Meta.DateAdded),
		MediaType: rec.Meta.MediaType,
	}
	return out
}

// decodeRecord splits a persisted object back into its body and Meta,
// re-deriving version and spec_version_tuple instead of trusting stored
// values for them (they are always reconstructible from the body).
func decodeRecord(raw map[string]interface{}) (*object.Record, error) {
	metaRaw, ok := raw["__meta"]
	if !ok {
		return nil, taxiierr.New(taxiierr.InternalError, "persisted object lacks __meta")
	}
	metaMap, ok := metaRaw.(map[string]interface{})
	if !ok {
		return nil, taxiierr.New(taxiierr.InternalError, "persisted __meta is not an object")
	}
	dateAddedStr, _ := metaMap["date_added"].(string)
	mediaType, _ := metaMap["media_type"].(string)
	if dateAddedStr == "" || mediaType == "" {
		return nil, taxiierr.New(taxiierr.InternalError, "persisted __meta is missing date_added or media_type")
	}
	dateAdded, err := clock.ParseTimestamp(dateAddedStr)
	if err != nil {
		return nil, taxiierr.New(taxiierr.InternalError, "persisted __meta has invalid date_added: %s", err)
	}

	body := make(map[string]interface{}, len(raw)-1)
	for k, v := range raw {
		if k == "__meta" {
			continue
		}
		body[k] = v
	}

	meta, err := object.Stamp(body, &object.Meta{DateAdded: dateAdded, MediaType: mediaType}, dateAdded, mediaType)
	if err != nil {
		return nil, err
	}
	return &object.Record{Body: body, Meta: meta}, nil
}

// Save writes the backend's full state as a single JSON document to w, in
// the layout described by §6's "Persisted state layout": one "/discovery"
// key plus one key per API root.
func (b *Backend) Save(w io.Writer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc := make(map[string]interface{}, len(b.apiRoots)+1)
	doc["/discovery"] = b.discovery

	for name, ar := range b.apiRoots {
		wireCollections := make(map[string]wireCollection, len(ar.collections))
		for id, c := range ar.collections {
			objs := make([]map[string]interface{}, len(c.Objects))
			for i, rec := range c.Objects {
				objs[i] = encodeRecord(rec)
			}
			wireCollections[id] = wireCollection{
				ID:          c.ID,
				Title:       c.Title,
				Description: c.Description,
				CanRead:     c.CanRead,
				CanWrite:    c.CanWrite,
				MediaTypes:  c.MediaTypes,
				Objects:     objs,
			}
		}
		doc[name] = wireAPIRootDoc{
			Information: ar.info,
			Collections: wireCollections,
			Status:      ar.status.Snapshot(),
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Load replaces the backend's full state with the document read from r.
// Callers must not use the Backend concurrently with Load.
func (b *Backend) Load(r io.Reader) error {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if discRaw, ok := raw["/discovery"]; ok {
		if err := json.Unmarshal(discRaw, &b.discovery); err != nil {
			return err
		}
	}
	delete(raw, "/discovery")

	apiRoots := make(map[string]*apiRoot, len(raw))
	for name, rootRaw := range raw {
		var rootDoc wireAPIRootDoc
		if err := json.Unmarshal(rootRaw, &rootDoc); err != nil {
			return err
		}

		collections := make(map[string]*Collection, len(rootDoc.Collections))
		for id, wc := range rootDoc.Collections {
			objs := make([]*object.Record, 0, len(wc.Objects))
			for _, rawObj := range wc.Objects {
				rec, err := decodeRecord(rawObj)
				if err != nil {
					return err
				}
				objs = append(objs, rec)
			}
			collections[id] = &Collection{
				ID:          wc.ID,
				Title:       wc.Title,
				Description: wc.Description,
				CanRead:     wc.CanRead,
				CanWrite:    wc.CanWrite,
				MediaTypes:  wc.MediaTypes,
				Objects:     objs,
			}
		}

		statusStore := status.NewStore()
		for _, rec := range rootDoc.Status {
			statusStore.Put(rec)
		}

		apiRoots[name] = &apiRoot{
			info:        rootDoc.Information,
			collections: collections,
			status:      statusStore,
		}
	}
	b.apiRoots = apiRoots
	return nil
}
