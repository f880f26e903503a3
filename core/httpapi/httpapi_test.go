package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medallion-go/taxii/core/backend"
	memorybackend "github.com/medallion-go/taxii/core/backend/memory"
)

const testCollID = "91a7b528-80eb-42ed-a74d-c6fbd5a26116"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	be, err := memorybackend.New(memorybackend.Config{
		Discovery: backend.Discovery{Title: "Test TAXII server", APIRoots: []string{"trustgroup1"}},
		APIRoots: map[string]*memorybackend.APIRootConfig{
			"trustgroup1": {
				Info: backend.APIRootInfo{Title: "trustgroup1", Versions: []string{"application/taxii+json;version=2.1"}},
				Collections: map[string]*memorybackend.Collection{
					testCollID: {ID: testCollID, Title: "indicators", CanRead: true, CanWrite: true},
				},
			},
		},
		SessionTimeout:  time.Hour,
		StatusRetention: 24 * time.Hour,
	})
	require.NoError(t, err)
	return NewServer(be, nil, nil)
}

func TestDiscoveryEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/taxii/", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Test TAXII server", body["title"])
}

func TestDiscoveryRejectsUnacceptableMediaType(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/taxii/", nil)
	req.Header.Set("Accept", "application/xml")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotAcceptable, w.Code)
}

func TestAPIRootInfoMissingIs404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nope/", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAddObjectsThenGetObjects(t *testing.T) {
	s := newTestServer(t)
	envelope := map[string]interface{}{
		"objects": []interface{}{
			map[string]interface{}{
				"id": "indicator--e1", "type": "indicator", "spec_version": "2.1",
				"created": "2016-11-03T12:30:59.000Z", "modified": "2016-11-03T12:30:59.000Z",
				"pattern": "[ipv4-addr:value = '1.2.3.4']",
			},
		},
	}
	body, err := json.Marshal(envelope)
	require.NoError(t, err)

	addReq := httptest.NewRequest(http.MethodPost, "/trustgroup1/collections/"+testCollID+"/objects/", bytes.NewReader(body))
	addReq.Header.Set("Content-Type", "application/vnd.oasis.stix+json;version=2.1")
	addW := httptest.NewRecorder()
	s.Handler().ServeHTTP(addW, addReq)
	require.Equal(t, http.StatusAccepted, addW.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/trustgroup1/collections/"+testCollID+"/objects/", nil)
	getW := httptest.NewRecorder()
	s.Handler().ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)

	var envOut backend.Envelope
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &envOut))
	require.Len(t, envOut.Objects, 1)
	require.NotEmpty(t, getW.Header().Get("X-TAXII-Date-Added-First"))
}

func TestDeleteMissingObjectIs404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/trustgroup1/collections/"+testCollID+"/objects/missing-obj/", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusEndpointRoundTrip(t *testing.T) {
	s := newTestServer(t)
	envelope := map[string]interface{}{
		"objects": []interface{}{
			map[string]interface{}{"id": "indicator--e2", "type": "indicator", "created": "2016-11-03T12:30:59.000Z"},
		},
	}
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	addReq := httptest.NewRequest(http.MethodPost, "/trustgroup1/collections/"+testCollID+"/objects/", bytes.NewReader(body))
	addW := httptest.NewRecorder()
	s.Handler().ServeHTTP(addW, addReq)
	require.Equal(t, http.StatusAccepted, addW.Code)

	var statusOut map[string]interface{}
	require.NoError(t, json.Unmarshal(addW.Body.Bytes(), &statusOut))
	statusID := statusOut["id"].(string)

	getReq := httptest.NewRequest(http.MethodGet, "/trustgroup1/status/"+statusID+"/", nil)
	getW := httptest.NewRecorder()
	s.Handler().ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)
}
