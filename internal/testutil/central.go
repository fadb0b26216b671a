package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/storesync/internal/record"
)

// FakeCentral is an in-memory central authority served over httptest.
//
// Records are held per entity type as wire documents (fields plus "id" and
// "lastModified"). Failures can be injected per entity type, master-data
// category or store, and Close makes the server unreachable.
type FakeCentral struct {
	server *httptest.Server

	mu            sync.Mutex
	records       map[string]map[string]map[string]any
	masterVersion string
	masterUpdated time.Time
	masterData    map[string][]map[string]any
	stores        map[string]any
	failTypes     map[string]int
	failCats      map[string]int
	failStores    map[string]int
	unhealthy     bool
	requests      []string
	closed        bool
}

// NewFakeCentral starts a fake central authority. The server is closed
// when the test ends.
func NewFakeCentral(t testing.TB) *FakeCentral {
	t.Helper()

	c := &FakeCentral{
		records:    make(map[string]map[string]map[string]any),
		masterData: make(map[string][]map[string]any),
		stores:     make(map[string]any),
		failTypes:  make(map[string]int),
		failCats:   make(map[string]int),
		failStores: make(map[string]int),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health/", c.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/master-data/version/", c.handleMasterVersion).Methods(http.MethodGet)
	r.HandleFunc("/stores/{storeId}/consolidated-data/", c.handleStoreData).Methods(http.MethodGet)
	r.HandleFunc("/{category}/master-data/", c.handleMasterData).Methods(http.MethodGet)
	r.HandleFunc("/{plural}/", c.handleList).Methods(http.MethodGet)
	r.HandleFunc("/{plural}/", c.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/{plural}/{id}/", c.handlePut).Methods(http.MethodPut)
	r.HandleFunc("/{plural}/{id}/", c.handleDelete).Methods(http.MethodDelete)
	r.Use(c.recordRequest)

	c.server = httptest.NewServer(r)
	t.Cleanup(c.Close)
	return c
}

// URL returns the server's base URL.
func (c *FakeCentral) URL() string {
	return c.server.URL
}

// Close shuts the server down; subsequent requests fail to connect.
func (c *FakeCentral) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.server.Close()
}

// SetHealthy controls the /health/ answer.
func (c *FakeCentral) SetHealthy(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unhealthy = !healthy
}

// PutRecord stores a wire document for entityType. The document must carry "id".
func (c *FakeCentral) PutRecord(entityType string, doc map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(entityType, doc)
}

// Record returns a copy of the stored document.
func (c *FakeCentral) Record(entityType, id string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.records[entityType][id]
	if !ok {
		return nil, false
	}
	return record.CloneFields(doc), true
}

// RecordCount returns the number of documents held for entityType.
func (c *FakeCentral) RecordCount(entityType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records[entityType])
}

// SetMasterVersion sets the answer of /master-data/version/.
func (c *FakeCentral) SetMasterVersion(version string, updated time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masterVersion = version
	c.masterUpdated = updated
}

// SetMasterData replaces the listing of a master-data category.
func (c *FakeCentral) SetMasterData(category string, docs []map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masterData[category] = docs
}

// SetStoreData sets the consolidated-data document of a store.
func (c *FakeCentral) SetStoreData(storeID string, doc any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores[storeID] = doc
}

// FailEntityType answers every request on /{entityType}s/ with status.
// A zero status clears the failure.
func (c *FakeCentral) FailEntityType(entityType string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	setFailure(c.failTypes, entityType, status)
}

// FailCategory answers master-data listings of category with status.
func (c *FakeCentral) FailCategory(category string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	setFailure(c.failCats, category, status)
}

// FailStore answers consolidated-data requests for storeID with status.
func (c *FakeCentral) FailStore(storeID string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	setFailure(c.failStores, storeID, status)
}

// Requests returns "METHOD /path" for every request served so far.
func (c *FakeCentral) Requests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.requests))
	copy(out, c.requests)
	return out
}

// RequestsMatching returns the served requests that start with prefix.
func (c *FakeCentral) RequestsMatching(prefix string) []string {
	var out []string
	for _, r := range c.Requests() {
		if strings.HasPrefix(r, prefix) {
			out = append(out, r)
		}
	}
	return out
}

func (c *FakeCentral) recordRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.requests = append(c.requests, r.Method+" "+r.URL.Path)
		c.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (c *FakeCentral) handleHealth(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	unhealthy := c.unhealthy
	c.mu.Unlock()
	if unhealthy {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (c *FakeCentral) handleMasterVersion(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     c.masterVersion,
		"lastUpdated": record.FormatTime(c.masterUpdated),
	})
}

func (c *FakeCentral) handleMasterData(w http.ResponseWriter, r *http.Request) {
	category := mux.Vars(r)["category"]

	c.mu.Lock()
	defer c.mu.Unlock()

	if status := c.failCats[category]; status != 0 {
		http.Error(w, "category unavailable", status)
		return
	}

	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	var docs []map[string]any
	for _, doc := range c.masterData[category] {
		if active, ok := doc["active"].(bool); ok && !active && !includeInactive {
			continue
		}
		docs = append(docs, doc)
	}

	page := paginate(docs, queryInt(r, "offset", 0), queryInt(r, "limit", 0))
	writeJSON(w, http.StatusOK, map[string]any{"results": page, "count": len(docs)})
}

func (c *FakeCentral) handleStoreData(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["storeId"]

	c.mu.Lock()
	defer c.mu.Unlock()

	if status := c.failStores[storeID]; status != 0 {
		http.Error(w, "store unavailable", status)
		return
	}
	doc, ok := c.stores[storeID]
	if !ok {
		http.Error(w, "unknown store", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (c *FakeCentral) handleList(w http.ResponseWriter, r *http.Request) {
	entityType := entityTypeOf(r)

	c.mu.Lock()
	defer c.mu.Unlock()

	if status := c.failTypes[entityType]; status != 0 {
		http.Error(w, "unavailable", status)
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("modified_since"); raw != "" {
		t, err := record.ParseTime(raw)
		if err != nil {
			http.Error(w, "bad modified_since", http.StatusBadRequest)
			return
		}
		since = t
	}

	type entry struct {
		doc map[string]any
		at  time.Time
	}
	var entries []entry
	for _, doc := range c.records[entityType] {
		var at time.Time
		if raw, ok := doc[record.FieldLastModified].(string); ok {
			at, _ = record.ParseTime(raw)
		}
		if !since.IsZero() && at.Before(since) {
			continue
		}
		entries = append(entries, entry{doc: record.CloneFields(doc), at: at})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].at.Equal(entries[j].at) {
			return entries[i].at.Before(entries[j].at)
		}
		return docID(entries[i].doc) < docID(entries[j].doc)
	})

	docs := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, e.doc)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": paginate(docs, 0, queryInt(r, "limit", 0))})
}

func (c *FakeCentral) handleCreate(w http.ResponseWriter, r *http.Request) {
	entityType := entityTypeOf(r)
	doc, ok := decodeBody(w, r)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if status := c.failTypes[entityType]; status != 0 {
		http.Error(w, "unavailable", status)
		return
	}
	if docID(doc) == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	c.putLocked(entityType, doc)
	writeJSON(w, http.StatusCreated, doc)
}

func (c *FakeCentral) handlePut(w http.ResponseWriter, r *http.Request) {
	entityType := entityTypeOf(r)
	id := mux.Vars(r)["id"]
	doc, ok := decodeBody(w, r)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if status := c.failTypes[entityType]; status != 0 {
		http.Error(w, "unavailable", status)
		return
	}
	doc[record.FieldID] = id
	c.putLocked(entityType, doc)
	writeJSON(w, http.StatusOK, doc)
}

func (c *FakeCentral) handleDelete(w http.ResponseWriter, r *http.Request) {
	entityType := entityTypeOf(r)
	id := mux.Vars(r)["id"]

	c.mu.Lock()
	defer c.mu.Unlock()

	if status := c.failTypes[entityType]; status != 0 {
		http.Error(w, "unavailable", status)
		return
	}
	if _, ok := c.records[entityType][id]; !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	delete(c.records[entityType], id)
	w.WriteHeader(http.StatusNoContent)
}

func (c *FakeCentral) putLocked(entityType string, doc map[string]any) {
	if c.records[entityType] == nil {
		c.records[entityType] = make(map[string]map[string]any)
	}
	c.records[entityType][docID(doc)] = record.CloneFields(doc)
}

func entityTypeOf(r *http.Request) string {
	return strings.TrimSuffix(mux.Vars(r)["plural"], "s")
}

func docID(doc map[string]any) string {
	switch v := doc[record.FieldID].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return nil, false
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return nil, false
	}
	return doc, true
}

func paginate(docs []map[string]any, offset, limit int) []map[string]any {
	if offset >= len(docs) {
		return []map[string]any{}
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return n
}

func setFailure(m map[string]int, key string, status int) {
	if status == 0 {
		delete(m, key)
		return
	}
	m[key] = status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
