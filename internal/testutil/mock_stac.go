// Package testutil provides a mock STAC API for testing the reporting jobs.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/stac"
)

// DefaultPageSize is used when a request has no limit parameter.
const DefaultPageSize = 10

// Item is one mock STAC item.
type Item struct {
	ID         string
	Datetime   time.Time
	Properties map[string]any

	// Geometry is raw GeoJSON; a Point at 0,0 is used when empty.
	Geometry string
}

type failure struct {
	remaining int
	status    int
}

// MockSTAC is an in-memory STAC API served over HTTP. Items are paginated with
// an offset token and carry numberMatched unless OmitMatched is set.
type MockSTAC struct {
	server *httptest.Server
	mu     sync.Mutex

	order       []string
	collections map[string]*stac.Collection
	items       map[string][]Item

	failures map[string]*failure
	requests map[string]int
	total    int

	// OmitMatched drops numberMatched from item pages.
	OmitMatched bool

	// CollectionsPageSize splits GET /collections into pages when > 0.
	CollectionsPageSize int
}

// NewMockSTAC starts a mock STAC server.
func NewMockSTAC() *MockSTAC {
	m := &MockSTAC{
		collections: make(map[string]*stac.Collection),
		items:       make(map[string][]Item),
		failures:    make(map[string]*failure),
		requests:    make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(m.count)
	r.Get("/collections", m.handleCollections)
	r.Get("/collections/{collectionId}", m.handleCollection)
	r.Get("/collections/{collectionId}/items", m.handleItems)

	m.server = httptest.NewServer(r)
	return m
}

// URL returns the API root.
func (m *MockSTAC) URL() string {
	return m.server.URL
}

// Close shuts down the server.
func (m *MockSTAC) Close() {
	m.server.Close()
}

// AddCollection registers a collection. Collections are listed in the order
// they were added.
func (m *MockSTAC) AddCollection(c stac.Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[c.ID]; !ok {
		m.order = append(m.order, c.ID)
	}
	m.collections[c.ID] = &c
}

// AddItems appends items to a collection.
func (m *MockSTAC) AddItems(collection string, items ...Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[collection] = append(m.items[collection], items...)
}

// FailItems makes the next n item requests of collection with the given raw
// datetime parameter ("" for none) answer with status.
func (m *MockSTAC) FailItems(collection, datetime string, n, status int) {
	m.fail(itemsKey(collection, datetime), n, status)
}

// FailCollections makes the next n GET /collections requests answer with status.
func (m *MockSTAC) FailCollections(n, status int) {
	m.fail("/collections", n, status)
}

func (m *MockSTAC) fail(key string, n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = &failure{remaining: n, status: status}
}

// Requests returns the number of item requests made for collection and datetime.
func (m *MockSTAC) Requests(collection, datetime string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[itemsKey(collection, datetime)]
}

// TotalRequests returns the number of requests served.
func (m *MockSTAC) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func itemsKey(collection, datetime string) string {
	return collection + "|" + datetime
}

func (m *MockSTAC) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.total++
		m.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// injected writes a queued failure for key, if any.
func (m *MockSTAC) injected(w http.ResponseWriter, key string) bool {
	m.mu.Lock()
	f, ok := m.failures[key]
	if ok && f.remaining > 0 {
		f.remaining--
	} else {
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if f.status == http.StatusTooManyRequests || f.status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "0")
	}
	writeError(w, f.status, "injected failure")
	return true
}

func (m *MockSTAC) handleCollections(w http.ResponseWriter, r *http.Request) {
	if m.injected(w, "/collections") {
		return
	}

	m.mu.Lock()
	all := make([]*stac.Collection, 0, len(m.order))
	for _, id := range m.order {
		c := *m.collections[id]
		all = append(all, &c)
	}
	size := m.CollectionsPageSize
	m.mu.Unlock()

	offset := intParam(r, "token", 0)
	page, more := window(len(all), offset, size)

	resp := stac.CollectionList{Collections: all[page.start:page.end]}
	if more {
		resp.Links = append(resp.Links, nextLink(r, page.end))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (m *MockSTAC) handleCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "collectionId")

	m.mu.Lock()
	c, ok := m.collections[id]
	m.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("collection %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (m *MockSTAC) handleItems(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "collectionId")
	datetime := r.URL.Query().Get("datetime")
	key := itemsKey(id, datetime)

	m.mu.Lock()
	m.requests[key]++
	_, known := m.collections[id]
	items := append([]Item(nil), m.items[id]...)
	omit := m.OmitMatched
	m.mu.Unlock()

	if m.injected(w, key) {
		return
	}
	if !known {
		writeError(w, http.StatusNotFound, fmt.Sprintf("collection %q not found", id))
		return
	}

	start, end, err := parseInterval(datetime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var matched []Item
	for _, it := range items {
		if (start.IsZero() || !it.Datetime.Before(start)) && (end.IsZero() || !it.Datetime.After(end)) {
			matched = append(matched, it)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Datetime.Before(matched[j].Datetime) })

	limit := intParam(r, "limit", DefaultPageSize)
	offset := intParam(r, "token", 0)
	page, more := window(len(matched), offset, limit)

	features := make([]map[string]any, 0, page.end-page.start)
	for _, it := range matched[page.start:page.end] {
		features = append(features, it.feature(id))
	}

	resp := map[string]any{
		"type":           "FeatureCollection",
		"features":       features,
		"numberReturned": len(features),
	}
	if !omit {
		resp["numberMatched"] = len(matched)
	}
	links := []*stac.Link{}
	if more {
		links = append(links, nextLink(r, page.end))
	}
	resp["links"] = links

	writeJSON(w, http.StatusOK, resp)
}

func (it Item) feature(collection string) map[string]any {
	props := make(map[string]any, len(it.Properties)+1)
	for k, v := range it.Properties {
		props[k] = v
	}
	props["datetime"] = it.Datetime.UTC().Format(time.RFC3339)

	geometry := it.Geometry
	if geometry == "" {
		geometry = `{"type": "Point", "coordinates": [0, 0]}`
	}

	return map[string]any{
		"type":       "Feature",
		"id":         it.ID,
		"collection": collection,
		"geometry":   json.RawMessage(geometry),
		"properties": props,
	}
}

type span struct{ start, end int }

// window returns the [offset, offset+size) slice bounds of n entries and
// whether more entries follow. A size <= 0 returns everything.
func window(n, offset, size int) (span, bool) {
	if offset > n {
		offset = n
	}
	if size <= 0 {
		return span{offset, n}, false
	}
	end := offset + size
	if end > n {
		end = n
	}
	return span{offset, end}, end < n
}

func nextLink(r *http.Request, offset int) *stac.Link {
	q := r.URL.Query()
	q.Set("token", strconv.Itoa(offset))
	u := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path, RawQuery: q.Encode()}
	return &stac.Link{Rel: stac.RelNext, Href: u.String(), Type: "application/geo+json"}
}

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// parseInterval parses a STAC datetime interval; open ends are zero.
func parseInterval(v string) (start, end time.Time, err error) {
	if v == "" {
		return start, end, nil
	}
	parts := strings.SplitN(v, "/", 2)
	if len(parts) == 1 {
		t, err := time.Parse(time.RFC3339, v)
		return t, t, err
	}
	if parts[0] != "" && parts[0] != ".." {
		if start, err = time.Parse(time.RFC3339, parts[0]); err != nil {
			return start, end, fmt.Errorf("invalid datetime start %q", parts[0])
		}
	}
	if parts[1] != "" && parts[1] != ".." {
		if end, err = time.Parse(time.RFC3339, parts[1]); err != nil {
			return start, end, fmt.Errorf("invalid datetime end %q", parts[1])
		}
	}
	return start, end, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, description string) {
	writeJSON(w, status, map[string]string{
		"code":        http.StatusText(status),
		"description": description,
	})
}
