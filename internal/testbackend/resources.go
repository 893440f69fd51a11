package testbackend

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Collections served by the fake, keyed by their URL segment.
var Collections = []string{"tenants", "sites", "devices", "sensors", "actuators", "asset", "users"}

var reservedQuery = map[string]bool{"page": true, "page_size": true, "search": true}

type collection struct {
	items []map[string]any
}

// Seed stores items in a collection, generating ids where missing.
func (b *Backend) Seed(name string, items ...map[string]any) []string {
	b.lock.Lock()
	defer b.lock.Unlock()

	c := b.collection(name)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		stored := clone(item)
		if _, ok := stored["id"]; !ok {
			stored["id"] = uuid.NewString()
		}
		c.items = append(c.items, stored)
		ids = append(ids, stored["id"].(string))
	}
	return ids
}

// Items returns a copy of a collection.
func (b *Backend) Items(name string) []map[string]any {
	b.lock.Lock()
	defer b.lock.Unlock()

	c := b.collection(name)
	out := make([]map[string]any, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, clone(item))
	}
	return out
}

// UseBareLists makes list endpoints answer with a JSON array instead of
// the {items, meta} envelope.
func (b *Backend) UseBareLists() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.listEnvelope = false
}

// DisableSiteTenantFilter makes /sites/?tenant_id= fail, as older backends do.
func (b *Backend) DisableSiteTenantFilter() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.siteFilter = false
}

func (b *Backend) mountResources(r chi.Router) {
	for _, name := range Collections {
		name := name
		r.Route("/"+name, func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) { b.handleList(w, r, name) })
			r.Post("/", func(w http.ResponseWriter, r *http.Request) { b.handleCreate(w, r, name) })
			r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) { b.handleGet(w, r, name) })
			r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) { b.handleUpdate(w, r, name) })
			r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) { b.handleDelete(w, r, name) })

			switch name {
			case "users":
				r.Post("/onboard", b.handleOnboard)
			case "devices":
				r.Get("/{id}/devices", b.handleDevicesForSite)
			}
		})
	}
}

func (b *Backend) handleList(w http.ResponseWriter, r *http.Request, name string) {
	query := r.URL.Query()

	b.lock.Lock()
	if name == "sites" && !b.siteFilter && query.Has("tenant_id") {
		b.lock.Unlock()
		http.Error(w, "unsupported filter tenant_id", http.StatusInternalServerError)
		return
	}

	var matched []map[string]any
	for _, item := range b.collection(name).items {
		if matches(item, query.Get("search"), query) {
			matched = append(matched, clone(item))
		}
	}
	envelope := b.listEnvelope
	b.lock.Unlock()

	b.writePage(w, matched, query.Get("page"), query.Get("page_size"), envelope)
}

func (b *Backend) handleDevicesForSite(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "id")

	b.lock.Lock()
	var matched []map[string]any
	for _, item := range b.collection("devices").items {
		if item["site_id"] == siteID {
			matched = append(matched, clone(item))
		}
	}
	envelope := b.listEnvelope
	b.lock.Unlock()

	query := r.URL.Query()
	b.writePage(w, matched, query.Get("page"), query.Get("page_size"), envelope)
}

func (b *Backend) writePage(w http.ResponseWriter, matched []map[string]any, pageParam, sizeParam string, envelope bool) {
	page := atoiDefault(pageParam, 1)
	size := atoiDefault(sizeParam, 50)

	start := (page - 1) * size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	items := append([]map[string]any{}, matched[start:end]...)

	if !envelope {
		writeJSON(w, http.StatusOK, items)
		return
	}
	pages := (len(matched) + size - 1) / size
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"meta": map[string]int{
			"total":     len(matched),
			"page":      page,
			"page_size": size,
			"pages":     pages,
		},
	})
}

func (b *Backend) handleGet(w http.ResponseWriter, r *http.Request, name string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	_, item := b.find(name, chi.URLParam(r, "id"))
	if item == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found"})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (b *Backend) handleCreate(w http.ResponseWriter, r *http.Request, name string) {
	var item map[string]any
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil || item == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}
	item["id"] = uuid.NewString()

	b.lock.Lock()
	b.collection(name).items = append(b.collection(name).items, item)
	b.lock.Unlock()

	writeJSON(w, http.StatusCreated, item)
}

func (b *Backend) handleOnboard(w http.ResponseWriter, r *http.Request) {
	var item map[string]any
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil || item == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}
	if _, ok := item["password"]; !ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "password is required"})
		return
	}
	delete(item, "password")
	item["id"] = uuid.NewString()

	b.lock.Lock()
	b.collection("users").items = append(b.collection("users").items, item)
	b.lock.Unlock()

	writeJSON(w, http.StatusCreated, item)
}

func (b *Backend) handleUpdate(w http.ResponseWriter, r *http.Request, name string) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil || patch == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	id := chi.URLParam(r, "id")
	idx, item := b.find(name, id)
	if item == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found"})
		return
	}
	delete(patch, "password")
	patch["id"] = id
	b.collection(name).items[idx] = patch
	writeJSON(w, http.StatusOK, patch)
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request, name string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	idx, item := b.find(name, chi.URLParam(r, "id"))
	if item == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found"})
		return
	}
	c := b.collection(name)
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

// collection and find must be called with b.lock held.
func (b *Backend) collection(name string) *collection {
	c, ok := b.collections[name]
	if !ok {
		c = &collection{}
		b.collections[name] = c
	}
	return c
}

func (b *Backend) find(name, id string) (int, map[string]any) {
	for i, item := range b.collection(name).items {
		if item["id"] == id {
			return i, clone(item)
		}
	}
	return -1, nil
}

func matches(item map[string]any, search string, filters map[string][]string) bool {
	for key, values := range filters {
		if reservedQuery[key] || len(values) == 0 {
			continue
		}
		if s, _ := item[key].(string); s != values[0] {
			return false
		}
	}
	if search == "" {
		return true
	}
	search = strings.ToLower(search)
	for _, key := range []string{"name", "email", "serial"} {
		if s, ok := item[key].(string); ok && strings.Contains(strings.ToLower(s), search) {
			return true
		}
	}
	return false
}

func clone(item map[string]any) map[string]any {
	out := make(map[string]any, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
