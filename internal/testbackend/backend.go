// Package testbackend is an in-process fake of the backoffice REST API used by
// tests. It issues real tokens, rotates refresh tokens, and records the calls
// it receives.
package testbackend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-backoffice/authmodel"
)

// User is an account the fake accepts at /login/token.
type User struct {
	Email    string
	Password string
	Claims   map[string]any
}

// Recorded is one request seen by the fake.
type Recorded struct {
	Method        string
	Path          string
	RawQuery      string
	Authorization string
	ContentType   string
	RequestID     string
	Body          string
}

// Backend is a running fake API.
type Backend struct {
	Server *httptest.Server
	Router chi.Router

	lock          sync.Mutex
	users         map[string]User
	validAccess   map[string]map[string]any
	refreshTokens map[string]map[string]any
	requests      []Recorded
	refreshReqs   []authmodel.RefreshRequest
	refreshGate   chan struct{}
	refreshReject *rejection
	loginBody     func(access, refresh string) any
	refreshBody   func(access, refresh string) any
	collections   map[string]*collection
	listEnvelope  bool
	siteFilter    bool

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
}

type rejection struct {
	status int
	body   string
}

// New starts a fake backend that is closed when the test ends.
func New(t *testing.T) *Backend {
	t.Helper()

	b := &Backend{
		users:         make(map[string]User),
		validAccess:   make(map[string]map[string]any),
		refreshTokens: make(map[string]map[string]any),
		collections:   make(map[string]*collection),
		listEnvelope:  true,
		siteFilter:    true,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(b.record)

	r.Post("/login/token", b.handleLogin)
	r.Post("/auth/refresh", b.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(b.requireBearer)
		r.HandleFunc("/echo", b.handleEcho)
		r.Get("/text", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, "pong")
		})
		r.HandleFunc("/status/{code}", handleStatus)
		b.mountResources(r)
	})

	b.Router = r
	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the base URL of the fake.
func (b *Backend) URL() string {
	return b.Server.URL
}

// AddUser registers an account.
func (b *Backend) AddUser(u User) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.users[u.Email] = u
}

// IssueTokens mints a valid access/refresh pair without a login call.
func (b *Backend) IssueTokens(claims map[string]any) (access, refresh string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.issue(claims)
}

// ExpireAccessTokens invalidates every access token issued so far.
func (b *Backend) ExpireAccessTokens() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.validAccess = make(map[string]map[string]any)
}

// RejectRefresh makes /auth/refresh answer status with body until reset by
// AcceptRefresh.
func (b *Backend) RejectRefresh(status int, body string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshReject = &rejection{status: status, body: body}
}

func (b *Backend) AcceptRefresh() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshReject = nil
}

// GateRefresh holds every /auth/refresh call until the returned release is called.
func (b *Backend) GateRefresh() (release func()) {
	gate := make(chan struct{})
	b.lock.Lock()
	b.refreshGate = gate
	b.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// SetLoginBody overrides the /login/token success body.
func (b *Backend) SetLoginBody(fn func(access, refresh string) any) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.loginBody = fn
}

// SetRefreshBody overrides the /auth/refresh success body.
func (b *Backend) SetRefreshBody(fn func(access, refresh string) any) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshBody = fn
}

func (b *Backend) LoginCalls() int {
	return int(b.loginCalls.Load())
}

func (b *Backend) RefreshCalls() int {
	return int(b.refreshCalls.Load())
}

// RefreshRequests returns the decoded /auth/refresh bodies.
func (b *Backend) RefreshRequests() []authmodel.RefreshRequest {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]authmodel.RefreshRequest(nil), b.refreshReqs...)
}

// Requests returns every request seen, in arrival order.
func (b *Backend) Requests() []Recorded {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]Recorded(nil), b.requests...)
}

// RequestsTo returns the recorded requests for one path.
func (b *Backend) RequestsTo(path string) []Recorded {
	var out []Recorded
	for _, r := range b.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		b.lock.Lock()
		b.requests = append(b.requests, Recorded{
			Method:        r.Method,
			Path:          r.URL.Path,
			RawQuery:      r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
			ContentType:   r.Header.Get("Content-Type"),
			RequestID:     r.Header.Get("X-Request-Id"),
			Body:          string(body),
		})
		b.lock.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (b *Backend) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		b.lock.Lock()
		_, valid := b.validAccess[access]
		b.lock.Unlock()
		if !ok || !valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	b.loginCalls.Add(1)

	var req authmodel.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed login request", http.StatusUnprocessableEntity)
		return
	}

	b.lock.Lock()
	user, ok := b.users[req.Email]
	if !ok || user.Password != req.Password {
		b.lock.Unlock()
		http.Error(w, "Incorrect email or password", http.StatusUnauthorized)
		return
	}
	access, refresh := b.issue(user.Claims)
	bodyFn := b.loginBody
	b.lock.Unlock()

	var body any = map[string]string{"access_token": access, "refresh_token": refresh, "token_type": "bearer"}
	if bodyFn != nil {
		body = bodyFn(access, refresh)
	}
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)

	var req authmodel.RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.lock.Lock()
	b.refreshReqs = append(b.refreshReqs, req)
	gate := b.refreshGate
	b.lock.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	if b.refreshReject != nil {
		http.Error(w, b.refreshReject.body, b.refreshReject.status)
		return
	}

	claims, ok := b.refreshTokens[req.RefreshToken]
	if !ok {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	delete(b.refreshTokens, req.RefreshToken)
	access, refresh := b.issue(claims)

	var body any = map[string]string{"access_token": access, "refresh_token": refresh, "token_type": "bearer"}
	if b.refreshBody != nil {
		body = b.refreshBody(access, refresh)
	}
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) handleEcho(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusOK, map[string]string{
		"method":       r.Method,
		"path":         r.URL.Path,
		"query":        r.URL.RawQuery,
		"content_type": r.Header.Get("Content-Type"),
		"body":         string(body),
	})
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	var code int
	if _, err := fmt.Sscanf(chi.URLParam(r, "code"), "%d", &code); err != nil || code < 200 || code > 599 {
		http.Error(w, "bad status", http.StatusBadRequest)
		return
	}
	http.Error(w, fmt.Sprintf("status %d", code), code)
}

// issue must be called with b.lock held.
func (b *Backend) issue(claims map[string]any) (string, string) {
	access := MustToken(claims)
	refresh := "refresh-" + uuid.NewString()
	b.validAccess[access] = claims
	b.refreshTokens[refresh] = claims
	return access, refresh
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
