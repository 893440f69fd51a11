package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-backoffice/authmodel"
	"github.com/jrsteele09/go-backoffice/credentials"
	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
	"github.com/jrsteele09/go-backoffice/internal/metrics"
	"github.com/jrsteele09/go-backoffice/internal/utils"
	"github.com/jrsteele09/go-backoffice/sessionevents"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	LoginPath   = "/login/token"
	RefreshPath = "/auth/refresh"

	defaultRefreshTimeout = 30 * time.Second
	refreshFlightKey      = "refresh"
)

// SessionManager logs in, logs out and refreshes the access token against
// the backend, keeping the results in a credentials.Store.
type SessionManager struct {
	baseURL         string
	store           *credentials.Store
	httpClient      *http.Client
	logger          zerolog.Logger
	metrics         *metrics.Metrics
	refreshTimeout  time.Duration
	idTokenVerifier IDTokenVerifier
	events          *sessionevents.Publisher
	flight          singleflight.Group
}

// SessionManagerOption configures a SessionManager.
type SessionManagerOption func(*SessionManager)

func WithHTTPClient(client *http.Client) SessionManagerOption {
	return func(sm *SessionManager) {
		sm.httpClient = client
	}
}

func WithLogger(logger zerolog.Logger) SessionManagerOption {
	return func(sm *SessionManager) {
		sm.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) SessionManagerOption {
	return func(sm *SessionManager) {
		sm.metrics = m
	}
}

// WithRefreshTimeout bounds a shared refresh independently of any one caller.
func WithRefreshTimeout(timeout time.Duration) SessionManagerOption {
	return func(sm *SessionManager) {
		if timeout > 0 {
			sm.refreshTimeout = timeout
		}
	}
}

// WithIDTokenVerifier verifies the id_token at login. A token that fails
// verification is not stored; the login itself still succeeds.
func WithIDTokenVerifier(verifier IDTokenVerifier) SessionManagerOption {
	return func(sm *SessionManager) {
		sm.idTokenVerifier = verifier
	}
}

// WithEvents publishes signed_in, refreshed and signed_out events.
func WithEvents(publisher *sessionevents.Publisher) SessionManagerOption {
	return func(sm *SessionManager) {
		sm.events = publisher
	}
}

// NewSessionManager talks to the API at baseURL (e.g. "http://host/api/v1").
func NewSessionManager(baseURL string, store *credentials.Store, options ...SessionManagerOption) *SessionManager {
	sm := &SessionManager{
		baseURL:        strings.TrimRight(baseURL, "/"),
		store:          store,
		httpClient:     http.DefaultClient,
		logger:         zerolog.Nop(),
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range options {
		opt(sm)
	}
	if sm.metrics == nil {
		sm.metrics = metrics.New()
	}

	store.OnClear(sm.onClear)
	return sm
}

// Login exchanges credentials for tokens. tenantHint is sent as tenant_id and
// used as the stored tenant when the access token carries no tenant claim.
func (sm *SessionManager) Login(ctx context.Context, email, password, tenantHint string) (string, error) {
	body, err := json.Marshal(authmodel.LoginRequest{TenantID: tenantHint, Email: email, Password: password})
	if err != nil {
		return "", apperrors.Wrapf(err, "[SessionManager.Login] encode request")
	}

	status, respBody, err := sm.post(ctx, LoginPath, body)
	if err != nil {
		sm.metrics.Logins.WithLabelValues("error").Inc()
		return "", apperrors.Wrapf(err, "[SessionManager.Login]")
	}

	if !isSuccess(status) {
		sm.metrics.Logins.WithLabelValues("rejected").Inc()
		sm.logger.Info().Str("email", email).Int("status", status).Msg("Login rejected")
		return "", &AuthError{
			Kind:   InvalidCredentials,
			Status: status,
			Detail: utils.FirstNonEmpty(strings.TrimSpace(string(respBody)), "invalid login"),
		}
	}

	var doc map[string]any
	if err := json.Unmarshal(respBody, &doc); err != nil {
		sm.metrics.Logins.WithLabelValues("no_token").Inc()
		return "", &AuthError{Kind: NoTokenInResponse, Status: status, Detail: "malformed login response"}
	}

	resp := authmodel.LoginResponse(doc)
	if resp.AccessToken == nil {
		sm.metrics.Logins.WithLabelValues("no_token").Inc()
		return "", &AuthError{Kind: NoTokenInResponse, Status: status, Detail: "no token received in the login response"}
	}

	if resp.IDToken != nil && sm.idTokenVerifier != nil {
		if err := sm.idTokenVerifier.Verify(ctx, *resp.IDToken); err != nil {
			sm.logger.Warn().Err(err).Str("email", email).Msg("Discarding id_token that failed verification")
			resp.IDToken = nil
		}
	}

	if err := sm.store.SetFromAuthResponse(ctx, resp, tenantHint); err != nil {
		sm.metrics.Logins.WithLabelValues("error").Inc()
		return "", apperrors.Wrapf(err, "[SessionManager.Login] store credentials")
	}
	sm.metrics.Logins.WithLabelValues("success").Inc()

	set, _ := sm.store.Snapshot(ctx)
	sm.logger.Info().Str("username", set.Username).Str("tenant", set.TenantID).Msg("Signed in")
	sm.publish(ctx, sessionevents.Event{Type: sessionevents.SignedIn, Username: set.Username, Tenant: set.TenantID})

	return *resp.AccessToken, nil
}

// Logout removes every stored credential. Logging out without a session does nothing.
func (sm *SessionManager) Logout(ctx context.Context) error {
	set, err := sm.store.Snapshot(ctx)
	if err != nil {
		return apperrors.Wrapf(err, "[SessionManager.Logout]")
	}
	if set.Empty() {
		return nil
	}
	return sm.store.ClearAll(ctx, credentials.ClearLogout)
}

// RefreshAccessToken obtains a new access token with the stored refresh token.
//
// Concurrent callers share one in-flight refresh and all observe its result.
// The shared refresh runs detached from any single caller's context and is
// bounded by the refresh timeout; a caller whose own context ends stops
// waiting with ctx.Err() while the refresh carries on for the others.
//
// If the session is cleared or replaced while the refresh runs, its tokens
// are discarded and the error wraps ErrSessionEnded.
func (sm *SessionManager) RefreshAccessToken(ctx context.Context) (string, error) {
	results := sm.flight.DoChan(refreshFlightKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sm.refreshTimeout)
		defer cancel()
		return sm.refresh(flightCtx)
	})

	sm.metrics.RefreshWaiters.Inc()
	defer sm.metrics.RefreshWaiters.Dec()

	select {
	case res := <-results:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (sm *SessionManager) refresh(ctx context.Context) (string, error) {
	unlock, err := sm.store.LockRefresh(ctx, sm.refreshTimeout)
	if err != nil {
		sm.metrics.Refreshes.WithLabelValues(metrics.RefreshError).Inc()
		return "", apperrors.Wrapf(err, "[SessionManager.refresh] lock")
	}
	defer unlock()

	set, generation, err := sm.store.SnapshotGeneration(ctx)
	if err != nil {
		sm.metrics.Refreshes.WithLabelValues(metrics.RefreshError).Inc()
		return "", apperrors.Wrapf(err, "[SessionManager.refresh] read credentials")
	}
	if !set.CanRefresh() {
		sm.metrics.Refreshes.WithLabelValues(metrics.RefreshMissingContext).Inc()
		return "", &AuthError{Kind: MissingRefreshContext, Detail: "username, refresh token and tenant are required"}
	}

	body, err := json.Marshal(authmodel.RefreshRequest{
		Username:     set.Username,
		RefreshToken: set.RefreshToken,
		Company:      set.TenantID,
	})
	if err != nil {
		return "", apperrors.Wrapf(err, "[SessionManager.refresh] encode request")
	}

	start := time.Now()
	status, respBody, err := sm.post(ctx, RefreshPath, body)
	if err != nil {
		sm.metrics.Refreshes.WithLabelValues(metrics.RefreshError).Inc()
		return "", apperrors.Wrapf(err, "[SessionManager.refresh]")
	}

	if !isSuccess(status) {
		sm.metrics.Refreshes.WithLabelValues(metrics.RefreshRejected).Inc()
		sm.logger.Info().Str("username", set.Username).Int("status", status).Msg("Refresh rejected")
		return "", &AuthError{
			Kind:   RefreshRejected,
			Status: status,
			Detail: utils.FirstNonEmpty(strings.TrimSpace(string(respBody)), fmt.Sprintf("HTTP %d", status)),
		}
	}

	var doc map[string]any
	if err := json.Unmarshal(respBody, &doc); err != nil {
		sm.metrics.Refreshes.WithLabelValues(metrics.RefreshNoToken).Inc()
		return "", &AuthError{Kind: NoTokenInResponse, Status: status, Detail: "malformed refresh response"}
	}

	resp := authmodel.RefreshResponse(doc)
	if resp.AccessToken == nil {
		sm.metrics.Refreshes.WithLabelValues(metrics.RefreshNoToken).Inc()
		return "", &AuthError{Kind: NoTokenInResponse, Status: status, Detail: "no access_token in the refresh response"}
	}

	if err := sm.store.UpdateFromRefresh(ctx, resp, generation); err != nil {
		sm.metrics.Refreshes.WithLabelValues(metrics.RefreshError).Inc()
		if apperrors.Is(err, apperrors.ErrSessionEnded) {
			sm.logger.Info().Str("username", set.Username).Msg("Discarding refresh, the session ended while it ran")
		}
		return "", apperrors.Wrapf(err, "[SessionManager.refresh] store credentials")
	}
	sm.metrics.Refreshes.WithLabelValues(metrics.RefreshSuccess).Inc()

	sm.logger.Debug().Str("username", set.Username).Dur("duration", time.Since(start)).Msg("Access token refreshed")
	sm.publish(ctx, sessionevents.Event{Type: sessionevents.Refreshed, Username: set.Username, Tenant: set.TenantID})

	return *resp.AccessToken, nil
}

func (sm *SessionManager) onClear(ctx context.Context, reason credentials.ClearReason, previous credentials.Set) {
	sm.metrics.Teardowns.WithLabelValues(string(reason)).Inc()
	sm.publish(ctx, sessionevents.Event{
		Type:     sessionevents.SignedOut,
		Username: previous.Username,
		Tenant:   previous.TenantID,
		Reason:   string(reason),
	})
}

func (sm *SessionManager) publish(ctx context.Context, event sessionevents.Event) {
	if sm.events == nil {
		return
	}
	if err := sm.events.Publish(ctx, event); err != nil {
		sm.logger.Warn().Err(err).Str("type", string(event.Type)).Msg("Failed to publish session event")
	}
}

func (sm *SessionManager) post(ctx context.Context, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sm.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("[SessionManager.post] build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := sm.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("[SessionManager.post] %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("[SessionManager.post] read %s response: %w", path, err)
	}
	return resp.StatusCode, data, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
