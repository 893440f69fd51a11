package auth_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-backoffice/auth"
	"github.com/jrsteele09/go-backoffice/authmodel"
	"github.com/jrsteele09/go-backoffice/credentials"
	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
	"github.com/jrsteele09/go-backoffice/internal/metrics"
	"github.com/jrsteele09/go-backoffice/internal/testbackend"
	"github.com/jrsteele09/go-backoffice/internal/utils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "password123"
	testTenant   = "tenant-1"
)

type fixture struct {
	backend *testbackend.Backend
	store   *credentials.Store
	metrics *metrics.Metrics
	manager *auth.SessionManager
}

func setupFixture(t *testing.T, options ...auth.SessionManagerOption) *fixture {
	t.Helper()

	backend := testbackend.New(t)
	backend.AddUser(testbackend.User{
		Email:    testEmail,
		Password: testPassword,
		Claims:   map[string]any{"username": "alice", "tenant": testTenant},
	})

	m := metrics.New()
	store := credentials.NewStore(credentials.NewMemoryBackend())
	options = append([]auth.SessionManagerOption{auth.WithMetrics(m)}, options...)

	return &fixture{
		backend: backend,
		store:   store,
		metrics: m,
		manager: auth.NewSessionManager(backend.URL(), store, options...),
	}
}

// signIn stores a session issued by the backend without a login call.
func (f *fixture) signIn(t *testing.T, claims map[string]any) (access, refresh string) {
	t.Helper()
	access, refresh = f.backend.IssueTokens(claims)
	require.NoError(t, f.store.SetFromAuthResponse(context.Background(), authmodel.TokenResponse{
		AccessToken:  utils.Ptr(access),
		RefreshToken: utils.Ptr(refresh),
	}, ""))
	return access, refresh
}

func requireAuthError(t *testing.T, err error, kind auth.ErrorKind) *auth.AuthError {
	t.Helper()
	var authErr *auth.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, kind, authErr.Kind)
	return authErr
}

func TestLogin_StoresSession(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	access, err := f.manager.Login(ctx, testEmail, testPassword, "")
	require.NoError(t, err)
	require.NotEmpty(t, access)

	set, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, access, set.AccessToken)
	require.NotEmpty(t, set.RefreshToken)
	require.Equal(t, "alice", set.Username)
	require.Equal(t, testTenant, set.TenantID)
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Logins.WithLabelValues("success")))
}

func TestLogin_SendsTenantHint(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	_, err := f.manager.Login(ctx, testEmail, testPassword, "hint-tenant")
	require.NoError(t, err)

	reqs := f.backend.RequestsTo(auth.LoginPath)
	require.Len(t, reqs, 1)
	require.JSONEq(t, `{"tenant_id":"hint-tenant","email":"alice@example.com","password":"password123"}`, reqs[0].Body)
	require.Equal(t, "application/json", reqs[0].ContentType)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	_, err := f.manager.Login(ctx, testEmail, "wrong", "")
	authErr := requireAuthError(t, err, auth.InvalidCredentials)
	require.Equal(t, http.StatusUnauthorized, authErr.Status)
	require.Equal(t, "Incorrect email or password", authErr.Detail)
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	ok, err := f.store.IsAuthenticated(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLogin_TokenFieldAliases(t *testing.T) {
	tests := []struct {
		name string
		body func(access, refresh string) any
	}{
		{name: "token", body: func(a, _ string) any { return map[string]any{"token": a} }},
		{name: "jwt", body: func(a, _ string) any { return map[string]any{"jwt": a} }},
		{name: "result envelope", body: func(a, _ string) any {
			return map[string]any{"result": map[string]any{"access_token": a}}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := setupFixture(t)
			f.backend.SetLoginBody(tc.body)

			access, err := f.manager.Login(ctx, testEmail, testPassword, "")
			require.NoError(t, err)

			stored, err := f.store.AccessToken(ctx)
			require.NoError(t, err)
			require.Equal(t, access, stored)

			refresh, err := f.store.RefreshToken(ctx)
			require.NoError(t, err)
			require.Empty(t, refresh)
		})
	}
}

func TestLogin_NoTokenInResponse(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	f.backend.SetLoginBody(func(_, _ string) any { return map[string]any{"detail": "ok", "access_token": ""} })

	_, err := f.manager.Login(ctx, testEmail, testPassword, "")
	requireAuthError(t, err, auth.NoTokenInResponse)
	require.ErrorIs(t, err, apperrors.ErrNoTokenInResponse)

	set, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, set.Empty())
}

func TestLogin_TenantFallsBackToHint(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	f.backend.AddUser(testbackend.User{Email: "bob@example.com", Password: "pw", Claims: map[string]any{"username": "bob"}})

	_, err := f.manager.Login(ctx, "bob@example.com", "pw", "from-form")
	require.NoError(t, err)

	tenant, err := f.store.Tenant(ctx)
	require.NoError(t, err)
	require.Equal(t, "from-form", tenant)
}

type stubVerifier struct {
	err error
}

func (s stubVerifier) Verify(context.Context, string) error {
	return s.err
}

func TestLogin_IDTokenVerification(t *testing.T) {
	withIDToken := func(a, r string) any {
		return map[string]any{"access_token": a, "refresh_token": r, "id_token": "id-token-value"}
	}

	t.Run("verified id token is kept", func(t *testing.T) {
		ctx := context.Background()
		f := setupFixture(t, auth.WithIDTokenVerifier(stubVerifier{}))
		f.backend.SetLoginBody(withIDToken)

		_, err := f.manager.Login(ctx, testEmail, testPassword, "")
		require.NoError(t, err)
		id, err := f.store.IDToken(ctx)
		require.NoError(t, err)
		require.Equal(t, "id-token-value", id)
	})

	t.Run("failing id token is dropped", func(t *testing.T) {
		ctx := context.Background()
		f := setupFixture(t, auth.WithIDTokenVerifier(stubVerifier{err: errors.New("bad signature")}))
		f.backend.SetLoginBody(withIDToken)

		_, err := f.manager.Login(ctx, testEmail, testPassword, "")
		require.NoError(t, err)
		id, err := f.store.IDToken(ctx)
		require.NoError(t, err)
		require.Empty(t, id)
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	var reasons []credentials.ClearReason
	f.store.OnClear(func(_ context.Context, reason credentials.ClearReason, _ credentials.Set) {
		reasons = append(reasons, reason)
	})

	require.NoError(t, f.manager.Logout(ctx))
	require.Empty(t, reasons, "logging out without a session is a no-op")

	f.signIn(t, map[string]any{"username": "alice", "tenant": testTenant})
	require.NoError(t, f.store.Put(ctx, credentials.SlotCompany, "legacy"))

	require.NoError(t, f.manager.Logout(ctx))
	require.NoError(t, f.manager.Logout(ctx))

	set, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, set.Empty())
	require.Equal(t, []credentials.ClearReason{credentials.ClearLogout}, reasons)
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Teardowns.WithLabelValues("logout")))
}

func TestRefresh_UpdatesSession(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	oldAccess, oldRefresh := f.signIn(t, map[string]any{"username": "alice", "tenant": testTenant})

	access, err := f.manager.RefreshAccessToken(ctx)
	require.NoError(t, err)
	require.NotEqual(t, oldAccess, access)

	set, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, access, set.AccessToken)
	require.NotEqual(t, oldRefresh, set.RefreshToken)
	require.NotEmpty(t, set.RefreshToken)

	require.Equal(t, []authmodel.RefreshRequest{{Username: "alice", RefreshToken: oldRefresh, Company: testTenant}},
		f.backend.RefreshRequests())
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Refreshes.WithLabelValues(metrics.RefreshSuccess)))
}

func TestRefresh_UsesLegacyCompanySlot(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	_, refresh := f.signIn(t, map[string]any{"username": "alice"})
	require.NoError(t, f.store.Put(ctx, credentials.SlotCompany, "legacy-co"))

	_, err := f.manager.RefreshAccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, []authmodel.RefreshRequest{{Username: "alice", RefreshToken: refresh, Company: "legacy-co"}},
		f.backend.RefreshRequests())
}

func TestRefresh_SingleFlight(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	f.signIn(t, map[string]any{"username": "alice", "tenant": testTenant})
	release := f.backend.GateRefresh()
	defer release()

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = f.manager.RefreshAccessToken(ctx)
		}(i)
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.RefreshWaiters) == callers && f.backend.RefreshCalls() == 1
	}, 2*time.Second, 5*time.Millisecond)
	release()
	wg.Wait()

	stored, err := f.store.AccessToken(ctx)
	require.NoError(t, err)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, stored, tokens[i])
	}
	require.Equal(t, 1, f.backend.RefreshCalls())
	require.Equal(t, float64(0), testutil.ToFloat64(f.metrics.RefreshWaiters))
}

func TestRefresh_SingleFlightSharesFailure(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	f.signIn(t, map[string]any{"username": "alice", "tenant": testTenant})
	f.backend.RejectRefresh(http.StatusUnauthorized, "refresh token revoked")
	release := f.backend.GateRefresh()

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.RefreshAccessToken(ctx)
		}(i)
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.RefreshWaiters) == callers
	}, 2*time.Second, 5*time.Millisecond)
	release()
	wg.Wait()

	for _, err := range errs {
		authErr := requireAuthError(t, err, auth.RefreshRejected)
		require.Equal(t, "refresh token revoked", authErr.Detail)
		require.Equal(t, http.StatusUnauthorized, authErr.Status)
	}
	require.Equal(t, 1, f.backend.RefreshCalls())
}

func TestRefresh_MissingContextMakesNoCall(t *testing.T) {
	tests := []struct {
		name  string
		slots map[credentials.Slot]string
	}{
		{name: "empty store"},
		{name: "no refresh token", slots: map[credentials.Slot]string{credentials.SlotUsername: "alice", credentials.SlotTenant: "t1"}},
		{name: "no username", slots: map[credentials.Slot]string{credentials.SlotRefreshToken: "r", credentials.SlotTenant: "t1"}},
		{name: "no tenant", slots: map[credentials.Slot]string{credentials.SlotUsername: "alice", credentials.SlotRefreshToken: "r"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := setupFixture(t)
			for slot, value := range tc.slots {
				require.NoError(t, f.store.Put(ctx, slot, value))
			}

			_, err := f.manager.RefreshAccessToken(ctx)
			requireAuthError(t, err, auth.MissingRefreshContext)
			require.ErrorIs(t, err, apperrors.ErrMissingRefreshContext)
			require.Equal(t, 0, f.backend.RefreshCalls())
		})
	}
}

func TestRefresh_OmittedRefreshTokenIsKept(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	_, refresh := f.signIn(t, map[string]any{"username": "alice", "tenant": testTenant})
	f.backend.SetRefreshBody(func(a, _ string) any { return map[string]any{"access_token": a} })

	_, err := f.manager.RefreshAccessToken(ctx)
	require.NoError(t, err)

	stored, err := f.store.RefreshToken(ctx)
	require.NoError(t, err)
	require.Equal(t, refresh, stored)
}

func TestRefresh_TenantUnchangedWithoutClaim(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	f.signIn(t, map[string]any{"username": "alice"})
	require.NoError(t, f.store.Put(ctx, credentials.SlotTenant, "t-stored"))

	_, err := f.manager.RefreshAccessToken(ctx)
	require.NoError(t, err)

	tenant, err := f.store.Tenant(ctx)
	require.NoError(t, err)
	require.Equal(t, "t-stored", tenant)
}

func TestRefresh_NoAccessTokenInResponse(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	access, _ := f.signIn(t, map[string]any{"username": "alice", "tenant": testTenant})
	f.backend.SetRefreshBody(func(_, r string) any { return map[string]any{"token": "ignored", "refresh_token": r} })

	_, err := f.manager.RefreshAccessToken(ctx)
	requireAuthError(t, err, auth.NoTokenInResponse)

	stored, err := f.store.AccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, access, stored)
}

func TestRefresh_CallerCancellationLeavesFlightRunning(t *testing.T) {
	f := setupFixture(t)
	f.signIn(t, map[string]any{"username": "alice", "tenant": testTenant})
	release := f.backend.GateRefresh()
	defer release()

	impatient, cancel := context.WithCancel(context.Background())
	impatientErr := make(chan error, 1)
	go func() {
		_, err := f.manager.RefreshAccessToken(impatient)
		impatientErr <- err
	}()

	patientToken := make(chan string, 1)
	go func() {
		token, _ := f.manager.RefreshAccessToken(context.Background())
		patientToken <- token
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.RefreshWaiters) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-impatientErr, context.Canceled)

	release()
	token := <-patientToken
	require.NotEmpty(t, token)

	stored, err := f.store.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, token, stored)
	require.Equal(t, 1, f.backend.RefreshCalls())
}

func TestRefresh_LogoutDuringRefreshStaysSignedOut(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	f.signIn(t, map[string]any{"username": "alice", "tenant": testTenant})
	release := f.backend.GateRefresh()
	defer release()

	refreshErr := make(chan error, 1)
	go func() {
		_, err := f.manager.RefreshAccessToken(ctx)
		refreshErr <- err
	}()

	require.Eventually(t, func() bool { return f.backend.RefreshCalls() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.manager.Logout(ctx))

	release()
	require.ErrorIs(t, <-refreshErr, apperrors.ErrSessionEnded)

	set, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, set.Empty(), "tokens from the discarded refresh must not be stored")
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Refreshes.WithLabelValues(metrics.RefreshError)))
}

func TestRefresh_NewLoginDuringRefreshIsKept(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	f.signIn(t, map[string]any{"username": "alice", "tenant": testTenant})
	release := f.backend.GateRefresh()
	defer release()

	refreshErr := make(chan error, 1)
	go func() {
		_, err := f.manager.RefreshAccessToken(ctx)
		refreshErr <- err
	}()

	require.Eventually(t, func() bool { return f.backend.RefreshCalls() == 1 }, 2*time.Second, 5*time.Millisecond)
	access, err := f.manager.Login(ctx, testEmail, testPassword, "")
	require.NoError(t, err)

	release()
	require.ErrorIs(t, <-refreshErr, apperrors.ErrSessionEnded)

	stored, err := f.store.AccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, access, stored)
}

type lockingBackend struct {
	*credentials.MemoryBackend
	lock    sync.Mutex
	held    bool
	locks   int
	unlocks int
}

func (b *lockingBackend) LockRefresh(context.Context, time.Duration) (func(), error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.held = true
	b.locks++
	return func() {
		b.lock.Lock()
		defer b.lock.Unlock()
		b.held = false
		b.unlocks++
	}, nil
}

func (b *lockingBackend) Set(ctx context.Context, slot credentials.Slot, value string) error {
	b.lock.Lock()
	outsideLock := b.locks > 0 && !b.held
	b.lock.Unlock()
	if slot == credentials.SlotRefreshToken && outsideLock {
		return errors.New("refresh token rotated without the refresh lock")
	}
	return b.MemoryBackend.Set(ctx, slot, value)
}

func TestRefresh_HoldsSharedBackendLock(t *testing.T) {
	ctx := context.Background()
	backend := testbackend.New(t)
	locking := &lockingBackend{MemoryBackend: credentials.NewMemoryBackend()}
	store := credentials.NewStore(locking)
	manager := auth.NewSessionManager(backend.URL(), store)

	access, refresh := backend.IssueTokens(map[string]any{"username": "alice", "tenant": testTenant})
	require.NoError(t, store.SetFromAuthResponse(ctx, authmodel.TokenResponse{
		AccessToken:  utils.Ptr(access),
		RefreshToken: utils.Ptr(refresh),
	}, ""))

	_, err := manager.RefreshAccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, locking.locks)
	require.Equal(t, 1, locking.unlocks)
}
