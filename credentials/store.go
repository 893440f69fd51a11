package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-backoffice/authmodel"
	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
	"github.com/jrsteele09/go-backoffice/internal/utils"
	"github.com/jrsteele09/go-backoffice/token"
	"github.com/rs/zerolog"
)

// ClearReason says why the credentials were removed.
type ClearReason string

const (
	ClearLogout        ClearReason = "logout"
	ClearRefreshFailed ClearReason = "refresh_failed"
	ClearUnauthorized  ClearReason = "unauthorized"
)

// ClearHook is told about every ClearAll, together with the credentials that
// were removed. It is how callers learn that the user must sign in again.
type ClearHook func(ctx context.Context, reason ClearReason, previous Set)

// Store is the process-wide holder of the current session credentials.
// Multi-slot updates hold the write lock so a Snapshot never sees a half
// written set.
//
// The generation changes on every sign-in and every ClearAll. A refresh
// records it when it reads the credentials and may only write back into the
// same generation, so a session that ended while the refresh was running
// stays ended.
type Store struct {
	backend    Backend
	logger     zerolog.Logger
	lock       sync.RWMutex
	generation uint64
	hooksLock  sync.RWMutex
	clearHooks []ClearHook
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClearHook registers a hook at construction time.
func WithClearHook(hook ClearHook) StoreOption {
	return func(s *Store) {
		s.clearHooks = append(s.clearHooks, hook)
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(backend Backend, options ...StoreOption) *Store {
	s := &Store{
		backend: backend,
		logger:  zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// OnClear registers a hook called after every ClearAll.
func (s *Store) OnClear(hook ClearHook) {
	s.hooksLock.Lock()
	defer s.hooksLock.Unlock()
	s.clearHooks = append(s.clearHooks, hook)
}

func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.read(ctx, SlotAccessToken)
}

func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	return s.read(ctx, SlotRefreshToken)
}

func (s *Store) IDToken(ctx context.Context) (string, error) {
	return s.read(ctx, SlotIDToken)
}

func (s *Store) Username(ctx context.Context) (string, error) {
	return s.read(ctx, SlotUsername)
}

// Tenant returns the tenant slot, falling back to the legacy company slot.
func (s *Store) Tenant(ctx context.Context) (string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.tenant(ctx)
}

// Put writes a single slot.
func (s *Store) Put(ctx context.Context, slot Slot, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.backend.Set(ctx, slot, value)
}

// Remove deletes a single slot.
func (s *Store) Remove(ctx context.Context, slot Slot) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.backend.Delete(ctx, slot)
}

// IsAuthenticated reports whether an access token is stored.
func (s *Store) IsAuthenticated(ctx context.Context) (bool, error) {
	at, err := s.AccessToken(ctx)
	return at != "", err
}

// Snapshot reads every field under one read lock.
func (s *Store) Snapshot(ctx context.Context) (Set, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.snapshot(ctx)
}

// SnapshotGeneration is Snapshot plus the generation the set belongs to.
// Pass the generation to UpdateFromRefresh.
func (s *Store) SnapshotGeneration(ctx context.Context) (Set, uint64, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	set, err := s.snapshot(ctx)
	return set, s.generation, err
}

// LockRefresh takes the backend's cross-process refresh lock when the
// backend has one. Otherwise unlock is a no-op.
func (s *Store) LockRefresh(ctx context.Context, ttl time.Duration) (func(), error) {
	if locker, ok := s.backend.(RefreshLocker); ok {
		return locker.LockRefresh(ctx, ttl)
	}
	return func() {}, nil
}

// SetFromAuthResponse stores a login response and starts a new generation.
//
// The access token is stored when present and its claims supply the username
// and the tenant (tenant claim, then the legacy company claim). tenantHint is
// the last tenant fallback and is only passed at login; refresh passes "" so
// the tenant stays unchanged when the claims carry none. Refresh and id tokens
// are written only when the response includes them, so an omitted rotation
// keeps the stored value.
func (s *Store) SetFromAuthResponse(ctx context.Context, resp authmodel.TokenResponse, tenantHint string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.generation++
	return s.setFromAuthResponse(ctx, resp, tenantHint)
}

// UpdateFromRefresh stores a refresh response, but only while the store is
// still on generation. Otherwise nothing is written and the error wraps
// ErrSessionEnded.
func (s *Store) UpdateFromRefresh(ctx context.Context, resp authmodel.TokenResponse, generation uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.generation != generation {
		return apperrors.Wrapf(apperrors.ErrSessionEnded, "[Store.UpdateFromRefresh] credentials changed during refresh")
	}
	return s.setFromAuthResponse(ctx, resp, "")
}

func (s *Store) setFromAuthResponse(ctx context.Context, resp authmodel.TokenResponse, tenantHint string) error {
	if accessToken := utils.Value(resp.AccessToken); accessToken != "" {
		if err := s.backend.Set(ctx, SlotAccessToken, accessToken); err != nil {
			return err
		}

		claims := token.DecodeClaims(accessToken)
		if username := claims.Username(); username != "" {
			if err := s.backend.Set(ctx, SlotUsername, username); err != nil {
				return err
			}
		}
		if tenant := utils.FirstNonEmpty(claims.Tenant(), tenantHint); tenant != "" {
			if err := s.backend.Set(ctx, SlotTenant, tenant); err != nil {
				return err
			}
		}
	}

	if refreshToken := utils.Value(resp.RefreshToken); refreshToken != "" {
		if err := s.backend.Set(ctx, SlotRefreshToken, refreshToken); err != nil {
			return err
		}
	}

	if idToken := utils.Value(resp.IDToken); idToken != "" {
		if err := s.backend.Set(ctx, SlotIDToken, idToken); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll removes every slot, legacy company included, then runs the clear
// hooks. Hooks run even if the backend fails so the caller is still signed out.
func (s *Store) ClearAll(ctx context.Context, reason ClearReason) error {
	s.lock.Lock()
	s.generation++
	previous, _ := s.snapshot(ctx)
	err := s.backend.Delete(ctx, AllSlots...)
	s.lock.Unlock()

	s.logger.Info().Str("reason", string(reason)).Str("username", previous.Username).Msg("credentials cleared")

	s.hooksLock.RLock()
	hooks := append([]ClearHook(nil), s.clearHooks...)
	s.hooksLock.RUnlock()

	for _, hook := range hooks {
		hook(ctx, reason, previous)
	}

	if err != nil {
		return apperrors.Wrapf(err, "[Store.ClearAll]")
	}
	return nil
}

func (s *Store) read(ctx context.Context, slot Slot) (string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.get(ctx, slot)
}

func (s *Store) get(ctx context.Context, slot Slot) (string, error) {
	value, err := s.backend.Get(ctx, slot)
	if apperrors.Is(err, apperrors.ErrSlotNotFound) {
		return "", nil
	}
	return value, err
}

func (s *Store) tenant(ctx context.Context) (string, error) {
	tenant, err := s.get(ctx, SlotTenant)
	if err != nil || tenant != "" {
		return tenant, err
	}
	return s.get(ctx, SlotCompany)
}

func (s *Store) snapshot(ctx context.Context) (Set, error) {
	var (
		set Set
		err error
	)
	if set.AccessToken, err = s.get(ctx, SlotAccessToken); err != nil {
		return Set{}, err
	}
	if set.RefreshToken, err = s.get(ctx, SlotRefreshToken); err != nil {
		return Set{}, err
	}
	if set.IDToken, err = s.get(ctx, SlotIDToken); err != nil {
		return Set{}, err
	}
	if set.Username, err = s.get(ctx, SlotUsername); err != nil {
		return Set{}, err
	}
	if set.TenantID, err = s.tenant(ctx); err != nil {
		return Set{}, err
	}
	return set, nil
}
