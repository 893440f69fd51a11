package credentials_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jrsteele09/go-backoffice/credentials"
	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestFileBackend_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")

	first, err := credentials.NewFileBackend(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, credentials.SlotUsername, "alice"))
	require.NoError(t, first.Set(ctx, credentials.SlotTenant, "t1"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := credentials.NewFileBackend(path)
	require.NoError(t, err)
	username, err := second.Get(ctx, credentials.SlotUsername)
	require.NoError(t, err)
	require.Equal(t, "alice", username)

	_, err = second.Get(ctx, credentials.SlotAccessToken)
	require.ErrorIs(t, err, apperrors.ErrSlotNotFound)
}

func TestFileBackend_DeleteAllRemovesFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")

	fb, err := credentials.NewFileBackend(path)
	require.NoError(t, err)
	require.NoError(t, fb.Set(ctx, credentials.SlotAccessToken, "a"))
	require.NoError(t, fb.Delete(ctx, credentials.AllSlots...))

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.NoError(t, fb.Delete(ctx, credentials.AllSlots...))
}

func TestFileBackend_Sealed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")

	fb, err := credentials.NewFileBackend(path, credentials.WithSealKey(key))
	require.NoError(t, err)
	require.NoError(t, fb.Set(ctx, credentials.SlotRefreshToken, "very-secret"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.False(t, strings.Contains(string(raw), "very-secret"))

	value, err := fb.Get(ctx, credentials.SlotRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "very-secret", value)

	var wrong [32]byte
	other, err := credentials.NewFileBackend(path, credentials.WithSealKey(wrong))
	require.NoError(t, err)
	_, err = other.Get(ctx, credentials.SlotRefreshToken)
	require.ErrorIs(t, err, apperrors.ErrSealedStore)

	plain, err := credentials.NewFileBackend(path)
	require.NoError(t, err)
	_, err = plain.Get(ctx, credentials.SlotRefreshToken)
	require.ErrorIs(t, err, apperrors.ErrSealedStore)
}

func TestNewFileBackend_RequiresPath(t *testing.T) {
	_, err := credentials.NewFileBackend("")
	require.Error(t, err)
}

func TestNewRedisBackend_BadURL(t *testing.T) {
	_, err := credentials.NewRedisBackend(context.Background(), "not a url", "default")
	require.Error(t, err)
}

func TestFileBackend_UnreadableDocumentIsReplaced(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	fb, err := credentials.NewFileBackend(path)
	require.NoError(t, err)
	store := credentials.NewStore(fb)

	_, err = store.Snapshot(ctx)
	require.ErrorIs(t, err, apperrors.ErrSealedStore)

	require.NoError(t, store.ClearAll(ctx, credentials.ClearLogout))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, store.Put(ctx, credentials.SlotUsername, "alice"))
	username, err := store.Username(ctx)
	require.NoError(t, err)
	require.Equal(t, "alice", username)
}

func TestFileBackend_SetReplacesDocumentSealedWithAnotherKey(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")
	var oldKey, newKey [32]byte
	copy(oldKey[:], "0123456789abcdef0123456789abcdef")
	copy(newKey[:], "fedcba9876543210fedcba9876543210")

	old, err := credentials.NewFileBackend(path, credentials.WithSealKey(oldKey))
	require.NoError(t, err)
	require.NoError(t, old.Set(ctx, credentials.SlotRefreshToken, "r-old"))

	fb, err := credentials.NewFileBackend(path, credentials.WithSealKey(newKey))
	require.NoError(t, err)
	require.NoError(t, fb.Set(ctx, credentials.SlotRefreshToken, "r-new"))

	value, err := fb.Get(ctx, credentials.SlotRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "r-new", value)
}
