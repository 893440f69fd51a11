package config_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-backoffice/internal/config"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv(config.ConfigPathEnvVar, "")

	cfg, err := config.New("")
	require.NoError(t, err)

	require.Equal(t, "DEV", cfg.GetEnv())
	require.Equal(t, "info", cfg.GetLogLevel())
	require.Equal(t, "http://localhost:8000", cfg.GetBaseURL())
	require.Equal(t, "http://localhost:8000/api/v1", cfg.GetAPIURL())
	require.Equal(t, 30*time.Second, cfg.GetRequestTimeout())
	require.Equal(t, 30*time.Second, cfg.GetRefreshTimeout())
	require.Equal(t, config.BackendFile, cfg.GetCredentialBackend())
	require.True(t, strings.HasSuffix(cfg.GetCredentialsFile(), filepath.Join(".backoffice", "credentials.json")))
	require.False(t, strings.HasPrefix(cfg.GetCredentialsFile(), "~"))

	key, err := cfg.GetSealKey()
	require.NoError(t, err)
	require.Nil(t, key)
	require.Empty(t, cfg.GetOIDCIssuer())
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  env: prod
api:
  base_url: https://backoffice.example.com/
  base_path: /api/v2/
  request_timeout: 5s
credentials:
  backend: memory
`), 0o600))
	t.Setenv("BACKOFFICE_REFRESH_TIMEOUT", "7s")

	cfg, err := config.New(path)
	require.NoError(t, err)

	require.Equal(t, "prod", cfg.GetEnv())
	require.Equal(t, "https://backoffice.example.com/api/v2", cfg.GetAPIURL())
	require.Equal(t, 5*time.Second, cfg.GetRequestTimeout())
	require.Equal(t, 7*time.Second, cfg.GetRefreshTimeout())
	require.Equal(t, config.BackendMemory, cfg.GetCredentialBackend())
}

func TestLoad_DefaultFileInWorkingDirectory(t *testing.T) {
	dir := chdirTemp(t)
	t.Setenv(config.ConfigPathEnvVar, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultConfigFile), []byte("api:\n  base_url: http://api.local\n"), 0o600))

	cfg, err := config.New("")
	require.NoError(t, err)
	require.Equal(t, "http://api.local/api/v1", cfg.GetAPIURL())
}

func TestLoad_Errors(t *testing.T) {
	chdirTemp(t)
	t.Setenv(config.ConfigPathEnvVar, "")

	_, err := config.New("/does/not/exist.yaml")
	require.Error(t, err)

	t.Setenv("BACKOFFICE_CREDENTIAL_BACKEND", "floppy")
	_, err = config.New("")
	require.ErrorContains(t, err, "floppy")
}

func TestCredentials_SealKey(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	got, err := config.Credentials{SealKey: base64.StdEncoding.EncodeToString(key)}.GetSealKey()
	require.NoError(t, err)
	require.Equal(t, byte(31), got[31])

	_, err = config.Credentials{SealKey: base64.StdEncoding.EncodeToString(key[:16])}.GetSealKey()
	require.Error(t, err)

	_, err = config.Credentials{SealKey: "%%%"}.GetSealKey()
	require.Error(t, err)
}
