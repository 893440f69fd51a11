package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type CredentialsConfig interface {
	GetCredentialBackend() string
	GetCredentialsFile() string
	GetSealKey() (*[32]byte, error)
	GetRedisURL() string
	GetProfile() string
}

type Credentials struct {
	Backend  string `yaml:"backend"   env:"BACKOFFICE_CREDENTIAL_BACKEND" env-default:"file"`
	File     string `yaml:"file"      env:"BACKOFFICE_CREDENTIALS_FILE"   env-default:"~/.backoffice/credentials.json"`
	SealKey  string `yaml:"seal_key"  env:"BACKOFFICE_SEAL_KEY"`
	RedisURL string `yaml:"redis_url" env:"BACKOFFICE_REDIS_URL"          env-default:"redis://localhost:6379/0"`
	Profile  string `yaml:"profile"   env:"BACKOFFICE_PROFILE"            env-default:"default"`
}

var _ CredentialsConfig = Credentials{}

func (c Credentials) GetCredentialBackend() string {
	return c.Backend
}

// GetCredentialsFile expands a leading "~/" to the user's home directory.
func (c Credentials) GetCredentialsFile() string {
	if rest, ok := strings.CutPrefix(c.File, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return c.File
}

// GetSealKey decodes the base64 seal key. No key configured returns nil.
func (c Credentials) GetSealKey() (*[32]byte, error) {
	if c.SealKey == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(c.SealKey)
	if err != nil {
		return nil, fmt.Errorf("[Credentials.GetSealKey] seal_key is not base64: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("[Credentials.GetSealKey] seal_key must decode to 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

func (c Credentials) GetRedisURL() string {
	return c.RedisURL
}

func (c Credentials) GetProfile() string {
	return c.Profile
}
