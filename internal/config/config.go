package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ConfigPathEnvVar names the YAML file to load when no explicit path is given.
const ConfigPathEnvVar = "BACKOFFICE_CONFIG"

// DefaultConfigFile is tried from the working directory last.
const DefaultConfigFile = "backoffice.yaml"

type Config interface {
	EnvConfig
	APIConfig
	CredentialsConfig
	OIDCConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetMetricsFile() string
}

type APIConfig interface {
	GetBaseURL() string
	GetAPIBasePath() string
	GetAPIURL() string
	GetRequestTimeout() time.Duration
	GetRefreshTimeout() time.Duration
}

// Settings is the loaded configuration. Each section supplies its own getters.
type Settings struct {
	EnvVars     `yaml:"app"`
	API         `yaml:"api"`
	Credentials `yaml:"credentials"`
	OIDC        `yaml:"oidc"`
}

var _ Config = Settings{}

type API struct {
	BaseURL        string        `yaml:"base_url"        env:"BACKOFFICE_BASE_URL"        env-default:"http://localhost:8000"`
	BasePath       string        `yaml:"base_path"       env:"BACKOFFICE_API_BASE_PATH"   env-default:"/api/v1"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"BACKOFFICE_REQUEST_TIMEOUT" env-default:"30s"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"BACKOFFICE_REFRESH_TIMEOUT" env-default:"30s"`
}

var _ APIConfig = API{}

func (a API) GetBaseURL() string {
	return a.BaseURL
}

func (a API) GetAPIBasePath() string {
	return a.BasePath
}

// GetAPIURL joins the base URL and the API base path, e.g. "http://localhost:8000/api/v1".
func (a API) GetAPIURL() string {
	base := strings.TrimRight(a.BaseURL, "/")
	path := strings.Trim(a.BasePath, "/")
	if path == "" {
		return base
	}
	return base + "/" + path
}

func (a API) GetRequestTimeout() time.Duration {
	return a.RequestTimeout
}

func (a API) GetRefreshTimeout() time.Duration {
	return a.RefreshTimeout
}

// New loads the configuration from the first source found:
// the explicit path, $BACKOFFICE_CONFIG, ./backoffice.yaml, then the
// environment alone. Environment variables override file values.
func New(path string) (Config, error) {
	settings, err := Load(path)
	if err != nil {
		return nil, err
	}
	return *settings, nil
}

func Load(path string) (*Settings, error) {
	var settings Settings

	if path == "" {
		path = GetEnv(ConfigPathEnvVar, "")
	}
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("[config.Load] config file does not exist: %s", path)
		}
		if err := cleanenv.ReadConfig(path, &settings); err != nil {
			return nil, fmt.Errorf("[config.Load] failed to read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&settings); err != nil {
		return nil, fmt.Errorf("[config.Load] failed to read environment: %w", err)
	}

	if err := settings.validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s Settings) validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("[config.validate] base_url is required")
	}
	if s.RequestTimeout <= 0 || s.RefreshTimeout <= 0 {
		return fmt.Errorf("[config.validate] timeouts must be positive")
	}
	switch s.Backend {
	case BackendFile, BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("[config.validate] unknown credential backend %q", s.Backend)
	}
	if _, err := s.GetSealKey(); err != nil {
		return err
	}
	return nil
}
