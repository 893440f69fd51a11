package config

import (
	"os"
)

type EnvVars struct {
	AppName     string `yaml:"name"         env:"BACKOFFICE_APP_NAME"     env-default:"Backoffice"`
	Env         string `yaml:"env"          env:"BACKOFFICE_ENV"          env-default:"DEV"`
	LogLevel    string `yaml:"log_level"    env:"BACKOFFICE_LOG_LEVEL"    env-default:"info"`
	MetricsFile string `yaml:"metrics_file" env:"BACKOFFICE_METRICS_FILE"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return "DEV"
	}
	return e.Env
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

// GetMetricsFile is where the CLI writes its metrics on exit. Empty disables it.
func (e EnvVars) GetMetricsFile() string {
	return e.MetricsFile
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
