// Package config defines process configuration for the scoring service and
// loads it from defaults, an optional YAML file, and environment variables.
package config

import "time"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DataDir is where the sqlite database lives.
	DataDir string `koanf:"data_dir"`

	// CommitCap is the per-commit line ceiling applied when aggregating
	// code contribution, to keep bulk imports from distorting scores.
	CommitCap int `koanf:"commit_cap"`

	// RiskFraction and OverloadFraction classify pressure against a
	// project threshold. They are engine constants, not per-project.
	RiskFraction     float64 `koanf:"risk_fraction"`
	OverloadFraction float64 `koanf:"overload_fraction"`

	// DefaultPressureThreshold is used for projects without a configured
	// positive threshold.
	DefaultPressureThreshold float64 `koanf:"default_pressure_threshold"`

	// SweepInterval is the period of the pressure update sweep.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// CommitSyncInterval is the period of GitHub commit ingestion.
	CommitSyncInterval time.Duration `koanf:"commit_sync_interval"`

	// JWTSecret signs and validates session tokens.
	JWTSecret string `koanf:"jwt_secret"`

	// GitHubToken authenticates commit ingestion against the GitHub API.
	GitHubToken string `koanf:"github_token"`

	// SendgridAPIKey enables email notification fan-out when set.
	SendgridAPIKey string `koanf:"sendgrid_api_key"`
	FromName       string `koanf:"from_name"`
	FromEmail      string `koanf:"from_email"`
	AppName        string `koanf:"app_name"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                 "info",
		Addr:                     ":8080",
		DataDir:                  "./data",
		CommitCap:                1000,
		RiskFraction:             0.7,
		OverloadFraction:         1.0,
		DefaultPressureThreshold: 15,
		SweepInterval:            24 * time.Hour,
		CommitSyncInterval:       time.Hour,
		AppName:                  "ProjectPulse",
		FromName:                 "ProjectPulse",
		FromEmail:                "no-reply@projectpulse.local",
	}
}
