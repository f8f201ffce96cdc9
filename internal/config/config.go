// Package config loads the environment variables spec §6 lists as
// "consumed by external collaborators" into a single immutable
// config.Config, read once at process startup and passed down explicitly
// rather than re-read from os.Getenv throughout the call graph (spec §9:
// "Global mutable state ... becomes a value owned by the composition
// root"). Loaded with viper, grounded on other_examples/posilva-simpleidentity's
// spf13/viper usage.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

var teamIDPattern = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// Config is the process-wide, read-only configuration (spec §5: "the
// trust anchor ... and configuration ... are read-only after
// initialization").
type Config struct {
	AppleTeamID      string // APPLE_TEAM_ID
	BundleIdentifier string // BUNDLE_IDENTIFIER
	DevMode          bool   // derived from NODE_ENV-equivalent not equaling "production"
	DatabaseURL      string // DATABASE_URL
	ListenAddr       string // LISTEN_ADDR, default ":8080"
}

// Load reads environment variables into a Config and validates the fields
// spec §6 constrains. No config file is read.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("APP_ENV", "development")

	cfg := &Config{
		AppleTeamID:      v.GetString("APPLE_TEAM_ID"),
		BundleIdentifier: v.GetString("BUNDLE_IDENTIFIER"),
		DevMode:          strings.ToLower(v.GetString("APP_ENV")) != "production",
		DatabaseURL:      v.GetString("DATABASE_URL"),
		ListenAddr:       v.GetString("LISTEN_ADDR"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !teamIDPattern.MatchString(c.AppleTeamID) {
		return fmt.Errorf("config: APPLE_TEAM_ID must be 10 uppercase alphanumeric characters, got %q", c.AppleTeamID)
	}
	if c.BundleIdentifier == "" {
		return fmt.Errorf("config: BUNDLE_IDENTIFIER must be set")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL must be set")
	}
	return nil
}
