package application

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SiteOverrides tunes occupancy evaluation for a single site.
type SiteOverrides struct {
	StaleThresholdMinutes int `yaml:"stale_threshold_minutes"`
}

// Config defines occupancy tracking configuration.
type Config struct {
	DefaultSiteID         string                   `yaml:"default_site_id"`
	StaleThresholdMinutes int                      `yaml:"stale_threshold_minutes"`
	Sites                 map[string]SiteOverrides `yaml:"sites"`
}

// LoadConfig loads config from yaml or env. Env values seed the defaults;
// a TRACKER_CONFIG yaml file, when set, overrides them.
func LoadConfig() (Config, error) {
	cfg := Config{
		DefaultSiteID:         getenvDefault("DEFAULT_SITE_ID", "site-001"),
		StaleThresholdMinutes: getenvIntDefault("STALE_THRESHOLD_MINUTES", 30),
	}

	if path := os.Getenv("TRACKER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.DefaultSiteID == "" {
		return cfg, errors.New("occupancy config: default site id required")
	}
	if cfg.StaleThresholdMinutes <= 0 {
		return cfg, errors.New("occupancy config: stale threshold must be positive")
	}
	return cfg, nil
}

// StaleThresholdFor returns the staleness threshold for a site, falling back
// to the global default when the site has no override.
func (c Config) StaleThresholdFor(siteID string) time.Duration {
	if c.Sites != nil {
		if override, ok := c.Sites[siteID]; ok && override.StaleThresholdMinutes > 0 {
			return time.Duration(override.StaleThresholdMinutes) * time.Minute
		}
	}
	return time.Duration(c.StaleThresholdMinutes) * time.Minute
}

// StaleThresholdMinutesFor mirrors StaleThresholdFor for API responses that
// expose the configured value in minutes.
func (c Config) StaleThresholdMinutesFor(siteID string) int {
	if c.Sites != nil {
		if override, ok := c.Sites[siteID]; ok && override.StaleThresholdMinutes > 0 {
			return override.StaleThresholdMinutes
		}
	}
	return c.StaleThresholdMinutes
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
