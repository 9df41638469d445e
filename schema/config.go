package schema

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	StateDir         string
	DefaultDirectory string
	DefaultModel     ModelID
	TitleMax         int
	RateLimitTTL     time.Duration
	TreeMaxDepth     int
}

// DefaultTitleMax is the derived-title length cap in runes.
const DefaultTitleMax = 50

// DefaultRateLimitTTL is how long a scraped rate-limit snapshot stays fresh.
const DefaultRateLimitTTL = 30 * time.Second

// DefaultTreeMaxDepth bounds directory tree walks.
const DefaultTreeMaxDepth = 3

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".claude-web", "state")
	}
	if cfg.DefaultDirectory == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.DefaultDirectory = home
	}
	if cfg.TitleMax <= 0 {
		cfg.TitleMax = DefaultTitleMax
	}
	if cfg.RateLimitTTL <= 0 {
		cfg.RateLimitTTL = DefaultRateLimitTTL
	}
	if cfg.TreeMaxDepth <= 0 {
		cfg.TreeMaxDepth = DefaultTreeMaxDepth
	}
	if cfg.TitleMax <= 3 {
		return ServiceConfig{}, errors.New("title max must exceed ellipsis length")
	}
	return cfg, nil
}
