// Package config loads service configuration from an optional yaml file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr   string `yaml:"addr"`
	DBPath string `yaml:"db_path"`

	LockTTL         time.Duration `yaml:"lock_ttl"`
	LockSweep       time.Duration `yaml:"lock_sweep_interval"`
	TrackerInterval time.Duration `yaml:"tracker_interval"`

	DuplicateWindow    time.Duration `yaml:"duplicate_window"`
	GlobalRequestLimit int           `yaml:"global_request_limit"`
	AgencyRequestLimit int           `yaml:"agency_request_limit"`

	OwnLibraryBorrowing bool `yaml:"own_library_borrowing"`
}

func Default() Config {
	return Config{
		Addr:            ":8080",
		DBPath:          "./dcbserver.db",
		LockTTL:         2 * time.Minute,
		LockSweep:       30 * time.Second,
		TrackerInterval: time.Minute,
		DuplicateWindow: 15 * time.Minute,
	}
}

// Load reads path (if non-empty) over the defaults, then applies env
// overrides. Missing file with an explicit path is an error; an empty
// path just means defaults + env.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Addr = getenv("DCB_ADDR", cfg.Addr)
	cfg.DBPath = getenv("DCB_DB", cfg.DBPath)
	cfg.LockTTL = getenvDuration("DCB_LOCK_TTL", cfg.LockTTL)
	cfg.TrackerInterval = getenvDuration("DCB_TRACKER_INTERVAL", cfg.TrackerInterval)
	cfg.DuplicateWindow = getenvDuration("DCB_DUPLICATE_WINDOW", cfg.DuplicateWindow)
	cfg.GlobalRequestLimit = getenvInt("DCB_GLOBAL_REQUEST_LIMIT", cfg.GlobalRequestLimit)
	cfg.AgencyRequestLimit = getenvInt("DCB_AGENCY_REQUEST_LIMIT", cfg.AgencyRequestLimit)
	if v := os.Getenv("DCB_OWN_LIBRARY_BORROWING"); v != "" {
		cfg.OwnLibraryBorrowing = v == "true" || v == "1"
	}

	return cfg, nil
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
