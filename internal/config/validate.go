package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"time"

	"github.com/robfig/cron/v3"
)

// Validation range constants.
const (
	minWorkers     = 1
	maxWorkers     = 64
	minTimeout     = 1 * time.Second
	schemeHTTP     = "http"
	schemeHTTPS    = "https"
	logFormatAuto  = "auto"
	logFormatText  = "text"
	logFormatJSON  = "json"
	patternProbe   = ""
	errNotPositive = "must be positive"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks all configuration values and returns all errors found,
// joined, so a user can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateCatalog(&cfg.Catalog)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateChunkSize("copy.chunk_size", cfg.Copy.ChunkSize)...)
	errs = append(errs, validateChunkSize("deletion.chunk_size", cfg.Deletion.ChunkSize)...)
	errs = append(errs, validateHistory(&cfg.History)...)
	errs = append(errs, validateDaemon(&cfg.Daemon)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateCatalog(c *CatalogConfig) []error {
	var errs []error

	u, err := url.Parse(c.URL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("catalog.url: %w", err))
	case u.Scheme != schemeHTTP && u.Scheme != schemeHTTPS, u.Host == "":
		errs = append(errs, fmt.Errorf("catalog.url: must be an http(s) URL, got %q", c.URL))
	}

	if c.DBSInstance == "" {
		errs = append(errs, errors.New("catalog.dbs_instance: must not be empty"))
	}

	d, err := time.ParseDuration(c.Timeout)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("catalog.timeout: invalid duration %q: %w", c.Timeout, err))
	case d < minTimeout:
		errs = append(errs, fmt.Errorf("catalog.timeout: must be at least %s, got %s", minTimeout, d))
	}

	return errs
}

// TimeoutDuration returns the parsed request timeout. The config must have
// passed Validate.
func (c CatalogConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.Workers < minWorkers || s.Workers > maxWorkers {
		errs = append(errs, fmt.Errorf("sync.workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, s.Workers))
	}

	lists := []struct {
		key      string
		patterns []string
	}{
		{"sync.allowed_sites", s.AllowedSites},
		{"sync.excluded_sites", s.ExcludedSites},
		{"sync.allowed_datasets", s.AllowedDatasets},
		{"sync.excluded_datasets", s.ExcludedDatasets},
	}

	for _, l := range lists {
		for _, p := range l.patterns {
			if _, err := path.Match(p, patternProbe); err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid pattern %q: %w", l.key, p, err))
			}
		}
	}

	return errs
}

func validateChunkSize(key, s string) []error {
	n, err := ParseSize(s)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", key, err)}
	}

	if n <= 0 {
		return []error{fmt.Errorf("%s: %s, got %q", key, errNotPositive, s)}
	}

	return nil
}

func validateHistory(h *HistoryConfig) []error {
	if h.DBPath == "" {
		return []error{errors.New("history.db_path: must not be empty")}
	}

	return nil
}

func validateDaemon(d *DaemonConfig) []error {
	var errs []error

	if _, err := cron.ParseStandard(d.UpdateSchedule); err != nil {
		errs = append(errs, fmt.Errorf("daemon.update_schedule: %w", err))
	}

	// An empty address disables the metrics endpoint.
	if d.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(d.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("daemon.metrics_addr: %w", err))
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	switch l.LogFormat {
	case logFormatAuto, logFormatText, logFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.log_format: must be auto, text or json; got %q", l.LogFormat))
	}

	return errs
}
