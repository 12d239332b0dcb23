// Package config provides daemon configuration from command-line flags,
// environment variables and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the daemon configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Notifier NotifierConfig
	Server   ServerConfig
	Watches  WatchesConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level  string
	Format string // json or pretty; empty picks by environment
}

// NotifierConfig tunes the watch registry.
type NotifierConfig struct {
	ConsolidationInterval time.Duration // default: 1s
	PollInterval          time.Duration // default: 2s
	PendingPollInterval   time.Duration // default: 2.5s
	ReinitInterval        time.Duration // minimum spacing of forced reinitializations, default: 5s
	ProbeTimeout          time.Duration // host lookup bound for network paths, default: 2s
	DispatchWorkers       int           // default: 8
	Backend               string        // auto, inotify or fsnotify
	IgnoreHidden          bool
	IgnorePatterns        []string
}

// ServerConfig holds the status API configuration.
type ServerConfig struct {
	Enabled      bool          // default: true
	Host         string        // default: 127.0.0.1
	Port         string        // default: 7337
	ReadTimeout  time.Duration // default: 15s
	WriteTimeout time.Duration // default: 15s
	IdleTimeout  time.Duration // default: 60s
	Advertise    bool          // default: false

	// AllowedOrigins enables CORS for these origins. Empty disables CORS.
	AllowedOrigins []string
}

// Addr returns the listen address of the status API.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// WatchesConfig points at the watch-list file.
type WatchesConfig struct {
	File string
}

// LoadConfig loads configuration from os.Args with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load is LoadConfig for an explicit argument list.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("fend", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "Log format (json, pretty)")

	consolidation := fs.String("consolidation-interval", "", "Event consolidation interval (default: 1s)")
	poll := fs.String("poll-interval", "", "Availability poll interval (default: 2s)")
	pendingPoll := fs.String("pending-poll-interval", "", "Poll interval for paths not yet available (default: 2.5s)")
	reinit := fs.String("reinit-interval", "", "Minimum spacing of native watch reinitializations (default: 5s)")
	probeTimeout := fs.String("probe-timeout", "", "Host lookup timeout for network paths (default: 2s)")
	workers := fs.String("dispatch-workers", "", "Callback worker count (default: 8)")
	backend := fs.String("backend", "", "Native watch backend (auto, inotify, fsnotify)")
	ignoreHidden := fs.String("ignore-hidden", "", "Ignore dot files (default: false)")
	ignorePatterns := fs.String("ignore-patterns", "", "Comma separated glob patterns to ignore")

	serverEnabled := fs.String("status-api", "", "Serve the status API (default: true)")
	serverHost := fs.String("host", "", "Status API host (default: 127.0.0.1)")
	serverPort := fs.String("port", "", "Status API port (default: 7337)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	advertise := fs.String("advertise", "", "Announce the status API over mDNS via Avahi (default: false)")
	corsOrigins := fs.String("cors-origins", "", "Comma separated origins allowed to call the status API")

	watchFile := fs.String("watches", "", "Path to the YAML watch list")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level:  getConfigValue(*logLevel, "LOG_LEVEL", "info"),
			Format: getConfigValue(*logFormat, "LOG_FORMAT", ""),
		},
		Notifier: NotifierConfig{
			DispatchWorkers: getIntConfigValue(*workers, "FEN_DISPATCH_WORKERS", 8),
			Backend:         getConfigValue(*backend, "FEN_BACKEND", "auto"),
			IgnoreHidden:    getBoolConfigValue(*ignoreHidden, "FEN_IGNORE_HIDDEN", false),
			IgnorePatterns:  splitList(getConfigValue(*ignorePatterns, "FEN_IGNORE_PATTERNS", "")),
		},
		Server: ServerConfig{
			Enabled:        getBoolConfigValue(*serverEnabled, "STATUS_API", true),
			Host:           getConfigValue(*serverHost, "SERVER_HOST", "127.0.0.1"),
			Port:           getConfigValue(*serverPort, "SERVER_PORT", "7337"),
			Advertise:      getBoolConfigValue(*advertise, "SERVER_ADVERTISE", false),
			AllowedOrigins: splitList(getConfigValue(*corsOrigins, "SERVER_CORS_ORIGINS", "")),
		},
		Watches: WatchesConfig{
			File: getConfigValue(*watchFile, "FEN_WATCHES", ""),
		},
	}

	durations := []struct {
		flag, env, def string
		dst            *time.Duration
	}{
		{*consolidation, "FEN_CONSOLIDATION_INTERVAL", "1s", &cfg.Notifier.ConsolidationInterval},
		{*poll, "FEN_POLL_INTERVAL", "2s", &cfg.Notifier.PollInterval},
		{*pendingPoll, "FEN_PENDING_POLL_INTERVAL", "2500ms", &cfg.Notifier.PendingPollInterval},
		{*reinit, "FEN_REINIT_INTERVAL", "5s", &cfg.Notifier.ReinitInterval},
		{*probeTimeout, "FEN_PROBE_TIMEOUT", "2s", &cfg.Notifier.ProbeTimeout},
		{*readTimeout, "SERVER_READ_TIMEOUT", "15s", &cfg.Server.ReadTimeout},
		{*writeTimeout, "SERVER_WRITE_TIMEOUT", "15s", &cfg.Server.WriteTimeout},
		{*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s", &cfg.Server.IdleTimeout},
	}
	for _, d := range durations {
		value := getConfigValue(d.flag, d.env, d.def)
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", strings.ToLower(d.env), value, err)
		}
		*d.dst = parsed
	}

	if cfg.Watches.File != "" {
		expanded, err := expandPath(cfg.Watches.File, "")
		if err != nil {
			return nil, fmt.Errorf("invalid watch list path: %w", err)
		}
		cfg.Watches.File = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	switch c.Logger.Format {
	case "", "json", "pretty":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or pretty)", c.Logger.Format)
	}

	switch c.Notifier.Backend {
	case "auto", "inotify", "fsnotify":
	default:
		return fmt.Errorf("invalid backend: %s (must be auto, inotify, or fsnotify)", c.Notifier.Backend)
	}

	positive := map[string]time.Duration{
		"consolidation interval": c.Notifier.ConsolidationInterval,
		"poll interval":          c.Notifier.PollInterval,
		"pending poll interval":  c.Notifier.PendingPollInterval,
		"reinit interval":        c.Notifier.ReinitInterval,
		"probe timeout":          c.Notifier.ProbeTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.Notifier.DispatchWorkers < 1 {
		return fmt.Errorf("dispatch workers must be at least 1, got %d", c.Notifier.DispatchWorkers)
	}

	for _, p := range c.Notifier.IgnorePatterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
	}

	if c.Server.Enabled && c.Server.Port == "" {
		return errors.New("server port is required when the status API is enabled")
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Environment variables take precedence over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
