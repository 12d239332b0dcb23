package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Notifier: NotifierConfig{
			ConsolidationInterval: time.Second,
			PollInterval:          2 * time.Second,
			PendingPollInterval:   2500 * time.Millisecond,
			ReinitInterval:        5 * time.Second,
			ProbeTimeout:          2 * time.Second,
			DispatchWorkers:       8,
			Backend:               "auto",
		},
		Server: ServerConfig{Enabled: true, Host: "127.0.0.1", Port: "7337"},
	}
}

// noEnvFile points the loader at a file that does not exist.
func noEnvFile(t *testing.T) string {
	return "--env-file=" + filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load([]string{noEnvFile(t)})
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, time.Second, cfg.Notifier.ConsolidationInterval)
	assert.Equal(t, 2*time.Second, cfg.Notifier.PollInterval)
	assert.Equal(t, 2500*time.Millisecond, cfg.Notifier.PendingPollInterval)
	assert.Equal(t, 5*time.Second, cfg.Notifier.ReinitInterval)
	assert.Equal(t, 8, cfg.Notifier.DispatchWorkers)
	assert.Equal(t, "auto", cfg.Notifier.Backend)
	assert.False(t, cfg.Notifier.IgnoreHidden)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, "127.0.0.1:7337", cfg.Server.Addr())
	assert.False(t, cfg.Server.Advertise)
	assert.Empty(t, cfg.Watches.File)
}

func TestLoad_Precedence(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("FEN_BACKEND", "fsnotify")
	t.Setenv("FEN_DISPATCH_WORKERS", "3")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("FEN_POLL_INTERVAL=750ms\nFEN_DISPATCH_WORKERS=5\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("FEN_POLL_INTERVAL") })

	t.Setenv("SERVER_ADVERTISE", "true")
	t.Setenv("SERVER_CORS_ORIGINS", "https://dash.example")

	cfg, err := Load([]string{"--env-file=" + envFile, "--log-level=debug", "--ignore-patterns=*.tmp, .DS_Store"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level, "flag beats env")
	assert.Equal(t, "fsnotify", cfg.Notifier.Backend, "env beats default")
	assert.Equal(t, 3, cfg.Notifier.DispatchWorkers, "env beats .env file")
	assert.Equal(t, 750*time.Millisecond, cfg.Notifier.PollInterval, ".env beats default")
	assert.Equal(t, []string{"*.tmp", ".DS_Store"}, cfg.Notifier.IgnorePatterns)
	assert.True(t, cfg.Server.Advertise)
	assert.Equal(t, []string{"https://dash.example"}, cfg.Server.AllowedOrigins)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "bad duration", args: []string{"--consolidation-interval=soon"}},
		{name: "bad backend", args: []string{"--backend=kqueue"}},
		{name: "bad level", args: []string{"--log-level=loud"}},
		{name: "unknown flag", args: []string{"--no-such-flag"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(append(tt.args, noEnvFile(t)))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ExpandsWatchFile(t *testing.T) {
	cfg, err := Load([]string{noEnvFile(t), "--watches=watches.yaml"})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.Watches.File))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "staging", mutate: func(c *Config) { c.App.Environment = "staging" }, ok: true},
		{name: "empty env", mutate: func(c *Config) { c.App.Environment = "" }},
		{name: "env is case sensitive", mutate: func(c *Config) { c.App.Environment = "PRODUCTION" }},
		{name: "level is case insensitive", mutate: func(c *Config) { c.Logger.Level = "DEBUG" }, ok: true},
		{name: "bad format", mutate: func(c *Config) { c.Logger.Format = "xml" }},
		{name: "zero interval", mutate: func(c *Config) { c.Notifier.PollInterval = 0 }},
		{name: "no workers", mutate: func(c *Config) { c.Notifier.DispatchWorkers = 0 }},
		{name: "bad ignore pattern", mutate: func(c *Config) { c.Notifier.IgnorePatterns = []string{"[x"} }},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }},
		{name: "missing port with api off", mutate: func(c *Config) {
			c.Server.Port = ""
			c.Server.Enabled = false
		}, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("", "/default")
	require.NoError(t, err)
	assert.Equal(t, "/default", got)

	got, err = expandPath("~/books", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "books"), got)

	got, err = expandPath("books", "")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}

func TestGetConfigValue_Precedence(t *testing.T) {
	assert.Equal(t, "flag", getConfigValue("flag", "FEN_TEST_KEY", "default"))

	t.Setenv("FEN_TEST_KEY", "env")
	assert.Equal(t, "env", getConfigValue("", "FEN_TEST_KEY", "default"))
	assert.Equal(t, "default", getConfigValue("", "FEN_TEST_UNSET", "default"))
}

func TestGetBoolAndIntConfigValue(t *testing.T) {
	assert.True(t, getBoolConfigValue("yes", "X", false))
	assert.True(t, getBoolConfigValue("1", "X", false))
	assert.False(t, getBoolConfigValue("nope", "X", true))
	assert.True(t, getBoolConfigValue("", "FEN_TEST_UNSET", true))

	assert.Equal(t, 4, getIntConfigValue("4", "X", 1))
	assert.Equal(t, 1, getIntConfigValue("four", "X", 1))
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\n\nFEN_TEST_A=one\nFEN_TEST_B = \"two\"\nFEN_TEST_KEEP=file\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("FEN_TEST_KEEP", "env")
	t.Cleanup(func() {
		_ = os.Unsetenv("FEN_TEST_A")
		_ = os.Unsetenv("FEN_TEST_B")
	})

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "one", os.Getenv("FEN_TEST_A"))
	assert.Equal(t, "two", os.Getenv("FEN_TEST_B"))
	assert.Equal(t, "env", os.Getenv("FEN_TEST_KEEP"))

	bad := filepath.Join(t.TempDir(), "bad.env")
	require.NoError(t, os.WriteFile(bad, []byte("NOT_A_PAIR\n"), 0o600))
	assert.Error(t, loadEnvFile(bad))
	assert.Error(t, loadEnvFile(filepath.Join(t.TempDir(), "missing")))
}
