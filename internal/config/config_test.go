package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeProject writes cfg and an empty rules file into a temp dir and
// returns the config path.
func writeProject(t *testing.T, cfg *Config) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.csv"), []byte("description,iban,amount,currency,start_day,end_day\n"), 0o644))
	path := filepath.Join(dir, "txguard.yaml")
	require.NoError(t, Save(path, cfg))
	return path
}

func plainConfig() *Config {
	cfg := Default()
	cfg.Accounts[0].Password = "secret"
	cfg.Accounts[0].PasswordType = PasswordPlain
	return cfg
}

func TestRoundTrip(t *testing.T) {
	cfg := plainConfig()
	cfg.Events = append(cfg.Events, Event{
		ID: 2, Type: EventPush, ServerURL: "https://push.example.com", Username: "alice",
		Password: "pw", SharedSecret: "s3cret", Channel: "phone", RatePerMinute: 6,
	})
	cfg.Accounts[0].Events = []int{1, 2}

	path := writeProject(t, cfg)
	got, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.General, got.General)
	assert.Equal(t, cfg.Events, got.Events)
	assert.Equal(t, cfg.Accounts, got.Accounts)
	require.NoError(t, got.Validate())
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 300, cfg.General.CheckInterval)
	assert.Equal(t, 60, cfg.General.RulesInterval)
	assert.Equal(t, 5, cfg.General.LookbackDays)
	assert.Equal(t, 10, cfg.General.EvictionGraceDays)
	assert.Equal(t, 5, cfg.General.ShutdownGrace)
	assert.Equal(t, "info", cfg.General.LogLevel)
	require.Len(t, cfg.Events, 1)
	assert.Equal(t, EventLog, cfg.Events[0].Type)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, []int{1}, cfg.Accounts[0].Events)
}

func TestLoad_MissingKeysKeepDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "txguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("general:\n  check_interval: 120\n  lookback_days: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.General.CheckInterval)
	assert.Equal(t, 3, cfg.General.LookbackDays)
	assert.Equal(t, 10, cfg.General.EvictionGraceDays)
	assert.Equal(t, 60, cfg.General.RulesInterval)
	assert.Equal(t, 2*time.Minute, cfg.General.CheckIntervalDuration())
	assert.Equal(t, time.Minute, cfg.General.RulesIntervalDuration())
	assert.Equal(t, 5*time.Second, cfg.General.ShutdownGraceDuration())
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("general: [unclosed\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parsing config")
}

func TestYAMLFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txguard.yaml")
	require.NoError(t, Save(path, Default()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	contents := string(data)

	assert.Contains(t, contents, "check_interval: 300")
	assert.Contains(t, contents, "eviction_grace_days: 10")
	assert.Contains(t, contents, "rules_file: rules.csv")
	assert.Contains(t, contents, "password_type: env")
	assert.NotContains(t, contents, "shared_secret")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero interval", func(c *Config) { c.General.CheckInterval = 0 }, "check_interval must be greater than 0"},
		{"zero rules interval", func(c *Config) { c.General.RulesInterval = 0 }, "rules_interval must be greater than 0"},
		{"grace not above lookback", func(c *Config) { c.General.EvictionGraceDays = 5 }, "eviction_grace_days (5) must be greater than lookback_days (5)"},
		{"log level", func(c *Config) { c.General.LogLevel = "chatty" }, `unknown log level "chatty"`},
		{"duplicate event", func(c *Config) { c.Events = append(c.Events, Event{ID: 1, Type: EventLog}) }, "event id 1 not unique"},
		{"unknown event type", func(c *Config) { c.Events[0].Type = "pager" }, `unknown event type "pager"`},
		{"push fields", func(c *Config) { c.Events[0].Type = EventPush }, "push event needs server_url and shared_secret"},
		{"mailgun fields", func(c *Config) { c.Events[0].Type = EventMailgun }, "mailgun event needs domain, api_key and sender"},
		{"unknown event ref", func(c *Config) { c.Accounts[0].Events = []int{1, 7} }, `account "Checking": unknown event id 7`},
		{"unknown password type", func(c *Config) { c.Accounts[0].PasswordType = "rot13" }, `unknown password type "rot13"`},
		{"missing rules file", func(c *Config) { c.Accounts[0].RulesFile = "nope.csv" }, "nope.csv"},
		{"no accounts", func(c *Config) { c.Accounts = nil }, "no accounts configured"},
		{"missing iban", func(c *Config) { c.Accounts[0].IBAN = " " }, "iban is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeProject(t, plainConfig()))
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg, err := Load(writeProject(t, plainConfig()))
	require.NoError(t, err)
	cfg.General.CheckInterval = -1
	cfg.Events[0].Type = "pager"
	cfg.Accounts[0].Events = []int{9}

	var ve *ValidationError
	require.ErrorAs(t, cfg.Validate(), &ve)
	assert.Len(t, ve.Problems, 3)
}

func TestEventKind_CaseInsensitive(t *testing.T) {
	cfg, err := Load(writeProject(t, plainConfig()))
	require.NoError(t, err)
	cfg.Events = []Event{
		{ID: 1, Type: "LOG"},
		{ID: 2, Type: " Push ", ServerURL: "https://push.example.com", SharedSecret: "s"},
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, EventLog, cfg.Events[0].Kind())
	assert.Equal(t, EventPush, cfg.Events[1].Kind())
}

func TestDecodePassword(t *testing.T) {
	t.Setenv("TXGUARD_TEST_PASSWORD", "from-env")

	tests := []struct {
		value, kind, want string
		wantErr           bool
	}{
		{"hunter2", "", "hunter2", false},
		{"hunter2", "plain", "hunter2", false},
		{"hunter2", "PLAIN", "hunter2", false},
		{base64.StdEncoding.EncodeToString([]byte("hunter2")), "base64", "hunter2", false},
		{"not base64!", "base64", "", true},
		{"TXGUARD_TEST_PASSWORD", "env", "from-env", false},
		{"TXGUARD_TEST_UNSET_PASSWORD", "env", "", true},
		{"x", "rot13", "", true},
	}
	for _, tt := range tests {
		got, err := DecodePassword(tt.value, tt.kind)
		if tt.wantErr {
			assert.Error(t, err, "%s/%s", tt.kind, tt.value)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	cfg := Default()
	cfg.Accounts[0].Password = "TXGUARD_DOTENV_PASSWORD"
	path := writeProject(t, cfg)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte("TXGUARD_DOTENV_PASSWORD=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TXGUARD_DOTENV_PASSWORD") })

	got, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, got.Validate())

	id, err := got.Identity(got.Accounts[0])
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", id.Password)
	assert.Equal(t, "Checking", id.Name)
	assert.Equal(t, "DE89370400440532013000", id.IBAN)
}

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := &Config{dir: "/etc/txguard"}
	assert.Equal(t, "/etc/txguard/rules.csv", cfg.ResolvePath("rules.csv"))
	assert.Equal(t, "/var/lib/rules.csv", cfg.ResolvePath("/var/lib/rules.csv"))
	assert.Equal(t, filepath.Join(home, "rules.csv"), cfg.ResolvePath("~/rules.csv"))
	assert.Equal(t, "", cfg.ResolvePath(""))
}
