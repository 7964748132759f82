package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/txguard-dev/txguard/internal/logger"
	"github.com/txguard-dev/txguard/internal/model"
)

// Event types.
const (
	EventPush    = "push"
	EventMailgun = "mailgun"
	EventLog     = "log"
)

// Password types.
const (
	PasswordPlain  = "plain"
	PasswordBase64 = "base64"
	PasswordEnv    = "env"
)

// Config represents the top-level txguard.yaml configuration.
type Config struct {
	General  General   `yaml:"general"`
	Events   []Event   `yaml:"events"`
	Accounts []Account `yaml:"accounts"`

	// dir is the directory relative paths resolve against.
	dir string
}

// General holds process-wide settings. Intervals are in seconds.
type General struct {
	CheckInterval     int    `yaml:"check_interval"`
	RulesInterval     int    `yaml:"rules_interval"`
	LookbackDays      int    `yaml:"lookback_days"`
	EvictionGraceDays int    `yaml:"eviction_grace_days"`
	ShutdownGrace     int    `yaml:"shutdown_grace"` // 0 uses the 5s default
	LogLevel          string `yaml:"log_level"`
	LogFile           string `yaml:"log_file,omitempty"`
	AlertLog          string `yaml:"alert_log,omitempty"`
}

// Event is a notification target. Which fields apply depends on Type.
type Event struct {
	ID            int     `yaml:"id"`
	Type          string  `yaml:"type"`
	Channel       string  `yaml:"channel,omitempty"`
	RatePerMinute float64 `yaml:"rate_per_minute,omitempty"`

	// push
	ServerURL    string `yaml:"server_url,omitempty"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	SharedSecret string `yaml:"shared_secret,omitempty"`

	// mailgun
	Domain  string `yaml:"domain,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
	Sender  string `yaml:"sender,omitempty"`
	APIBase string `yaml:"api_base,omitempty"`
}

// Kind returns the event type, lower-cased and trimmed.
func (e Event) Kind() string {
	return strings.ToLower(strings.TrimSpace(e.Type))
}

// Account is one monitored bank account.
type Account struct {
	Name         string `yaml:"name"`
	RulesFile    string `yaml:"rules_file"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	PasswordType string `yaml:"password_type"`
	IBAN         string `yaml:"iban"`
	BLZ          string `yaml:"blz"`
	URL          string `yaml:"url"`
	TokenURL     string `yaml:"token_url,omitempty"`
	Events       []int  `yaml:"events"`
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

func defaults() *Config {
	return &Config{
		General: General{
			RulesInterval:     60,
			LookbackDays:      5,
			EvictionGraceDays: 10,
			ShutdownGrace:     5,
			LogLevel:          "info",
		},
	}
}

// Load reads a txguard.yaml file from disk. Keys missing from the file
// keep their defaults. A .env file next to the config is loaded into the
// environment first, if present.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.dir = dir
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	// Does not override variables already set in the environment.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a sample Config for a new installation: one account
// whose alerts go to the log.
func Default() *Config {
	cfg := defaults()
	cfg.General.CheckInterval = 300
	cfg.General.AlertLog = "alerts.csv"
	cfg.Events = []Event{
		{ID: 1, Type: EventLog, Channel: "alerts"},
	}
	cfg.Accounts = []Account{
		{
			Name:         "Checking",
			RulesFile:    "rules.csv",
			User:         "user",
			Password:     "TXGUARD_CHECKING_PASSWORD",
			PasswordType: PasswordEnv,
			IBAN:         "DE89370400440532013000",
			BLZ:          "37040044",
			URL:          "https://bank.example.com/api",
			Events:       []int{1},
		},
	}
	return cfg
}

// Validate checks cfg and returns a *ValidationError listing every problem.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	g := c.General
	if g.CheckInterval <= 0 {
		add("general.check_interval must be greater than 0")
	}
	if g.RulesInterval <= 0 {
		add("general.rules_interval must be greater than 0")
	}
	if g.LookbackDays < 0 {
		add("general.lookback_days must not be negative")
	}
	if g.EvictionGraceDays <= g.LookbackDays {
		add("general.eviction_grace_days (%d) must be greater than lookback_days (%d)",
			g.EvictionGraceDays, g.LookbackDays)
	}
	if g.ShutdownGrace < 0 {
		add("general.shutdown_grace must not be negative")
	}
	if _, err := logger.ParseLevel(g.LogLevel); err != nil {
		add("general.log_level: %v", err)
	}

	ids := make(map[int]bool)
	for i, ev := range c.Events {
		if ids[ev.ID] {
			add("events[%d]: event id %d not unique", i, ev.ID)
		}
		ids[ev.ID] = true
		switch ev.Kind() {
		case EventPush:
			if ev.ServerURL == "" || ev.SharedSecret == "" {
				add("events[%d]: push event needs server_url and shared_secret", i)
			}
		case EventMailgun:
			if ev.Domain == "" || ev.APIKey == "" || ev.Sender == "" {
				add("events[%d]: mailgun event needs domain, api_key and sender", i)
			}
		case EventLog:
		default:
			add("events[%d]: unknown event type %q", i, ev.Type)
		}
		if ev.RatePerMinute < 0 {
			add("events[%d]: rate_per_minute must not be negative", i)
		}
	}

	if len(c.Accounts) == 0 {
		add("no accounts configured")
	}
	for i, acct := range c.Accounts {
		label := fmt.Sprintf("accounts[%d]", i)
		if acct.Name != "" {
			label = fmt.Sprintf("account %q", acct.Name)
		}
		if acct.Name == "" {
			add("%s: name is required", label)
		}
		if model.NormalizeIBAN(acct.IBAN) == "" {
			add("%s: iban is required", label)
		}
		if acct.URL == "" {
			add("%s: url is required", label)
		}
		if _, err := c.AccountPassword(acct); err != nil {
			add("%s: %v", label, err)
		}
		if acct.RulesFile == "" {
			add("%s: rules_file is required", label)
		} else if _, err := os.Stat(c.ResolvePath(acct.RulesFile)); err != nil {
			add("%s: rules file %s: %v", label, c.ResolvePath(acct.RulesFile), errors.Unwrap(err))
		}
		for _, id := range acct.Events {
			if !ids[id] {
				add("%s: unknown event id %d", label, id)
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// AccountPassword decodes the account's password according to its type.
func (c *Config) AccountPassword(acct Account) (string, error) {
	return DecodePassword(acct.Password, acct.PasswordType)
}

// DecodePassword decodes value according to passwordType. For "env" the
// value names an environment variable that must be set.
func DecodePassword(value, passwordType string) (string, error) {
	switch strings.ToLower(passwordType) {
	case "", PasswordPlain:
		return value, nil
	case PasswordBase64:
		raw, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return "", fmt.Errorf("decoding base64 password: %w", err)
		}
		return string(raw), nil
	case PasswordEnv:
		v, ok := os.LookupEnv(value)
		if !ok {
			return "", fmt.Errorf("password environment variable %s is not set", value)
		}
		return v, nil
	default:
		return "", fmt.Errorf("unknown password type %q", passwordType)
	}
}

// Identity builds the banking identity for acct.
func (c *Config) Identity(acct Account) (model.Identity, error) {
	password, err := c.AccountPassword(acct)
	if err != nil {
		return model.Identity{}, fmt.Errorf("account %q: %w", acct.Name, err)
	}
	return model.Identity{
		Name:     acct.Name,
		User:     acct.User,
		Password: password,
		BLZ:      acct.BLZ,
		IBAN:     model.NormalizeIBAN(acct.IBAN),
		URL:      acct.URL,
		TokenURL: acct.TokenURL,
	}, nil
}

// ResolvePath expands a leading ~ and makes relative paths relative to
// the config file's directory. An empty path stays empty.
func (c *Config) ResolvePath(p string) string {
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	if !filepath.IsAbs(p) && c.dir != "" {
		p = filepath.Join(c.dir, p)
	}
	return p
}

// CheckIntervalDuration returns general.check_interval as a duration.
func (g General) CheckIntervalDuration() time.Duration {
	return time.Duration(g.CheckInterval) * time.Second
}

// RulesIntervalDuration returns general.rules_interval as a duration.
func (g General) RulesIntervalDuration() time.Duration {
	return time.Duration(g.RulesInterval) * time.Second
}

// ShutdownGraceDuration returns general.shutdown_grace as a duration.
func (g General) ShutdownGraceDuration() time.Duration {
	return time.Duration(g.ShutdownGrace) * time.Second
}
