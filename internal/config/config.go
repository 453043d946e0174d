// Package config provides YAML-based configuration loading for the desk.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/zulandar/frontdesk/internal/telegraph"
	"gopkg.in/yaml.v3"
)

// Config is the top-level desk configuration, loaded from desk.yaml.
type Config struct {
	Operator  OperatorConfig  `yaml:"operator"`
	Transport TransportConfig `yaml:"transport"`
	Journal   JournalConfig   `yaml:"journal"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Notify    NotifyConfig    `yaml:"notify"`
	Digest    DigestConfig    `yaml:"digest"`
}

// OperatorConfig identifies the human operator behind this desk.
type OperatorConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Sector string `yaml:"sector"`
}

// TransportConfig holds the chat backend connection settings.
type TransportConfig struct {
	URL          string      `yaml:"url"`
	Namespace    string      `yaml:"namespace"`
	Path         string      `yaml:"path"`
	Token        string      `yaml:"token" env:"DESK_TRANSPORT_TOKEN"`
	OAuth        OAuthConfig `yaml:"oauth"`
	MaxReconnect int         `yaml:"max_reconnect"`
}

// OAuthConfig configures a client-credentials token source. When ClientID
// is set it takes precedence over a static token.
type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret" env:"DESK_CLIENT_SECRET"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether client credentials are configured.
func (o OAuthConfig) Enabled() bool { return o.ClientID != "" }

// JournalConfig selects where the audit journal is written.
type JournalConfig struct {
	Driver   string `yaml:"driver"` // none, sqlite, mysql
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password" env:"DESK_JOURNAL_PASSWORD"`
	Buffer   int    `yaml:"buffer"` // async writer queue size
}

// DashboardConfig holds the operator API listener settings.
type DashboardConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (d DashboardConfig) Addr() string { return fmt.Sprintf("%s:%d", d.Host, d.Port) }

// NotifyConfig selects the chat platform for walk-up alerts and digests.
type NotifyConfig struct {
	Platform        string `yaml:"platform"` // "", slack, discord
	Channel         string `yaml:"channel"`
	SlackBotToken   string `yaml:"slack_bot_token" env:"DESK_SLACK_BOT_TOKEN"`
	DiscordBotToken string `yaml:"discord_bot_token" env:"DESK_DISCORD_BOT_TOKEN"`
	WalkUpAlerts    bool   `yaml:"walk_up_alerts"`
}

// DigestConfig schedules the queue digest.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// Journal drivers.
const (
	DriverNone   = "none"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// DefaultDigestCron posts the digest at 09:00 on weekdays.
const DefaultDigestCron = "0 9 * * 1-5"

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Secrets set in the
// environment override the file.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	c.Journal.Driver = strings.ToLower(c.Journal.Driver)
	if c.Journal.Driver == "" {
		c.Journal.Driver = DriverNone
	}
	switch c.Journal.Driver {
	case DriverSQLite:
		if c.Journal.Path == "" {
			c.Journal.Path = "desk.db"
		}
	case DriverMySQL:
		if c.Journal.Host == "" {
			c.Journal.Host = "127.0.0.1"
		}
		if c.Journal.Port == 0 {
			c.Journal.Port = 3306
		}
		if c.Journal.User == "" {
			c.Journal.User = "root"
		}
		if c.Journal.Database == "" {
			c.Journal.Database = "frontdesk"
		}
	}
	if c.Journal.Buffer == 0 {
		c.Journal.Buffer = 256
	}
	if c.Dashboard.Host == "" {
		c.Dashboard.Host = "127.0.0.1"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	c.Notify.Platform = strings.ToLower(c.Notify.Platform)
	if c.Digest.Enabled && c.Digest.Cron == "" {
		c.Digest.Cron = DefaultDigestCron
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Transport.URL == "" {
		errs = append(errs, "transport.url is required")
	}
	if c.Transport.OAuth.Enabled() && c.Transport.OAuth.TokenURL == "" {
		errs = append(errs, "transport.oauth.token_url is required with client_id")
	}
	if c.Transport.MaxReconnect < 0 {
		errs = append(errs, "transport.max_reconnect must not be negative")
	}

	switch c.Journal.Driver {
	case DriverNone, DriverSQLite, DriverMySQL:
	default:
		errs = append(errs, fmt.Sprintf("journal.driver %q is not one of none, sqlite, mysql", c.Journal.Driver))
	}
	if c.Journal.Buffer < 0 {
		errs = append(errs, "journal.buffer must not be negative")
	}

	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d is out of range", c.Dashboard.Port))
	}

	switch c.Notify.Platform {
	case "":
		if c.Notify.WalkUpAlerts || c.Digest.Enabled {
			errs = append(errs, "notify.platform is required for walk-up alerts and digests")
		}
	case "slack":
		if c.Notify.SlackBotToken == "" {
			errs = append(errs, "notify.slack_bot_token is required for slack")
		}
	case "discord":
		if c.Notify.DiscordBotToken == "" {
			errs = append(errs, "notify.discord_bot_token is required for discord")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q is not one of slack, discord", c.Notify.Platform))
	}
	if c.Notify.Platform != "" && c.Notify.Channel == "" {
		errs = append(errs, "notify.channel is required")
	}

	if c.Digest.Enabled {
		if err := telegraph.ValidateCron(c.Digest.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("digest.cron: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Masked returns a copy with secrets redacted, for display.
func (c Config) Masked() Config {
	c.Transport.Token = mask(c.Transport.Token)
	c.Transport.OAuth.ClientSecret = mask(c.Transport.OAuth.ClientSecret)
	c.Journal.Password = mask(c.Journal.Password)
	c.Notify.SlackBotToken = mask(c.Notify.SlackBotToken)
	c.Notify.DiscordBotToken = mask(c.Notify.DiscordBotToken)
	return c
}

// mask keeps the last four characters of long secrets.
func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
