package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
operator:
  id: op-7
  name: Carla
  sector: secretaria

transport:
  url: https://api.example.edu/atendimento
  namespace: /atendimento
  token: static-token-123
  max_reconnect: 5
  oauth:
    token_url: https://auth.example.edu/oauth/token
    client_id: desk
    client_secret: s3cr3t-client-secret
    scopes: ["atendimento"]

journal:
  driver: MySQL
  host: 10.0.0.5
  port: 3307
  database: desk_journal
  user: desk
  password: hunter2hunter2

dashboard:
  host: 0.0.0.0
  port: 9090

notify:
  platform: slack
  channel: C-desk
  slack_bot_token: xoxb-123456789
  walk_up_alerts: true

digest:
  enabled: true
  cron: "*/30 8-18 * * 1-5"
`

const minimalYAML = `
transport:
  url: http://localhost:3001/atendimento
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Operator.Name != "Carla" || cfg.Operator.ID != "op-7" || cfg.Operator.Sector != "secretaria" {
		t.Errorf("Operator = %+v", cfg.Operator)
	}
	if cfg.Transport.URL != "https://api.example.edu/atendimento" {
		t.Errorf("Transport.URL = %q", cfg.Transport.URL)
	}
	if cfg.Transport.MaxReconnect != 5 {
		t.Errorf("Transport.MaxReconnect = %d, want 5", cfg.Transport.MaxReconnect)
	}
	if !cfg.Transport.OAuth.Enabled() || len(cfg.Transport.OAuth.Scopes) != 1 {
		t.Errorf("Transport.OAuth = %+v", cfg.Transport.OAuth)
	}
	if cfg.Journal.Driver != DriverMySQL {
		t.Errorf("Journal.Driver = %q, want lower-cased mysql", cfg.Journal.Driver)
	}
	if cfg.Journal.Port != 3307 || cfg.Journal.User != "desk" {
		t.Errorf("Journal = %+v", cfg.Journal)
	}
	if cfg.Dashboard.Addr() != "0.0.0.0:9090" {
		t.Errorf("Dashboard.Addr() = %q", cfg.Dashboard.Addr())
	}
	if cfg.Notify.Platform != "slack" || !cfg.Notify.WalkUpAlerts {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if cfg.Digest.Cron != "*/30 8-18 * * 1-5" {
		t.Errorf("Digest.Cron = %q", cfg.Digest.Cron)
	}
}

func TestParse_MinimalDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Journal.Driver != DriverNone {
		t.Errorf("Journal.Driver = %q, want none", cfg.Journal.Driver)
	}
	if cfg.Journal.Buffer != 256 {
		t.Errorf("Journal.Buffer = %d, want 256", cfg.Journal.Buffer)
	}
	if cfg.Dashboard.Addr() != "127.0.0.1:8080" {
		t.Errorf("Dashboard.Addr() = %q, want 127.0.0.1:8080", cfg.Dashboard.Addr())
	}
	if cfg.Notify.Platform != "" || cfg.Digest.Enabled {
		t.Errorf("notifications should be off by default: %+v %+v", cfg.Notify, cfg.Digest)
	}
}

func TestParse_JournalDefaults(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		check func(t *testing.T, j JournalConfig)
	}{
		{
			name: "sqlite path",
			yaml: minimalYAML + "journal:\n  driver: sqlite\n",
			check: func(t *testing.T, j JournalConfig) {
				if j.Path != "desk.db" {
					t.Errorf("Path = %q, want desk.db", j.Path)
				}
			},
		},
		{
			name: "mysql server",
			yaml: minimalYAML + "journal:\n  driver: mysql\n",
			check: func(t *testing.T, j JournalConfig) {
				if j.Host != "127.0.0.1" || j.Port != 3306 || j.User != "root" || j.Database != "frontdesk" {
					t.Errorf("Journal = %+v", j)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, cfg.Journal)
		})
	}
}

func TestParse_DigestDefaultCron(t *testing.T) {
	yaml := minimalYAML + `
notify:
  platform: discord
  channel: "1234"
  discord_bot_token: abc
digest:
  enabled: true
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Digest.Cron != DefaultDigestCron {
		t.Errorf("Digest.Cron = %q, want %q", cfg.Digest.Cron, DefaultDigestCron)
	}
}

func TestParse_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("DESK_TRANSPORT_TOKEN", "from-env")
	t.Setenv("DESK_SLACK_BOT_TOKEN", "xoxb-env")
	t.Setenv("DESK_JOURNAL_PASSWORD", "pw-env")

	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transport.Token != "from-env" {
		t.Errorf("Transport.Token = %q, want from-env", cfg.Transport.Token)
	}
	if cfg.Notify.SlackBotToken != "xoxb-env" {
		t.Errorf("SlackBotToken = %q, want xoxb-env", cfg.Notify.SlackBotToken)
	}
	if cfg.Journal.Password != "pw-env" {
		t.Errorf("Journal.Password = %q, want pw-env", cfg.Journal.Password)
	}
	// Unset variables leave the file value alone.
	if cfg.Transport.OAuth.ClientSecret != "s3cr3t-client-secret" {
		t.Errorf("ClientSecret = %q", cfg.Transport.OAuth.ClientSecret)
	}
}

func TestParse_EnvSatisfiesRequiredToken(t *testing.T) {
	t.Setenv("DESK_DISCORD_BOT_TOKEN", "bot-env")
	yaml := minimalYAML + `
notify:
  platform: discord
  channel: "1234"
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Notify.DiscordBotToken != "bot-env" {
		t.Errorf("DiscordBotToken = %q", cfg.Notify.DiscordBotToken)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing url", "operator:\n  name: x\n", "transport.url is required"},
		{"oauth without token url", minimalYAML + "  oauth:\n    client_id: desk\n", "token_url is required"},
		{"negative reconnect", minimalYAML + "  max_reconnect: -1\n", "max_reconnect"},
		{"bad driver", minimalYAML + "journal:\n  driver: postgres\n", `journal.driver "postgres"`},
		{"bad port", minimalYAML + "dashboard:\n  port: 70000\n", "dashboard.port 70000"},
		{"alerts without platform", minimalYAML + "notify:\n  walk_up_alerts: true\n", "notify.platform is required"},
		{"unknown platform", minimalYAML + "notify:\n  platform: teams\n  channel: x\n", `"teams"`},
		{"slack without token", minimalYAML + "notify:\n  platform: slack\n  channel: C1\n", "slack_bot_token is required"},
		{"platform without channel", minimalYAML + "notify:\n  platform: discord\n  discord_bot_token: t\n", "notify.channel is required"},
		{"bad cron", minimalYAML + "notify:\n  platform: discord\n  channel: c\n  discord_bot_token: t\ndigest:\n  enabled: true\n  cron: \"every morning\"\n", "digest.cron"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_MultipleErrorsJoined(t *testing.T) {
	_, err := Parse([]byte("journal:\n  driver: x\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "transport.url") || !strings.Contains(err.Error(), "journal.driver") {
		t.Errorf("error = %q, want both failures", err.Error())
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("transport: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "config: parse") {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "desk.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transport.URL != "http://localhost:3001/atendimento" {
		t.Errorf("Transport.URL = %q", cfg.Transport.URL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: read") {
		t.Fatalf("err = %v, want read error", err)
	}
}

func TestMasked(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := cfg.Masked()

	if m.Transport.Token != "****-123" {
		t.Errorf("Token = %q", m.Transport.Token)
	}
	if m.Notify.SlackBotToken != "****6789" {
		t.Errorf("SlackBotToken = %q", m.Notify.SlackBotToken)
	}
	if m.Journal.Password != "****ter2" {
		t.Errorf("Password = %q", m.Journal.Password)
	}
	if m.Notify.DiscordBotToken != "" {
		t.Errorf("empty secret should stay empty, got %q", m.Notify.DiscordBotToken)
	}
	if cfg.Transport.Token != "static-token-123" {
		t.Error("Masked must not modify the original")
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":               "",
		"short":          "****",
		"exactly8":       "****",
		"longer-secret1": "****ret1",
	}
	for in, want := range tests {
		if got := mask(in); got != want {
			t.Errorf("mask(%q) = %q, want %q", in, got, want)
		}
	}
}
