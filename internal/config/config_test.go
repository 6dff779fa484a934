package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("BSKY_BOT_USERNAME", "bot.bsky.social")
	t.Setenv("BSKY_BOT_PASSWORD", "app-password")
	t.Setenv("CHECK_INTERVAL_SECONDS", "90")
	t.Setenv("GPT_API_KEY", "sk-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bluesky.Username != "bot.bsky.social" {
		t.Errorf("username = %q", cfg.Bluesky.Username)
	}
	if got := cfg.Monitor.PollInterval(); got != 90*time.Second {
		t.Errorf("PollInterval() = %v, want 90s", got)
	}
	if cfg.Monitor.MentionDelay != 2*time.Second {
		t.Errorf("MentionDelay = %v, want 2s", cfg.Monitor.MentionDelay)
	}
	if cfg.Bluesky.PDSURL != "https://bsky.social" {
		t.Errorf("PDSURL = %q", cfg.Bluesky.PDSURL)
	}
	if cfg.Whisper.Language != "en" {
		t.Errorf("Whisper.Language = %q, want en", cfg.Whisper.Language)
	}
	if err := cfg.RequireModel(); err != nil {
		t.Errorf("RequireModel() = %v, want nil", err)
	}
	if cfg.Server.Address() != "127.0.0.1:9848" {
		t.Errorf("Address() = %q", cfg.Server.Address())
	}
}

func TestLoad_MissingCredentials(t *testing.T) {
	t.Setenv("BSKY_BOT_USERNAME", "")
	t.Setenv("BSKY_BOT_PASSWORD", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	if !errors.Is(err, domain.ErrMissingCredentials) {
		t.Errorf("error = %v, want ErrMissingCredentials", err)
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration class", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("bluesky: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfig_RequireModel(t *testing.T) {
	cfg := &Config{}
	err := cfg.RequireModel()
	if !errors.Is(err, domain.ErrMissingCredentials) {
		t.Errorf("RequireModel() = %v, want ErrMissingCredentials", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Bluesky: BlueskyConfig{Username: "u", Password: "p"},
		Monitor: MonitorConfig{IntervalSeconds: 60},
		Storage: StorageConfig{DataDir: "data"},
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero interval", func(c *Config) { c.Monitor.IntervalSeconds = 0 }, true},
		{"no data dir", func(c *Config) { c.Storage.DataDir = "" }, true},
		{"no password", func(c *Config) { c.Bluesky.Password = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRead_SkipsValidation(t *testing.T) {
	t.Setenv("BSKY_BOT_USERNAME", "")
	t.Setenv("BSKY_BOT_PASSWORD", "")

	cfg, err := Read("")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Storage.VideoDir != "data/videos" {
		t.Errorf("VideoDir = %q, want default", cfg.Storage.VideoDir)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should still reject missing credentials")
	}
}
