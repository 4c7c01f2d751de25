package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.DefaultCapacity != 15 || cfg.IssueMaxAttempts != 8 || cfg.MintMaxAttempts != 50 {
		t.Fatalf("unexpected allocator defaults %+v", cfg)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %s", cfg.RequestTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DEFAULT_CAPACITY", "20")
	t.Setenv("TIMEZONE", "UTC")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultCapacity != 20 || cfg.Timezone != "UTC" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := Config{DefaultCapacity: 15, IssueMaxAttempts: 8, MintMaxAttempts: 50, Timezone: "Mars/Olympus"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected timezone error")
	}
}
