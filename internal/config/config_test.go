package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("IRIS_BASE_URL", "http://iris.local:3000")
	t.Setenv("IRIS_WS_URL", "ws://iris.local:3000/ws")
	t.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")
	t.Setenv("BOT_NUMBER", "+62 811-0000")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotPrefix != "." {
		t.Fatalf("default prefix = %q, want %q", cfg.BotPrefix, ".")
	}
	if cfg.AccountID != "628110000" {
		t.Fatalf("account id should fall back to bot digits, got %q", cfg.AccountID)
	}
	if cfg.ResyncInterval != 5*time.Minute {
		t.Fatalf("resync interval = %v", cfg.ResyncInterval)
	}
	if cfg.DictionaryTimeout != 5*time.Second {
		t.Fatalf("dictionary timeout = %v", cfg.DictionaryTimeout)
	}
	if cfg.TransportMode != "auto" {
		t.Fatalf("transport mode = %q", cfg.TransportMode)
	}
}

func TestLoadOwnerNumbersNormalized(t *testing.T) {
	setRequired(t)
	t.Setenv("OWNER_NUMBERS", "+1 (555) 0100, 4477 ,,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.OwnerNumbers) != 2 || cfg.OwnerNumbers[0] != "15550100" || cfg.OwnerNumbers[1] != "4477" {
		t.Fatalf("owner numbers = %v", cfg.OwnerNumbers)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("REDIS_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when REDIS_URL is missing")
	}
}

func TestLoadRejectsBlankPrefix(t *testing.T) {
	setRequired(t)
	t.Setenv("BOT_PREFIX", "   ")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for blank prefix")
	}
}
