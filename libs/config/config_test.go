package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SLOT_STEP_MINUTES", "abc")
	if got := Int("SLOT_STEP_MINUTES", 15, 1); got != 15 {
		t.Fatalf("expected fallback 15, got %d", got)
	}
	t.Setenv("SLOT_STEP_MINUTES", "0")
	if got := Int("SLOT_STEP_MINUTES", 15, 1); got != 15 {
		t.Fatalf("expected fallback for value below min, got %d", got)
	}
	t.Setenv("SLOT_STEP_MINUTES", "20")
	if got := Int("SLOT_STEP_MINUTES", 15, 1); got != 20 {
		t.Fatalf("expected 20, got %d", got)
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("FEATURE_X", "yes")
	if !Bool("FEATURE_X", false) {
		t.Fatal("expected true")
	}
	t.Setenv("ORIGINS", " https://a.example , ,https://b.example")
	got := List("ORIGINS", "")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list: %v", got)
	}
}

func TestPortValidation(t *testing.T) {
	t.Setenv("PORT", "70000")
	if _, err := Port("PORT", "8083"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestLocationAndMinutes(t *testing.T) {
	t.Setenv("SHOP_TIMEZONE", "Not/AZone")
	if _, err := Location("SHOP_TIMEZONE", "UTC"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
	t.Setenv("MIN_LEAD_MINUTES", "30")
	if got := Minutes("MIN_LEAD_MINUTES", 0); got != 30*time.Minute {
		t.Fatalf("expected 30m, got %s", got)
	}
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("BARBERDESK_A=from-file\nBARBERDESK_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("BARBERDESK_A", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("BARBERDESK_B") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("BARBERDESK_A"); got != "from-env" {
		t.Fatalf("existing variable overwritten: %q", got)
	}
	if got := os.Getenv("BARBERDESK_B"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
}
