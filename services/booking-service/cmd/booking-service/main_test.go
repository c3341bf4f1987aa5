package main

import (
	"io"
	"log/slog"
	"testing"
)

func TestStaffAuthSecret(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Setenv("STAFF_JWT_SECRET", "")
	t.Setenv("STAFF_AUTH_DISABLED", "")
	if _, err := staffAuthSecret(logger); err == nil {
		t.Fatal("expected an error without a secret")
	}

	t.Setenv("STAFF_AUTH_DISABLED", "true")
	secret, err := staffAuthSecret(logger)
	if err != nil || secret != "" {
		t.Fatalf("expected unauthenticated dev mode, got %q %v", secret, err)
	}

	t.Setenv("STAFF_JWT_SECRET", "s3cret")
	secret, err = staffAuthSecret(logger)
	if err != nil || secret != "s3cret" {
		t.Fatalf("expected the configured secret, got %q %v", secret, err)
	}
}
