package main

import (
	"strings"
	"testing"
)

func TestCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"slots", "book", "day", "status"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected subcommand %q, got %v (err %v)", name, cmd, err)
		}
	}
}

func TestCallRequiresToken(t *testing.T) {
	t.Setenv("STAFF_TOKEN", "")
	root := newRootCommand()
	root.SetArgs([]string{"day", "--staff", "rui", "--date", "2026-10-20"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "STAFF_TOKEN") {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestBookRequiresCustomerName(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"book", "--token", "t", "--staff", "rui", "--service", "cut", "--start", "10:30"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "name") {
		t.Fatalf("expected required flag error, got %v", err)
	}
}
