package cmd

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestNameWithAliases(t *testing.T) {
	plain := &cobra.Command{Use: "sync"}
	if got := nameWithAliases(plain); got != "sync" {
		t.Errorf("expected %q, got %q", "sync", got)
	}

	aliased := &cobra.Command{Use: "list", Aliases: []string{"ls"}}
	if got := nameWithAliases(aliased); got != "list, ls" {
		t.Errorf("expected %q, got %q", "list, ls", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"init", "add", "list", "done", "delete", "sync", "status", "serve", "monitor", "auth"}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestTaskCommandsGrouped(t *testing.T) {
	for _, c := range rootCmd.Commands() {
		switch c.Name() {
		case "add", "list", "done", "delete":
			if c.GroupID != "core" {
				t.Errorf("%s: expected core group, got %q", c.Name(), c.GroupID)
			}
		case "sync", "status", "serve", "monitor":
			if c.GroupID != "sync" {
				t.Errorf("%s: expected sync group, got %q", c.Name(), c.GroupID)
			}
		}
	}
}
