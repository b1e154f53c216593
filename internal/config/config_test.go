package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
}

func TestResolve_MissingDatabase(t *testing.T) {
	resetViper()
	cmd := &cobra.Command{Use: "test"}
	Bind(cmd)

	if _, err := Resolve(); err == nil {
		t.Fatal("expected an error when --database is not set")
	}
}

func TestResolve_FlagsOverrideDefaults(t *testing.T) {
	resetViper()
	cmd := &cobra.Command{Use: "test"}
	Bind(cmd)

	if err := cmd.Flags().Set("database", "postgres://localhost/fedobserver"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("bind", ":9090"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("nostr-relays", "wss://relay.one,wss://relay.two"); err != nil {
		t.Fatal(err)
	}

	cfg, err := Resolve()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database != "postgres://localhost/fedobserver" {
		t.Errorf("database = %q", cfg.Database)
	}
	if cfg.Bind != ":9090" {
		t.Errorf("bind = %q", cfg.Bind)
	}
	if len(cfg.NostrRelays) != 2 || cfg.NostrRelays[0] != "wss://relay.one" {
		t.Errorf("nostr relays = %v", cfg.NostrRelays)
	}
}

func TestResolve_DefaultBindAddress(t *testing.T) {
	resetViper()
	cmd := &cobra.Command{Use: "test"}
	Bind(cmd)
	cmd.Flags().Set("database", "postgres://localhost/fedobserver")

	cfg, err := Resolve()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bind != ":8080" {
		t.Errorf("bind default = %q, want :8080", cfg.Bind)
	}
}
