// Package config binds the observer's CLI flags to viper, with
// FEDOBS_-prefixed environment overrides (spec §6 CLI flags). Grounded on
// paritytech-polkadot-sdk's relayer cmd/ package: a cobra.Command builds
// its flag set, viper.BindPFlags wires env fallback, and handlers read
// back through viper rather than the flag set directly.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the fully-resolved set of values the rest of the observer is
// constructed from. main reads it once, after Bind has parsed flags/env.
type Config struct {
	Bind        string
	Database    string
	AdminAuth   string
	MempoolURL  string
	ExplorerURL string
	NostrRelays []string
}

// Bind registers every flag spec §6 names on cmd and wires FEDOBS_-prefixed
// environment overrides through viper. Call this from the root command's
// constructor, then call Resolve from RunE.
func Bind(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.String("bind", ":8080", "address the HTTP façade listens on")
	flags.String("database", "", "Postgres connection string")
	flags.String("admin-auth", "", "bearer token required on admin-only façade endpoints")
	flags.String("mempool-url", "", "mempool/explorer REST base URL for post-threshold broadcast-transaction lookups")
	flags.String("explorer-url", "", "explorer REST base URL for chain-tip/header polling")
	flags.StringSlice("nostr-relays", nil, "Nostr relay URLs to sync federation announcements and ratings from")

	cmd.MarkFlagRequired("database")

	viper.SetEnvPrefix("FEDOBS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindPFlags(flags)
}

// Resolve reads back every bound flag/env value, failing loudly (per the
// teacher's requireEnv convention) if a value required for correct
// operation was never supplied.
func Resolve() (Config, error) {
	cfg := Config{
		Bind:        viper.GetString("bind"),
		Database:    viper.GetString("database"),
		AdminAuth:   viper.GetString("admin-auth"),
		MempoolURL:  viper.GetString("mempool-url"),
		ExplorerURL: viper.GetString("explorer-url"),
		NostrRelays: viper.GetStringSlice("nostr-relays"),
	}

	if cfg.Database == "" {
		return Config{}, fmt.Errorf("--database (or FEDOBS_DATABASE) is required")
	}
	return cfg, nil
}
