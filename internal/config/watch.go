package config

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Reloadable is the subset of Config that is applied without a restart.
type Reloadable struct {
	GuardAllowlist      []string
	DirectGrantsEnabled bool
}

func reloadableFrom(cfg *Config) Reloadable {
	return Reloadable{
		GuardAllowlist:      append([]string(nil), cfg.Tenancy.GuardAllowlist...),
		DirectGrantsEnabled: cfg.Tenancy.DirectGrantsEnabled,
	}
}

// Watch watches the config file and calls apply with the reloadable settings
// each time it changes and still validates. An invalid edit is logged and
// ignored; the previous settings stay in effect. Watch returns an error when
// no config file is in use, since there is nothing to watch.
func Watch(configPath string, apply func(Reloadable)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config watch: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		handleConfigChange(v, e, apply)
	})
	v.WatchConfig()

	slog.Info("watching config file for changes", "path", v.ConfigFileUsed())
	return nil
}

func handleConfigChange(v *viper.Viper, e fsnotify.Event, apply func(Reloadable)) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	cfg, err := decode(v)
	if err != nil {
		slog.Error("ignoring invalid config change", "path", e.Name, "error", err)
		return
	}
	r := reloadableFrom(cfg)
	apply(r)
	slog.Info("config reloaded",
		"path", e.Name,
		"guard_allowlist", len(r.GuardAllowlist),
		"direct_grants_enabled", r.DirectGrantsEnabled)
}
