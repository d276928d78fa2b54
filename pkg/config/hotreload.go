package config

import (
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Snapshot wraps an atomically swappable Config so hot-reloadable settings
// (retention target, ingest-gate thresholds) can change under running
// readers without a restart or a lock on the read path.
type Snapshot struct {
	current atomic.Pointer[Config]
}

// NewSnapshot seeds a Snapshot with cfg.
func NewSnapshot(cfg *Config) *Snapshot {
	s := &Snapshot{}
	s.current.Store(cfg)
	return s
}

// Load returns the current config. The pointer must be treated as
// read-only; a reload replaces it wholesale.
func (s *Snapshot) Load() *Config {
	return s.current.Load()
}

// Store replaces the current config.
func (s *Snapshot) Store(cfg *Config) {
	s.current.Store(cfg)
}

// Watch re-reads the config file whenever it changes on disk and swaps the
// snapshot, invoking onReload (if non-nil) with the fresh config. Invalid
// files are rejected and the previous config stays active.
func (s *Snapshot) Watch(onReload func(*Config)) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(ConfigPath())
	v.AddConfigPath("/etc/engram")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Nothing on disk to watch; the seeded snapshot stands.
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		fresh := &Config{}
		if err := v.Unmarshal(fresh); err != nil {
			return
		}
		if err := fresh.Validate(); err != nil {
			return
		}
		s.current.Store(fresh)
		if onReload != nil {
			onReload(fresh)
		}
	})
	v.WatchConfig()
	return nil
}
