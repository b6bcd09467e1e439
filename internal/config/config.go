// Package config holds the hfpd runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config is the top-level daemon configuration.
type Config struct {
	API       APIConfig
	Store     StoreConfig
	Bluetooth BluetoothConfig
	Timers    TimerConfig
}

// APIConfig configures the REST/WebSocket status surface.
type APIConfig struct {
	ListenAddr string
}

// StoreConfig configures the settings database.
type StoreConfig struct {
	Path string
}

// BluetoothConfig configures the BlueZ transport.
type BluetoothConfig struct {
	Adapter string // e.g. "hci0"
}

// TimerConfig holds the HFP timing policies. The defaults mirror the
// behaviour the Dialer side was tuned against: 3s for a dial request to
// produce a call-state change, and 3.7s of busy tone before SCO teardown.
type TimerConfig struct {
	DialTimeout      time.Duration
	BusyToneInterval time.Duration
}

// Default returns a Config with sane defaults, overridable via environment.
func Default() *Config {
	cfg := &Config{
		API:       APIConfig{ListenAddr: "127.0.0.1:8480"},
		Store:     StoreConfig{Path: "hfpd.db"},
		Bluetooth: BluetoothConfig{Adapter: "hci0"},
		Timers: TimerConfig{
			DialTimeout:      3000 * time.Millisecond,
			BusyToneInterval: 3700 * time.Millisecond,
		},
	}
	if v := os.Getenv("HFPD_LISTEN_ADDR"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("HFPD_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("HFPD_BT_ADAPTER"); v != "" {
		cfg.Bluetooth.Adapter = v
	}
	return cfg
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.API.ListenAddr == "" {
		return fmt.Errorf("config: API listen address must not be empty")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("config: store path must not be empty")
	}
	if c.Timers.DialTimeout <= 0 || c.Timers.BusyToneInterval <= 0 {
		return fmt.Errorf("config: timer intervals must be positive")
	}
	return nil
}
