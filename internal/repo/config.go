package repo

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config carries the repair tunables. Absent file or absent fields fall
// back to defaults.
type Config struct {
	Doctor struct {
		InitialLookback int `json:"initial_lookback"`
		ScanWindow      int `json:"scan_window"`
	} `json:"doctor"`

	Mutation struct {
		Enabled bool `json:"enabled"`
	} `json:"mutation"`

	RemoteContent struct {
		Enabled   bool `json:"enabled"`
		CacheSize int  `json:"cache_size"`
	} `json:"remote_content"`

	ExternalDoctor struct {
		Command string `json:"command"`
	} `json:"external_doctor"`
}

func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Doctor.InitialLookback = 10
	cfg.Doctor.ScanWindow = 300
	cfg.Mutation.Enabled = true
	cfg.RemoteContent.Enabled = true
	cfg.RemoteContent.CacheSize = 256
	cfg.ExternalDoctor.Command = "edenfsctl doctor"
	return cfg
}

// LoadConfig reads path over the defaults. A missing file is not an
// error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Doctor.InitialLookback <= 0 {
		cfg.Doctor.InitialLookback = 10
	}
	if cfg.Doctor.ScanWindow <= 0 {
		cfg.Doctor.ScanWindow = 300
	}
	if cfg.RemoteContent.CacheSize <= 0 {
		cfg.RemoteContent.CacheSize = 256
	}
	return cfg, nil
}
