package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Protocol selects how a listener treats the accepted connection.
type Protocol string

const (
	ProtoTCP     Protocol = "tcp"
	ProtoSSL     Protocol = "ssl"
	ProtoAutoSSL Protocol = "autossl"
)

// NATMode selects how the original destination is discovered.
type NATMode string

const (
	NATNone   NATMode = "none"
	NATKernel NATMode = "nat"
	NATStatic NATMode = "static"
)

// ListenerSpec describes one bound interception listener.
type ListenerSpec struct {
	Addr              string   `json:"addr"`
	Protocol          Protocol `json:"protocol"`
	NAT               NATMode  `json:"nat"`
	StaticTarget      string   `json:"static_target"`
	PassthroughOnFail bool     `json:"passthrough_on_fail"`
}

// Config holds all proxy configuration values.
type Config struct {
	Listeners []ListenerSpec `json:"listeners"`

	Workers       int    `json:"workers"`
	MetricsListen string `json:"metrics_listen"`

	CACertFile  string `json:"ca_cert_file"`
	CAKeyFile   string `json:"ca_key_file"`
	LeafKeyFile string `json:"leaf_key_file"`

	TargetCertDir string `json:"target_cert_dir"`
	CertGenDir    string `json:"cert_gen_dir"`
	WriteAll      bool   `json:"write_all"`

	ContentLog     bool   `json:"content_log"`
	ContentLogFile string `json:"content_log_file"`

	SessionCacheSize int `json:"session_cache_size"`

	// Env holds environment-derived settings (see env.go).
	Env *EnvConfig `json:"-"`
}

// Load reads configuration from config.json with sensible defaults.
func Load() *Config {
	cfg := &Config{
		Workers:          4,
		MetricsListen:    ":9090",
		CACertFile:       "ca.crt",
		CAKeyFile:        "ca.key",
		LeafKeyFile:      "leaf.key",
		SessionCacheSize: 4096,
		Env:              LoadEnv(),
	}

	if file, err := os.Open("config.json"); err == nil {
		defer file.Close()
		json.NewDecoder(file).Decode(cfg)
	}

	for i := range cfg.Listeners {
		if cfg.Listeners[i].Protocol == "" {
			cfg.Listeners[i].Protocol = ProtoTCP
		}
		if cfg.Listeners[i].NAT == "" {
			cfg.Listeners[i].NAT = NATNone
		}
	}

	return cfg
}

// Validate checks the configuration for errors and returns an aggregate message.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Listeners) == 0 {
		errs = append(errs, "at least one listener is required")
	}
	for _, l := range c.Listeners {
		if l.Addr == "" {
			errs = append(errs, "listener address is required")
		}
		if l.NAT == NATStatic && l.StaticTarget == "" {
			errs = append(errs, fmt.Sprintf("listener %s: static NAT mode requires static_target", l.Addr))
		}
	}

	if c.Workers <= 0 {
		errs = append(errs, "workers must be positive")
	}

	if needsTLS(c.Listeners) {
		if _, err := os.Stat(c.CACertFile); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("CA certificate not found: %s", c.CACertFile))
		}
		if _, err := os.Stat(c.CAKeyFile); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("CA key not found: %s", c.CAKeyFile))
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

func needsTLS(listeners []ListenerSpec) bool {
	for _, l := range listeners {
		if l.Protocol == ProtoSSL || l.Protocol == ProtoAutoSSL {
			return true
		}
	}
	return false
}
