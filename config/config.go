// Package config reads the service configuration from TOML.
//
//	Workflows = "workflows"
//
//	[Store]
//	Kind = "bolt"
//	Filename = "tortoise.db"
//
//	[Supervisor]
//	Schedule = "0 */5 * * * * *"
//
// Anything not given keeps its default.  See Default.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
	StoreHTTP   = "http"
)

type Config struct {
	// Workflows is the directory of workflow YAML files.
	Workflows string `toml:"Workflows"`

	// CascadeLimit bounds how many events one Transition can
	// pass through.
	CascadeLimit int `toml:"CascadeLimit"`

	Store      StoreConfig      `toml:"Store"`
	Deferred   DeferredConfig   `toml:"Deferred"`
	HTTP       HTTPConfig       `toml:"HTTP"`
	MQTT       MQTTConfig       `toml:"MQTT"`
	Supervisor SupervisorConfig `toml:"Supervisor"`
	Log        LogConfig        `toml:"Log"`
}

type StoreConfig struct {
	// Kind is "memory", "bolt", or "http".
	Kind string `toml:"Kind"`

	// Filename is the bolt database or the memory store's
	// snapshot file.
	Filename string `toml:"Filename"`

	// URL, Username, Password, and Timeout are for the HTTP
	// record store.
	URL      string        `toml:"URL"`
	Username string        `toml:"Username"`
	Password string        `toml:"Password"`
	Timeout  time.Duration `toml:"Timeout"`

	// AutoCreate lets local stores create entities on first
	// write.
	AutoCreate bool `toml:"AutoCreate"`
}

// DeferredConfig turns on deferred mode: writes become shell commands
// that a disconnected process runs later.
type DeferredConfig struct {
	Enabled  bool   `toml:"Enabled"`
	Host     string `toml:"Host"`
	Port     int    `toml:"Port"`
	Username string `toml:"Username"`
	Password string `toml:"Password"`
}

type HTTPConfig struct {
	Listen string `toml:"Listen"`

	// ServeStore mounts the record-store protocol over the local
	// store.
	ServeStore bool   `toml:"ServeStore"`
	Username   string `toml:"Username"`
	Password   string `toml:"Password"`

	// Websocket is the path of the observation feed.  Empty
	// disables it.
	Websocket string `toml:"Websocket"`
}

type MQTTConfig struct {
	// Broker is like "tcp://localhost:1883".  Empty disables
	// MQTT.
	Broker      string `toml:"Broker"`
	ClientID    string `toml:"ClientID"`
	TopicPrefix string `toml:"TopicPrefix"`
	QoS         byte   `toml:"QoS"`
}

type SupervisorConfig struct {
	Enabled bool `toml:"Enabled"`

	// Schedule is a cron expression for sweeps.
	Schedule string        `toml:"Schedule"`
	Retry    time.Duration `toml:"Retry"`
	Quiet    bool          `toml:"Quiet"`

	// Enroll lists entities to put in every workflow.
	Enroll []string `toml:"Enroll"`
}

type LogConfig struct {
	Level string `toml:"Level"`

	// File, if given, gets logs (rotated) instead of stderr.
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Workflows:    "workflows",
		CascadeLimit: 64,
		Store: StoreConfig{
			Kind:       StoreMemory,
			Timeout:    10 * time.Second,
			AutoCreate: true,
		},
		Deferred: DeferredConfig{
			Port: 80,
		},
		HTTP: HTTPConfig{
			Listen:    ":8080",
			Websocket: "/ws",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "tortoise",
			QoS:         1,
		},
		Supervisor: SupervisorConfig{
			Enabled:  true,
			Schedule: "0 * * * * * *",
			Retry:    time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the configuration from the given file on top of the
// defaults.  An empty path gives the defaults.  Unknown keys are an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); 0 < len(undecoded) {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for problems.
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case StoreMemory:
	case StoreBolt:
		if c.Store.Filename == "" {
			return fmt.Errorf("bolt store needs a Filename")
		}
	case StoreHTTP:
		if c.Store.URL == "" {
			return fmt.Errorf("http store needs a URL")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
	if c.Deferred.Enabled && c.Deferred.Host == "" {
		return fmt.Errorf("deferred mode needs a Host")
	}
	if c.CascadeLimit < 1 {
		return fmt.Errorf("CascadeLimit %d must be positive", c.CascadeLimit)
	}
	return nil
}
