// Package config loads the coordinator and system-process configuration
// from YAML, with environment variables overriding individual fields (the
// layering tuning.Load uses in the example pack, generalized to the
// engine's own settings).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tickforge/ecsengine/internal/core/observability/log"
)

// Coordinator holds everything the coordinator process needs to run the
// tick loop and expose the query/schema gateway (spec.md §4, §5).
type Coordinator struct {
	TickRate       float64       `yaml:"tick_rate_hz"`
	SentinelDrain  time.Duration `yaml:"sentinel_drain_deadline"`
	TickAckTimeout time.Duration `yaml:"tick_ack_deadline"`
	MaxShardRows   int           `yaml:"max_shard_rows"`

	Transport Transport `yaml:"transport"`
	Schema    Schema    `yaml:"schema"`
	Log       Log       `yaml:"log"`
}

// System holds what a system process needs to connect and register.
type System struct {
	Name              string        `yaml:"name"`
	DataDeadline      time.Duration `yaml:"data_deadline"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	Transport Transport `yaml:"transport"`
	Log       Log       `yaml:"log"`
}

// Transport selects and configures one of the transport.Bus
// implementations the cmd binaries build (SPEC_FULL.md §8).
type Transport struct {
	Kind string `yaml:"kind"` // "inproc" | "quicbus"
	Addr string `yaml:"addr"`
}

// Schema configures the component schema registry's persistence
// (SPEC_FULL.md §10).
type Schema struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Log configures the zap-backed logging facade.
type Log struct {
	Level string `yaml:"level"`
}

// DefaultCoordinator mirrors the values tick.DefaultConfig/scheduler use
// internally, so a coordinator started without a config file still runs.
func DefaultCoordinator() Coordinator {
	return Coordinator{
		TickRate:       20,
		SentinelDrain:  5 * time.Second,
		TickAckTimeout: 5 * time.Second,
		MaxShardRows:   512,
		Transport:      Transport{Kind: "inproc"},
		Schema:         Schema{SQLitePath: "schema.db"},
		Log:            Log{Level: "info"},
	}
}

// DefaultSystem mirrors runtime.DefaultConfig.
func DefaultSystem(name string) System {
	return System{
		Name:              name,
		DataDeadline:      5 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		Transport:         Transport{Kind: "inproc"},
		Log:               Log{Level: "info"},
	}
}

// LoadCoordinator reads a YAML file into DefaultCoordinator's values, then
// applies environment overrides.
func LoadCoordinator(path string) (Coordinator, error) {
	c := DefaultCoordinator()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read coordinator config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return c, fmt.Errorf("parse coordinator config %q: %w", path, err)
		}
	}
	applyCoordinatorEnv(&c)
	return c, nil
}

// LoadSystem reads a YAML file into DefaultSystem's values, then applies
// environment overrides.
func LoadSystem(path, name string) (System, error) {
	s := DefaultSystem(name)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("read system config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return s, fmt.Errorf("parse system config %q: %w", path, err)
		}
	}
	applySystemEnv(&s)
	return s, nil
}

func applyCoordinatorEnv(c *Coordinator) {
	if v := os.Getenv("ENGINE_TICK_RATE_HZ"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.TickRate = f
		}
	}
	if v := os.Getenv("ENGINE_TRANSPORT_KIND"); v != "" {
		c.Transport.Kind = v
	}
	if v := os.Getenv("ENGINE_TRANSPORT_ADDR"); v != "" {
		c.Transport.Addr = v
	}
	if v := os.Getenv("ENGINE_SCHEMA_SQLITE_PATH"); v != "" {
		c.Schema.SQLitePath = v
	}
	if v := os.Getenv("ENGINE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// ParseLevel maps a config string to a log.Level, defaulting to Info.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.LevelDebug
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "fatal":
		return log.LevelFatal
	default:
		return log.LevelInfo
	}
}

func applySystemEnv(s *System) {
	if v := os.Getenv("ENGINE_SYSTEM_NAME"); v != "" {
		s.Name = v
	}
	if v := os.Getenv("ENGINE_TRANSPORT_KIND"); v != "" {
		s.Transport.Kind = v
	}
	if v := os.Getenv("ENGINE_TRANSPORT_ADDR"); v != "" {
		s.Transport.Addr = v
	}
	if v := os.Getenv("ENGINE_LOG_LEVEL"); v != "" {
		s.Log.Level = v
	}
}
