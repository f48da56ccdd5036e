// Package daemon wires the control plane's components together and owns
// its configuration and process lifecycle.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Node        NodeConfig        `toml:"node"`
	API         APIConfig         `toml:"api"`
	GameServer  GameServerConfig  `toml:"game_server"`
	Persistence PersistenceConfig `toml:"persistence"`
	Microcore   MicrocoreConfig   `toml:"microcore"`
	Adapter     AdapterConfig     `toml:"adapter"`
	Push        PushConfig        `toml:"push"`
	Logging     LoggingConfig     `toml:"logging"`
	Security    SecurityConfig    `toml:"security"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID     string `toml:"id"`
	Region string `toml:"region"`
}

// APIConfig controls the admin HTTP API server.
type APIConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	Metrics   bool   `toml:"metrics"`
	MaxActive int    `toml:"max_active"` // spawn-limit override; 0 = registry.DefaultMaxActive
}

// GameServerConfig describes how to reach the sandbox world.
type GameServerConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"` // overridden by NPCFORGE_GAME_PASSWORD
}

// PersistenceConfig controls where state files live.
type PersistenceConfig struct {
	RegistryPath  string `toml:"registry_path"`
	ProfilesPath  string `toml:"profiles_path"`
	KnowledgePath string `toml:"knowledge_path"`
	SnapshotPath  string `toml:"snapshot_path"`
}

// MicrocoreConfig tunes the default per-bot tick loop.
type MicrocoreConfig struct {
	TickRateMS     int     `toml:"tick_rate_ms"`
	StepDistance   float64 `toml:"step_distance"`
	ScanIntervalMS int     `toml:"scan_interval_ms"`
	ScanRadius     float64 `toml:"scan_radius"`
	Autonomy       bool    `toml:"autonomy"`
}

// AdapterConfig tunes the game-server adapter's queue/reconnect behavior.
type AdapterConfig struct {
	MaxCommandsPerSecond float64 `toml:"max_commands_per_second"`
	CommandTimeoutMS     int     `toml:"command_timeout_ms"`
	HeartbeatIntervalS   int     `toml:"heartbeat_interval_s"`
	CommandPrefix        string  `toml:"command_prefix"`
	RetryMaxAttempts     int     `toml:"retry_max_attempts"`
	RetryBaseDelayMS     int     `toml:"retry_base_delay_ms"`
}

// PushConfig controls the WebSocket fan-out endpoint.
type PushConfig struct {
	Enabled bool `toml:"enabled"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// SecurityConfig controls auth secrets. Values here are defaults only; the
// environment variables below always take precedence so secrets need not
// live in the checked-in config file.
type SecurityConfig struct {
	APIKey       string `toml:"api_key"`        // NPCFORGE_API_KEY
	UpdateSecret string `toml:"update_secret"`  // NPCFORGE_UPDATE_SECRET
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	home := npcforgeHome()
	return Config{
		Node: NodeConfig{Region: "auto"},
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8745,
			Metrics: false,
		},
		GameServer: GameServerConfig{
			Host: "127.0.0.1",
			Port: 25575,
		},
		Persistence: PersistenceConfig{
			RegistryPath:  filepath.Join(home, "registry.json"),
			ProfilesPath:  filepath.Join(home, "learning_profiles.json"),
			KnowledgePath: filepath.Join(home, "knowledge.json"),
			SnapshotPath:  filepath.Join(home, "combat_snapshot.json"),
		},
		Microcore: MicrocoreConfig{
			TickRateMS:     200,
			StepDistance:   1.0,
			ScanIntervalMS: 2000,
			ScanRadius:     16,
			Autonomy:       true,
		},
		Adapter: AdapterConfig{
			MaxCommandsPerSecond: 5,
			CommandTimeoutMS:     10_000,
			HeartbeatIntervalS:   30,
			CommandPrefix:        "/npc",
			RetryMaxAttempts:     3,
			RetryBaseDelayMS:     1000,
		},
		Push: PushConfig{Enabled: true},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(home, "npcforge.log"),
		},
	}
}

// LoadConfig reads config from $NPCFORGE_HOME/config.toml, falling back to
// defaults, then applies environment-variable overrides for secrets.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(npcforgeHome(), "config.toml")

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	if v := os.Getenv("NPCFORGE_API_KEY"); v != "" {
		cfg.Security.APIKey = v
	}
	if v := os.Getenv("NPCFORGE_GAME_PASSWORD"); v != "" {
		cfg.GameServer.Password = v
	}
	if v := os.Getenv("NPCFORGE_UPDATE_SECRET"); v != "" {
		cfg.Security.UpdateSecret = v
	}
	if v := os.Getenv("NPCFORGE_SPAWN_LIMIT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.API.MaxActive = n
		}
	}

	return cfg, nil
}

// Validate fails startup when required credentials are missing or left at
// their weak zero-value defaults, per spec §6: a non-zero exit on a missing
// API key or an unset game-server password beats serving with no auth.
func (c Config) Validate() error {
	if c.Security.APIKey == "" {
		return fmt.Errorf("security.api_key is empty: set it in config.toml or NPCFORGE_API_KEY")
	}
	if c.GameServer.Password == "" {
		return fmt.Errorf("game_server.password is empty: set it in config.toml or NPCFORGE_GAME_PASSWORD")
	}
	return nil
}

// SaveConfig writes cfg to $NPCFORGE_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(npcforgeHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// npcforgeHome returns the control plane's data directory.
func npcforgeHome() string {
	if env := os.Getenv("NPCFORGE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".npcforge")
}

// NPCForgeHome is exported for use by other packages (CLI, health checker).
func NPCForgeHome() string {
	return npcforgeHome()
}

func msToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
