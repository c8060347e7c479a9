package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"light/shielded-pool/primitives"

	"github.com/pelletier/go-toml/v2"
)

const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Queue    QueueConfig    `toml:"queue"`
	Protocol ProtocolConfig `toml:"protocol"`
	Engine   EngineConfig   `toml:"engine"`
	Keys     []string       `toml:"keys"`
}

type ServerConfig struct {
	Address        string   `toml:"address"`
	MetricsAddress string   `toml:"metrics_address"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	JSONLogging    bool     `toml:"json_logging"`
	LogLevel       string   `toml:"log_level"`
}

type StorageConfig struct {
	// Path of the LevelDB directory. Empty keeps state in memory.
	Path       string `toml:"path"`
	SyncWrites bool   `toml:"sync_writes"`
}

type QueueConfig struct {
	Mode     string `toml:"mode"`
	RedisURL string `toml:"redis_url"`
}

type ProtocolConfig struct {
	Admin            string `toml:"admin"`
	ComputeAuthority string `toml:"compute_authority"`
	TreeDepth        uint8  `toml:"tree_depth"`
	KeysDir          string `toml:"keys_dir"`
}

// EngineConfig configures the in-process reference engine.
type EngineConfig struct {
	Enabled     bool   `toml:"enabled"`
	SigningSeed string `toml:"signing_seed"`
	MXESecret   string `toml:"mxe_secret"`
	Workers     int    `toml:"workers"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:        "0.0.0.0:3001",
			MetricsAddress: "0.0.0.0:9998",
			CORSOrigins:    []string{"*"},
			LogLevel:       "info",
		},
		Queue:    QueueConfig{Mode: QueueMemory},
		Protocol: ProtocolConfig{TreeDepth: 26, KeysDir: "./proving-keys/"},
		Engine:   EngineConfig{Workers: 1},
	}
}

// HasKey reports whether the verifying key named key is configured.
func (cfg *Config) HasKey(key string) bool {
	return slices.Contains(cfg.Keys, key)
}

// ReadConfig reads file over the defaults.
func ReadConfig(file string) (Config, error) {
	cfg := Default()
	configFileData, err := os.ReadFile(file)
	if err != nil {
		return cfg, err
	}
	err = toml.Unmarshal(configFileData, &cfg)
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (cfg *Config) ApplyEnv() {
	if key := os.Getenv("SHIELDED_API_KEY"); key != "" {
		cfg.Server.APIKey = key
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Queue.RedisURL = url
		if cfg.Queue.Mode == QueueMemory {
			cfg.Queue.Mode = QueueRedis
		}
	}
}

func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	switch cfg.Queue.Mode {
	case QueueMemory:
	case QueueRedis:
		if cfg.Queue.RedisURL == "" {
			errs = append(errs, errors.New("queue.redis_url is required in redis mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.mode must be %q or %q", QueueMemory, QueueRedis))
	}
	if cfg.Protocol.TreeDepth == 0 || cfg.Protocol.TreeDepth > 32 {
		errs = append(errs, fmt.Errorf("protocol.tree_depth %d out of range", cfg.Protocol.TreeDepth))
	}
	if _, err := cfg.AdminAddress(); err != nil {
		errs = append(errs, err)
	}
	// The in-process engine signs with its own seed, so the authority can be
	// derived from it.
	if !cfg.Engine.Enabled || cfg.Protocol.ComputeAuthority != "" {
		if _, err := cfg.ComputeAuthorityKey(); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Engine.Enabled && cfg.Engine.Workers < 1 {
		errs = append(errs, errors.New("engine.workers must be positive"))
	}
	return errors.Join(errs...)
}

// AdminAddress is the ed25519 public key whose signed instructions may create
// access-control lists that do not exist yet.
func (cfg *Config) AdminAddress() (primitives.Address, error) {
	addr, err := primitives.ParseAddress(cfg.Protocol.Admin)
	if err != nil {
		return addr, fmt.Errorf("protocol.admin: %w", err)
	}
	return addr, nil
}

func (cfg *Config) ComputeAuthorityKey() (primitives.Ed25519PublicKey, error) {
	key, err := primitives.ParseEd25519PublicKey(cfg.Protocol.ComputeAuthority)
	if err != nil {
		return key, fmt.Errorf("protocol.compute_authority: %w", err)
	}
	return key, nil
}
