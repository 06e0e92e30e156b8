package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"jobchain/native/common"
)

const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

type Config struct {
	DataDir     string    `toml:"DataDir" yaml:"DataDir"`
	KeystoreDir string    `toml:"KeystoreDir" yaml:"KeystoreDir"`
	Storage     Storage   `toml:"Storage" yaml:"Storage"`
	Log         Log       `toml:"Log" yaml:"Log"`
	Jobs        Jobs      `toml:"Jobs" yaml:"Jobs"`
	Proof       Proof     `toml:"Proof" yaml:"Proof"`
	Telemetry   Telemetry `toml:"Telemetry" yaml:"Telemetry"`
	Metrics     Metrics   `toml:"Metrics" yaml:"Metrics"`
	Pauses      Pauses    `toml:"Pauses" yaml:"Pauses"`
}

// Default returns the configuration written when no file exists yet. An empty
// KeystoreDir resolves to DataDir/keys on load.
func Default() *Config {
	return &Config{
		DataDir: "./jobd-data",
		Storage: Storage{Backend: BackendLevelDB},
		Log:     Log{Level: "info"},
		Jobs: Jobs{
			MaxMilestones:    64,
			MaxFeedbackBytes: 1024,
		},
		Proof: Proof{Verifier: "none"},
	}
}

// Load loads the configuration from the given path. Files ending in .yaml or
// .yml are parsed as YAML, everything else as TOML. A missing file is created
// with the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	}

	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = def.DataDir
	}
	if strings.TrimSpace(c.KeystoreDir) == "" {
		c.KeystoreDir = filepath.Join(c.DataDir, "keys")
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = def.Storage.Backend
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Jobs.MaxMilestones == 0 {
		c.Jobs.MaxMilestones = def.Jobs.MaxMilestones
	}
	if c.Jobs.MaxFeedbackBytes == 0 {
		c.Jobs.MaxFeedbackBytes = def.Jobs.MaxFeedbackBytes
	}
	if strings.TrimSpace(c.Metrics.PushGateway) != "" && strings.TrimSpace(c.Metrics.Job) == "" {
		c.Metrics.Job = "jobd"
	}
	c.Proof.Verifier = strings.ToLower(strings.TrimSpace(c.Proof.Verifier))
	if c.Proof.Verifier == "" {
		c.Proof.Verifier = def.Proof.Verifier
	}
}

// StoragePath returns where the configured backend keeps its data.
func (c *Config) StoragePath() string {
	if p := strings.TrimSpace(c.Storage.Path); p != "" {
		return p
	}
	switch c.Storage.Backend {
	case BackendBolt:
		return filepath.Join(c.DataDir, "state.bolt")
	default:
		return filepath.Join(c.DataDir, "state.ldb")
	}
}

// PostQuota converts the configured quota into the runtime form.
func (c *Config) PostQuota() common.Quota {
	return common.Quota{
		MaxRequestsPerEpoch: c.Jobs.Quota.MaxPostsPerEpoch,
		MaxValuePerEpoch:    c.Jobs.Quota.MaxValuePerEpoch,
		EpochSeconds:        c.Jobs.Quota.EpochSeconds,
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(path string, cfg *Config) error {
	return persist(path, cfg)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
