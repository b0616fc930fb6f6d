package isles

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ManagerConfig is the on-disk configuration for a manager process: a
// plain struct decoded with gopkg.in/yaml.v3 rather than a bespoke parser.
type ManagerConfig struct {
	ID           string        `yaml:"id"`
	LogPath      string        `yaml:"log_path" mapstructure:"log_path"`
	TickInterval time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`

	Server *ServerConfig `yaml:"server,omitempty"`
	Peers  []PeerConfig  `yaml:"peers,omitempty"`
}

// ServerConfig describes a listening socket the manager should bring up at
// startup to accept incoming Peer connections.
type ServerConfig struct {
	Network string `yaml:"network"`
	Address string `yaml:"address"`
	Through bool   `yaml:"through"`
}

// PeerConfig describes an outbound connection the manager should dial at
// startup.
type PeerConfig struct {
	Network string `yaml:"network"`
	Address string `yaml:"address"`
	Through bool   `yaml:"through"`
}

// DefaultManagerConfig returns the configuration used when no config file
// is supplied.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ID:           DefaultManagerID,
		LogPath:      "log.txt",
		TickInterval: 10 * time.Millisecond,
	}
}

// LoadManagerConfig reads and decodes a ManagerConfig from a yaml file at
// path, filling in defaults for any field the file leaves unset.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	cfg := DefaultManagerConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if cfg.ID == "" {
		cfg.ID = DefaultManagerID
	}
	if cfg.LogPath == "" {
		cfg.LogPath = "log.txt"
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}

	return cfg, nil
}

// ToManagerOptions translates the decoded config into the ManagerOption
// values NewManager expects.
func (c ManagerConfig) ToManagerOptions() []ManagerOption {
	return []ManagerOption{
		WithManagerID(c.ID),
		WithLogPath(c.LogPath),
		WithManagerTickInterval(c.TickInterval),
	}
}
