package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr   = "127.0.0.1:41313"
	DefaultMaxLineBytes = 2048
	DefaultMaxItemBytes = 1 << 20
	DefaultSlabSize     = 512 * 1024
)

// Config is the ramcache configuration file.
type Config struct {
	Server  Server  `yaml:"server"`
	Client  Client  `yaml:"client"`
	Logging Logging `yaml:"logging"`
}

type Server struct {
	Listen        string `yaml:"listen"`
	MaxLineBytes  int    `yaml:"max_line_bytes"`
	MaxItemBytes  int    `yaml:"max_item_bytes"`
	MetricsListen string `yaml:"metrics_listen"`
}

type Client struct {
	Addr     string        `yaml:"addr"`
	SlabSize int           `yaml:"slab_size"`
	MaxConns int32         `yaml:"max_conns"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Logging struct {
	Level   string `yaml:"level"`
	Verbose bool   `yaml:"verbose"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Listen:       DefaultListenAddr,
			MaxLineBytes: DefaultMaxLineBytes,
			MaxItemBytes: DefaultMaxItemBytes,
		},
		Client: Client{
			Addr:     DefaultListenAddr,
			SlabSize: DefaultSlabSize,
			MaxConns: 4,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads path over Default. An empty path returns Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.MaxLineBytes <= 0 {
		return fmt.Errorf("server.max_line_bytes must be positive")
	}
	if c.Server.MaxItemBytes <= 0 {
		return fmt.Errorf("server.max_item_bytes must be positive")
	}
	if c.Client.SlabSize <= 0 {
		return fmt.Errorf("client.slab_size must be positive")
	}
	if c.Client.SlabSize > c.Server.MaxItemBytes {
		return fmt.Errorf("client.slab_size %d exceeds server.max_item_bytes %d", c.Client.SlabSize, c.Server.MaxItemBytes)
	}
	if c.Client.Timeout < 0 {
		return fmt.Errorf("client.timeout must not be negative")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}
