// Package config loads and validates the matchmaking server's YAML
// configuration document.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Matchmaking holds the front server's listen address, its identity as
// presented to clients via A2S_INFO, and the idle-eviction timeout.
type Matchmaking struct {
	Address     string `yaml:"address"`
	Port        uint16 `yaml:"port"`
	Hostname    string `yaml:"hostname"`
	IdleTimeout int    `yaml:"idle_timeout_seconds"`
}

// Server describes one backend game server eligible for redirects.
type Server struct {
	Address string `yaml:"address"`
	Port    uint16 `yaml:"port"`
}

// Admin configures the read-only operator console. Listen is left empty to
// disable the console entirely.
type Admin struct {
	Listen       string `yaml:"listen"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	JWTSecret    string `yaml:"jwt_secret"`
}

// Audit configures the sqlite-backed request/redirect audit trail.
// DatabasePath left empty disables audit logging.
type Audit struct {
	DatabasePath string `yaml:"database_path"`
}

// Config is the top-level document.
type Config struct {
	Matchmaking Matchmaking       `yaml:"matchmaking"`
	Servers     map[string]Server `yaml:"servers"`
	Admin       Admin             `yaml:"admin"`
	Audit       Audit             `yaml:"audit"`

	// path is the file this config was loaded from, kept so SavePasswordHash can write
	// the admin password hash back after an interactive prompt.
	path string
}

// Load reads and validates the configuration document at path. Any error
// returned here is meant to be fatal at startup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.path = path

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if ip := net.ParseIP(c.Matchmaking.Address); ip == nil || ip.To4() == nil {
		return fmt.Errorf("matchmaking.address %q is not a valid IPv4 address", c.Matchmaking.Address)
	}
	if c.Matchmaking.Port == 0 {
		return fmt.Errorf("matchmaking.port must be nonzero")
	}
	if c.Matchmaking.Hostname == "" {
		return fmt.Errorf("matchmaking.hostname must not be empty")
	}
	for name, srv := range c.Servers {
		if ip := net.ParseIP(srv.Address); ip == nil || ip.To4() == nil {
			return fmt.Errorf("servers.%s.address %q is not a valid IPv4 address", name, srv.Address)
		}
		if srv.Port == 0 {
			return fmt.Errorf("servers.%s.port must be nonzero", name)
		}
	}
	if c.Admin.Listen != "" && c.Admin.Username == "" {
		return fmt.Errorf("admin.username must be set when admin.listen is configured")
	}
	return nil
}

// SavePasswordHash persists a freshly generated admin password hash back to
// the config file on disk, used after an interactive first-boot prompt.
func (c *Config) SavePasswordHash(hash string) error {
	c.Admin.PasswordHash = hash
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling updated document: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", c.path, err)
	}
	return nil
}
