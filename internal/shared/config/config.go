// Package config loads the server and agent TOML configuration files,
// adapted from _examples/edgetainer-edgetainer/internal/shared/config/config.go's
// Load*Config/CreateDefault*Config/Save*Config shape -- YAML (gopkg.in/yaml.v3)
// swapped for TOML (github.com/BurntSushi/toml) per spec.md §6's config
// surface, with the default-backfill-after-parse pattern kept intact.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig is the on-disk shape of the server's configuration file.
type ServerConfig struct {
	Address        string `toml:"address"`
	ControlAddress string `toml:"control_address"`

	TLS struct {
		Certificate string `toml:"certificate"`
		Key         string `toml:"key"`
	} `toml:"tls"`

	ClientAuthentication struct {
		Required bool   `toml:"required"`
		CA       string `toml:"ca"`
	} `toml:"client_authentication"`

	SSH struct {
		Host         string `toml:"host"`
		Port         uint32 `toml:"port"`
		User         string `toml:"user"`
		PrivateKey   string `toml:"private_key"`
		PortStart    uint16 `toml:"port_start"`
		PortEnd      uint16 `toml:"port_end"`
		WebPortStart uint16 `toml:"web_port_start"`
		WebPortEnd   uint16 `toml:"web_port_end"`
	} `toml:"ssh"`

	Logging struct {
		Level   string `toml:"level"`
		LogFile string `toml:"log_file"`
	} `toml:"logging"`
}

// AgentConfig is the on-disk shape of the agent's configuration file.
type AgentConfig struct {
	Device struct {
		Id   string `toml:"id"`
		Name string `toml:"name"`
	} `toml:"device"`

	Server struct {
		Address string `toml:"address"`
	} `toml:"server"`

	TLS struct {
		ServerCA string `toml:"server_ca"`
	} `toml:"tls"`

	SSH struct {
		IdentityPath string `toml:"identity_path"`
	} `toml:"ssh"`

	IdleDetector struct {
		WarningSeconds    int `toml:"warning_seconds"`
		DisconnectSeconds int `toml:"disconnect_seconds"`
	} `toml:"idle_detector"`

	Logging struct {
		Level   string `toml:"level"`
		LogFile string `toml:"log_file"`
	} `toml:"logging"`
}

// LoadServerConfig reads and parses a server configuration file, then fills
// in any zero-valued fields with defaults.
func LoadServerConfig(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Address == "" {
		cfg.Address = "[::]:4004"
	}
	if cfg.ControlAddress == "" {
		cfg.ControlAddress = "[::1]:12345"
	}
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.SSH.PortStart == 0 {
		cfg.SSH.PortStart = 10000
	}
	if cfg.SSH.PortEnd == 0 {
		cfg.SSH.PortEnd = 19999
	}
	if cfg.SSH.WebPortStart == 0 {
		cfg.SSH.WebPortStart = 20000
	}
	if cfg.SSH.WebPortEnd == 0 {
		cfg.SSH.WebPortEnd = 29999
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadAgentConfig reads and parses an agent configuration file, then fills
// in any zero-valued fields with defaults.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	var cfg AgentConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = "127.0.0.1:4004"
	}
	if cfg.SSH.IdentityPath == "" {
		cfg.SSH.IdentityPath = "ssh_key"
	}
	if cfg.IdleDetector.WarningSeconds == 0 {
		cfg.IdleDetector.WarningSeconds = 60
	}
	if cfg.IdleDetector.DisconnectSeconds == 0 {
		cfg.IdleDetector.DisconnectSeconds = 120
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// WarningDuration returns the agent's configured idle warning threshold.
func (c *AgentConfig) WarningDuration() time.Duration {
	return time.Duration(c.IdleDetector.WarningSeconds) * time.Second
}

// DisconnectDuration returns the agent's configured idle disconnect
// threshold.
func (c *AgentConfig) DisconnectDuration() time.Duration {
	return time.Duration(c.IdleDetector.DisconnectSeconds) * time.Second
}

// CreateDefaultServerConfig writes a default server configuration file.
func CreateDefaultServerConfig(path string) error {
	cfg := ServerConfig{}
	cfg.Address = "[::]:4004"
	cfg.ControlAddress = "[::1]:12345"
	cfg.TLS.Certificate = "server.crt"
	cfg.TLS.Key = "server.key"
	cfg.SSH.Host = "127.0.0.1"
	cfg.SSH.Port = 22
	cfg.SSH.User = "connectbot"
	cfg.SSH.PrivateKey = "ssh_host_key"
	cfg.SSH.PortStart = 10000
	cfg.SSH.PortEnd = 19999
	cfg.SSH.WebPortStart = 20000
	cfg.SSH.WebPortEnd = 29999
	cfg.Logging.Level = "info"
	cfg.Logging.LogFile = "connectbot-server.log"

	return writeTOML(path, cfg)
}

// CreateDefaultAgentConfig writes a default agent configuration file.
func CreateDefaultAgentConfig(path string) error {
	cfg := AgentConfig{}
	cfg.Device.Id = generateDeviceID()
	cfg.Device.Name = "connectbot-device"
	cfg.Server.Address = "127.0.0.1:4004"
	cfg.SSH.IdentityPath = "ssh_key"
	cfg.IdleDetector.WarningSeconds = 60
	cfg.IdleDetector.DisconnectSeconds = 120
	cfg.Logging.Level = "info"
	cfg.Logging.LogFile = "connectbot-agent.log"

	return writeTOML(path, cfg)
}

// SaveServerConfig writes cfg to path.
func SaveServerConfig(cfg *ServerConfig, path string) error {
	return writeTOML(path, *cfg)
}

// SaveAgentConfig writes cfg to path.
func SaveAgentConfig(cfg *AgentConfig, path string) error {
	return writeTOML(path, *cfg)
}

func writeTOML(path string, cfg interface{}) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return nil
}

// generateDeviceID generates a default device id from the local hostname
// and process id -- not stable across restarts, intended to be overwritten
// once a real identity is assigned.
func generateDeviceID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "device"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
