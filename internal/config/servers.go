package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yourusername/unreal-server-manager/internal/supervisor"
)

const serversFileName = "servers.yaml"

// ServerDefinition is a managed server as stored in servers.yaml. Params is
// the shell-style parameter string users type; it is appended after Args.
type ServerDefinition struct {
	supervisor.ServerConfig `yaml:",inline"`

	Params    string `json:"params,omitempty" yaml:"params,omitempty"`
	AutoStart bool   `json:"auto_start" yaml:"auto_start"`
}

// ToServerConfig converts the stored definition into a supervisor config.
func (d ServerDefinition) ToServerConfig() (supervisor.ServerConfig, error) {
	cfg := d.ServerConfig.Clone()
	extra, err := supervisor.ParseArgs(d.Params)
	if err != nil {
		return supervisor.ServerConfig{}, fmt.Errorf("server %s params: %w", d.ID, err)
	}
	cfg.ExtraArgs = append(cfg.ExtraArgs, extra...)
	return cfg, nil
}

// LoadServers loads server definitions from YAML file
func LoadServers(configDir string) ([]ServerDefinition, error) {
	serversPath := filepath.Join(configDir, serversFileName)

	data, err := os.ReadFile(serversPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty list if file doesn't exist
			return []ServerDefinition{}, nil
		}
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}

	var serversFile struct {
		Servers []ServerDefinition `yaml:"servers"`
	}

	if err := yaml.Unmarshal(data, &serversFile); err != nil {
		return nil, fmt.Errorf("failed to parse servers file: %w", err)
	}

	for i, server := range serversFile.Servers {
		if err := ValidateServerDefinition(&server); err != nil {
			return nil, fmt.Errorf("invalid server definition at index %d: %w", i, err)
		}
	}

	if serversFile.Servers == nil {
		return []ServerDefinition{}, nil
	}
	return serversFile.Servers, nil
}

// SaveServers saves server definitions to YAML file. The file is replaced
// atomically so a crash mid-write never leaves a truncated list.
func SaveServers(configDir string, servers []ServerDefinition) error {
	serversFile := struct {
		Servers []ServerDefinition `yaml:"servers"`
	}{
		Servers: servers,
	}

	data, err := yaml.Marshal(serversFile)
	if err != nil {
		return fmt.Errorf("failed to marshal servers: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	serversPath := filepath.Join(configDir, serversFileName)
	tmpPath := serversPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write servers file: %w", err)
	}
	if err := os.Rename(tmpPath, serversPath); err != nil {
		return fmt.Errorf("failed to replace servers file: %w", err)
	}

	return nil
}

func ValidateServerDefinition(server *ServerDefinition) error {
	if server.ID == "" {
		return fmt.Errorf("server ID is required")
	}
	if server.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if server.Executable == "" {
		return fmt.Errorf("server executable is required")
	}
	if _, err := supervisor.ParseArgs(server.Params); err != nil {
		return err
	}
	return nil
}
