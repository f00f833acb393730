package supervisor

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
)

const DefaultPort = 7777

// Profile selects how the command line is assembled from a ServerConfig.
type Profile string

const (
	// ProfileUnreal launches an Unreal Engine dedicated server with the
	// headless flags and a -Port argument.
	ProfileUnreal Profile = "unreal"
	// ProfileGeneric runs the executable with exactly the configured arguments.
	ProfileGeneric Profile = "generic"
)

// ServerConfig describes one managed server. It is copied into the
// supervisor and cannot change while the server is running.
type ServerConfig struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Executable  string   `yaml:"executable" json:"executable"`
	WorkingDir  string   `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	ProjectPath string   `yaml:"project_path,omitempty" json:"project_path,omitempty"`
	Port        int      `yaml:"port" json:"port"`
	ExtraArgs   []string `yaml:"extra_args,omitempty" json:"extra_args,omitempty"`
	Env         []string `yaml:"env,omitempty" json:"env,omitempty"`
	Profile     Profile  `yaml:"profile,omitempty" json:"profile,omitempty"`
}

// Clone returns a deep copy.
func (c ServerConfig) Clone() ServerConfig {
	c.ExtraArgs = slices.Clone(c.ExtraArgs)
	c.Env = slices.Clone(c.Env)
	return c
}

// normalize fills defaults and validates the config. A missing ID is
// generated; a present one must be a UUID.
func (c *ServerConfig) normalize() error {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		c.ID = uuid.NewString()
	} else {
		parsed, err := uuid.Parse(c.ID)
		if err != nil {
			return fmt.Errorf("%w: id %q is not a UUID", ErrInvalidConfig, c.ID)
		}
		c.ID = parsed.String()
	}

	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = "Server " + c.ID[:8]
	}

	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}

	switch c.Profile {
	case "":
		c.Profile = ProfileUnreal
	case ProfileUnreal, ProfileGeneric:
	default:
		return fmt.Errorf("%w: unknown profile %q", ErrInvalidConfig, c.Profile)
	}

	for _, kv := range c.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("%w: env entry %q must be KEY=VALUE", ErrInvalidConfig, kv)
		}
	}

	return nil
}

// ParseArgs splits a shell-style parameter string into arguments.
func ParseArgs(params string) ([]string, error) {
	if strings.TrimSpace(params) == "" {
		return nil, nil
	}
	args, err := shellquote.Split(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return args, nil
}
