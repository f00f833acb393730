package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Security   SecurityConfig   `yaml:"security" json:"security"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Archive    ArchiveConfig    `yaml:"archive" json:"archive"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string    `yaml:"host" json:"host"`
	Port int       `yaml:"port" json:"port"`
	TLS  TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig contains TLS/HTTPS settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path           string `yaml:"path" json:"path"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	SSH       SSHConfig       `yaml:"ssh" json:"ssh"`
}

// RateLimitConfig limits command API requests per client IP
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// CORSConfig contains CORS settings
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
}

// SSHConfig contains host key settings for SFTP archive destinations
type SSHConfig struct {
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	ConfigDir  string `yaml:"config_dir" json:"config_dir"`
	DataDir    string `yaml:"data_dir" json:"data_dir"`
	ConsoleDir string `yaml:"console_dir" json:"console_dir"`
	ArchiveDir string `yaml:"archive_dir" json:"archive_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// SupervisorConfig controls how managed servers are run. Durations use Go
// duration syntax ("7s", "1m").
type SupervisorConfig struct {
	StopGracePeriod string `yaml:"stop_grace_period" json:"stop_grace_period"`
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	SampleInterval  string `yaml:"sample_interval" json:"sample_interval"`
	ReaderGrace     string `yaml:"reader_grace" json:"reader_grace"`
	LogBufferSize   int    `yaml:"log_buffer_size" json:"log_buffer_size"`
	SampleHistory   int    `yaml:"sample_history" json:"sample_history"`
	CleanExitCodes  []int  `yaml:"clean_exit_codes" json:"clean_exit_codes"`
	// ConsoleFiles mirrors every server's output to a rotated file.
	ConsoleFiles bool `yaml:"console_files" json:"console_files"`
}

// MetricsConfig contains settings for persisted resource samples
type MetricsConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	PersistInterval int    `yaml:"persist_interval" json:"persist_interval"` // seconds
	RetentionDays   int    `yaml:"retention_days" json:"retention_days"`
	CleanupSchedule string `yaml:"cleanup_schedule" json:"cleanup_schedule"`
}

// ArchiveConfig controls periodic log archival
type ArchiveConfig struct {
	Enabled          bool                       `yaml:"enabled" json:"enabled"`
	Schedule         string                     `yaml:"schedule" json:"schedule"`
	RetentionCount   int                        `yaml:"retention_count" json:"retention_count"`
	CompressionLevel int                        `yaml:"compression_level" json:"compression_level"`
	Destinations     []ArchiveDestinationConfig `yaml:"destinations" json:"destinations"`
}

// ArchiveDestinationConfig describes where archives are uploaded
type ArchiveDestinationConfig struct {
	Type string `yaml:"type" json:"type"` // "local", "sftp", "s3"
	Path string `yaml:"path" json:"path"`

	SFTPHost     string `yaml:"sftp_host,omitempty" json:"sftp_host,omitempty"`
	SFTPPort     int    `yaml:"sftp_port,omitempty" json:"sftp_port,omitempty"`
	SFTPUsername string `yaml:"sftp_username,omitempty" json:"sftp_username,omitempty"`
	SFTPPassword string `yaml:"sftp_password,omitempty" json:"-"`
	SFTPKeyPath  string `yaml:"sftp_key_path,omitempty" json:"sftp_key_path,omitempty"`

	S3Bucket    string `yaml:"s3_bucket,omitempty" json:"s3_bucket,omitempty"`
	S3Region    string `yaml:"s3_region,omitempty" json:"s3_region,omitempty"`
	S3AccessKey string `yaml:"s3_access_key,omitempty" json:"-"`
	S3SecretKey string `yaml:"s3_secret_key,omitempty" json:"-"`
	S3Endpoint  string `yaml:"s3_endpoint,omitempty" json:"s3_endpoint,omitempty"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path:           "./data/unreal-manager.db",
			MaxConnections: 25,
		},
		Security: SecurityConfig{
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:5173"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
			},
			SSH: SSHConfig{
				KnownHostsPath:  "./data/known_hosts",
				TrustOnFirstUse: true,
			},
		},
		Storage: StorageConfig{
			ConfigDir:  "./configs",
			DataDir:    "./data",
			ConsoleDir: "./data/console",
			ArchiveDir: "./data/archives",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Supervisor: SupervisorConfig{
			StopGracePeriod: "7s",
			ShutdownTimeout: "10s",
			SampleInterval:  "1s",
			ReaderGrace:     "2s",
			LogBufferSize:   8000,
			SampleHistory:   60,
			ConsoleFiles:    true,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			PersistInterval: 60,
			RetentionDays:   2,
			CleanupSchedule: "@hourly",
		},
		Archive: ArchiveConfig{
			Enabled:          false,
			Schedule:         "0 4 * * *",
			RetentionCount:   14,
			CompressionLevel: 6,
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	cfg := Default()

	// Load from config file if it exists
	configPath := GetConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if configDir := os.Getenv("CONFIG_DIR"); configDir != "" {
		cfg.Storage.ConfigDir = configDir
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	if knownHostsPath := os.Getenv("KNOWN_HOSTS_PATH"); knownHostsPath != "" {
		cfg.Security.SSH.KnownHostsPath = knownHostsPath
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid SERVER_PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	// Normalize storage paths based on config location
	cfg.normalizeStoragePaths(configPath)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS is enabled but cert_file or key_file is missing")
		}
	}

	durations := map[string]string{
		"supervisor.stop_grace_period": c.Supervisor.StopGracePeriod,
		"supervisor.shutdown_timeout":  c.Supervisor.ShutdownTimeout,
		"supervisor.sample_interval":   c.Supervisor.SampleInterval,
		"supervisor.reader_grace":      c.Supervisor.ReaderGrace,
	}
	for key, value := range durations {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("security.rate_limit.requests_per_minute must be positive when enabled")
	}

	if c.Supervisor.LogBufferSize < 0 {
		return fmt.Errorf("supervisor.log_buffer_size must not be negative")
	}

	if c.Archive.CompressionLevel < 0 || c.Archive.CompressionLevel > 9 {
		return fmt.Errorf("archive.compression_level must be between 0 and 9")
	}

	for i, dest := range c.Archive.Destinations {
		switch dest.Type {
		case "local":
		case "s3":
			if dest.S3Bucket == "" {
				return fmt.Errorf("archive destination %d: s3_bucket is required", i)
			}
		case "sftp":
			if dest.SFTPHost == "" || dest.SFTPUsername == "" {
				return fmt.Errorf("archive destination %d: sftp_host and sftp_username are required", i)
			}
		default:
			return fmt.Errorf("archive destination %d: unsupported type %q", i, dest.Type)
		}
	}

	return nil
}

// StopGrace returns the parsed per-server stop grace period
func (s SupervisorConfig) StopGrace() time.Duration {
	d, _ := parseDuration(s.StopGracePeriod)
	return d
}

// Shutdown returns the parsed global shutdown timeout
func (s SupervisorConfig) Shutdown() time.Duration {
	d, _ := parseDuration(s.ShutdownTimeout)
	return d
}

func (s SupervisorConfig) Interval() time.Duration {
	d, _ := parseDuration(s.SampleInterval)
	return d
}

func (s SupervisorConfig) ReaderGraceDuration() time.Duration {
	d, _ := parseDuration(s.ReaderGrace)
	return d
}

func parseDuration(value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %s must not be negative", value)
	}
	return d, nil
}

func resolveConfigPath() string {
	candidates := []string{"../configs/config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	configDir := c.Storage.ConfigDir
	if strings.TrimSpace(configDir) == "" {
		configDir = baseDir
	}
	c.Storage.ConfigDir = resolvePath(configDir)

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = filepath.Join(rootDir, "data")
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	if strings.TrimSpace(c.Storage.ConsoleDir) == "" {
		c.Storage.ConsoleDir = filepath.Join(c.Storage.DataDir, "console")
	}
	c.Storage.ConsoleDir = resolvePath(c.Storage.ConsoleDir)

	if strings.TrimSpace(c.Storage.ArchiveDir) == "" {
		c.Storage.ArchiveDir = filepath.Join(c.Storage.DataDir, "archives")
	}
	c.Storage.ArchiveDir = resolvePath(c.Storage.ArchiveDir)

	if strings.TrimSpace(c.Database.Path) != "" {
		c.Database.Path = resolvePath(c.Database.Path)
	}

	if strings.TrimSpace(c.Security.SSH.KnownHostsPath) == "" {
		c.Security.SSH.KnownHostsPath = filepath.Join(c.Storage.DataDir, "known_hosts")
	}
	c.Security.SSH.KnownHostsPath = resolvePath(c.Security.SSH.KnownHostsPath)

	for i := range c.Archive.Destinations {
		if c.Archive.Destinations[i].Type == "local" {
			path := c.Archive.Destinations[i].Path
			if strings.TrimSpace(path) == "" {
				path = c.Storage.ArchiveDir
			}
			c.Archive.Destinations[i].Path = resolvePath(path)
		}
	}
}
