package archive

import (
	"fmt"
	"io"

	"github.com/yourusername/unreal-server-manager/internal/config"
)

// Destination stores archive files
type Destination interface {
	// Upload writes a file from the reader to the destination
	Upload(filename string, reader io.Reader, sizeBytes int64) error

	// Download copies a file from the destination to the writer
	Download(filename string, writer io.Writer) error

	// Delete removes a file from the destination
	Delete(filename string) error

	// List returns all files at the destination
	List() ([]File, error)

	// GetType returns the destination type identifier
	GetType() string

	// Location describes where files end up, for records and logs
	Location() string
}

// File represents a file in a destination
type File struct {
	Filename  string
	SizeBytes int64
	CreatedAt int64 // Unix timestamp
}

// DestinationConfig contains configuration for an archive destination
type DestinationConfig struct {
	Type string // "local", "sftp", "s3"
	Path string // Base path for archives

	// SFTP specific
	SFTPHost        string
	SFTPPort        int
	SFTPUsername    string
	SFTPPassword    string
	SFTPKeyPath     string
	KnownHostsPath  string
	TrustOnFirstUse bool

	// S3 specific
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string // Optional, for S3-compatible storage
}

// DestinationFromConfig maps a config entry plus host key settings to a
// DestinationConfig.
func DestinationFromConfig(dest config.ArchiveDestinationConfig, ssh config.SSHConfig) *DestinationConfig {
	port := dest.SFTPPort
	if port == 0 {
		port = 22
	}
	return &DestinationConfig{
		Type:            dest.Type,
		Path:            dest.Path,
		SFTPHost:        dest.SFTPHost,
		SFTPPort:        port,
		SFTPUsername:    dest.SFTPUsername,
		SFTPPassword:    dest.SFTPPassword,
		SFTPKeyPath:     dest.SFTPKeyPath,
		KnownHostsPath:  ssh.KnownHostsPath,
		TrustOnFirstUse: ssh.TrustOnFirstUse,
		S3Bucket:        dest.S3Bucket,
		S3Region:        dest.S3Region,
		S3AccessKey:     dest.S3AccessKey,
		S3SecretKey:     dest.S3SecretKey,
		S3Endpoint:      dest.S3Endpoint,
	}
}

// NewDestination creates a destination based on config
func NewDestination(config *DestinationConfig) (Destination, error) {
	switch config.Type {
	case "local":
		return NewLocalDestination(config.Path), nil
	case "sftp":
		return NewSFTPDestination(config)
	case "s3":
		return NewS3Destination(config)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", config.Type)
	}
}
