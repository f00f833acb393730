package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/yourusername/unreal-server-manager/internal/config"
)

func TestLocalDestinationUploadDownloadDelete(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "archives")
	ld := NewLocalDestination(baseDir)

	content := []byte("archive-data")
	if err := ld.Upload("test.log.gz", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	if !ld.Exists("test.log.gz") {
		t.Fatalf("expected archive file to exist")
	}
	if ld.Exists("test.log.gz.partial") {
		t.Fatalf("temporary file left behind")
	}

	var buf bytes.Buffer
	if err := ld.Download("test.log.gz", &buf); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Fatalf("downloaded content mismatch")
	}

	files, err := ld.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(files) != 1 || files[0].SizeBytes != int64(len(content)) {
		t.Fatalf("unexpected listing %+v", files)
	}

	if err := ld.Delete("test.log.gz"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if ld.Exists("test.log.gz") {
		t.Fatalf("expected archive file to be removed")
	}
}

func TestLocalDestinationSizeMismatch(t *testing.T) {
	ld := NewLocalDestination(t.TempDir())
	if err := ld.Upload("short.log.gz", bytes.NewReader([]byte("abc")), 10); err == nil {
		t.Fatalf("expected size mismatch error")
	}
	if ld.Exists("short.log.gz") {
		t.Fatalf("partial upload must not be visible")
	}
}

func TestNewDestinationInvalidType(t *testing.T) {
	_, err := NewDestination(&DestinationConfig{Type: "invalid", Path: os.TempDir()})
	if err == nil {
		t.Fatalf("expected error for invalid destination type")
	}
}

func TestNewS3DestinationRequiresBucket(t *testing.T) {
	if _, err := NewDestination(&DestinationConfig{Type: "s3", S3Region: "us-east-1"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}

func TestS3DestinationKeys(t *testing.T) {
	dest, err := NewS3Destination(&DestinationConfig{
		Type:       "s3",
		Path:       "/game-logs/",
		S3Bucket:   "archives",
		S3Region:   "us-east-1",
		S3Endpoint: "http://127.0.0.1:9000",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := dest.key("a.log.gz"); got != "game-logs/a.log.gz" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := dest.Location(); got != "s3://archives/game-logs" {
		t.Fatalf("unexpected location %q", got)
	}
}

func TestSFTPClientConfigRequiresAuth(t *testing.T) {
	_, err := sftpClientConfig(&DestinationConfig{
		Type:           "sftp",
		SFTPHost:       "127.0.0.1",
		SFTPPort:       22,
		SFTPUsername:   "archiver",
		KnownHostsPath: filepath.Join(t.TempDir(), "known_hosts"),
	})
	if err == nil {
		t.Fatalf("expected missing authentication error")
	}

	cfg, err := sftpClientConfig(&DestinationConfig{
		Type:           "sftp",
		SFTPUsername:   "archiver",
		SFTPPassword:   "secret",
		KnownHostsPath: filepath.Join(t.TempDir(), "known_hosts"),
	})
	if err != nil {
		t.Fatalf("password config: %v", err)
	}
	if cfg.User != "archiver" || len(cfg.Auth) != 1 {
		t.Fatalf("unexpected client config %+v", cfg)
	}
}

func TestDestinationFromConfigDefaultsPort(t *testing.T) {
	dc := DestinationFromConfig(
		config.ArchiveDestinationConfig{Type: "sftp", Path: "/srv/logs", SFTPHost: "h"},
		config.SSHConfig{KnownHostsPath: "/tmp/kh", TrustOnFirstUse: true},
	)
	if dc.SFTPPort != 22 || dc.KnownHostsPath != "/tmp/kh" || !dc.TrustOnFirstUse {
		t.Fatalf("unexpected destination config %+v", dc)
	}
}
