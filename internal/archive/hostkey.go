package archive

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrHostKeyChanged is returned when a known host presents a different key.
var ErrHostKeyChanged = errors.New("ssh host key changed")

var knownHostsMu sync.Mutex

// NewHostKeyCallback verifies host keys against a known_hosts file. With
// trustOnFirstUse, keys of hosts not yet in the file are recorded and
// accepted; a changed key is always rejected.
func NewHostKeyCallback(knownHostsPath string, trustOnFirstUse bool) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(knownHostsPath) == "" {
		return nil, fmt.Errorf("known_hosts path is required")
	}

	if err := ensureKnownHostsFile(knownHostsPath); err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		knownHostsMu.Lock()
		defer knownHostsMu.Unlock()

		// Reload each time so entries recorded by other destinations count.
		check, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return fmt.Errorf("failed to read known_hosts: %w", err)
		}

		err = check(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}

		if len(keyErr.Want) > 0 {
			slog.Warn("ssh_host_key_changed",
				"host", hostname,
				"fingerprint", ssh.FingerprintSHA256(key),
			)
			return fmt.Errorf("%w for %s", ErrHostKeyChanged, hostname)
		}

		if !trustOnFirstUse {
			return fmt.Errorf("unknown SSH host key for %s", hostname)
		}

		if err := appendKnownHost(knownHostsPath, hostname, remote, key); err != nil {
			return err
		}

		slog.Info("ssh_host_key_accepted",
			"host", hostname,
			"fingerprint", ssh.FingerprintSHA256(key),
		)
		return nil
	}, nil
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	return file.Close()
}

func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	line := knownhosts.Line(knownHostsAddresses(hostname, remote), key) + "\n"

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write known_hosts entry: %w", err)
	}
	return nil
}

// knownHostsAddresses lists the dialed name and, when different, the
// remote IP, both normalized the way knownhosts expects.
func knownHostsAddresses(hostname string, remote net.Addr) []string {
	var addrs []string
	if hostname != "" {
		addrs = append(addrs, knownhosts.Normalize(hostname))
	}
	if remote != nil {
		ip := knownhosts.Normalize(remote.String())
		if len(addrs) == 0 || ip != addrs[0] {
			addrs = append(addrs, ip)
		}
	}
	return addrs
}
