package backup

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/pma2020/pma-api/internal/logging"
	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// newHostKeyCallback verifies SFTP hosts against a known_hosts file. Unknown
// hosts are appended when trustOnFirstUse is set; changed keys are rejected.
func newHostKeyCallback(knownHostsPath string, trustOnFirstUse bool) (xssh.HostKeyCallback, error) {
	if strings.TrimSpace(knownHostsPath) == "" {
		return nil, fmt.Errorf("known_hosts path is required for SFTP backups")
	}

	if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(knownHostsPath, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	f.Close()

	verify, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key xssh.PublicKey) error {
		err := verify(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}

		if len(keyErr.Want) > 0 {
			logging.L().Warn("sftp_host_key_changed", "host", hostname, "fingerprint", xssh.FingerprintSHA256(key))
			return fmt.Errorf("SSH host key changed for %s", hostname)
		}

		if !trustOnFirstUse {
			return fmt.Errorf("unknown SSH host key for %s", hostname)
		}

		line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key) + "\n"
		out, err := os.OpenFile(knownHostsPath, os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("failed to open known_hosts file: %w", err)
		}
		defer out.Close()
		if _, err := out.WriteString(line); err != nil {
			return fmt.Errorf("failed to write known_hosts entry: %w", err)
		}

		logging.L().Info("sftp_host_key_accepted", "host", hostname, "fingerprint", xssh.FingerprintSHA256(key))
		return nil
	}, nil
}
