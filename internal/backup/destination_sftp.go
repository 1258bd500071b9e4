package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/pma2020/pma-api/internal/config"
	xssh "golang.org/x/crypto/ssh"
)

// SFTPDestination stores backups on a remote host over SFTP. The connection
// is opened on first use and reused until Close.
type SFTPDestination struct {
	cfg config.DestinationConfig

	mu         sync.Mutex
	sshClient  *xssh.Client
	sftpClient *sftp.Client
}

// NewSFTPDestination creates a new SFTP destination
func NewSFTPDestination(cfg config.DestinationConfig) *SFTPDestination {
	if cfg.SFTPPort == 0 {
		cfg.SFTPPort = 22
	}
	return &SFTPDestination{cfg: cfg}
}

func (sd *SFTPDestination) client() (*sftp.Client, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	if sd.sftpClient != nil {
		return sd.sftpClient, nil
	}

	hostKeyCallback, err := newHostKeyCallback(sd.cfg.KnownHostsPath, sd.cfg.TrustOnFirstUse)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &xssh.ClientConfig{
		User:            sd.cfg.SFTPUsername,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}

	switch {
	case sd.cfg.SFTPKeyPath != "":
		keyData, err := os.ReadFile(sd.cfg.SFTPKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}
		signer, err := xssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		sshConfig.Auth = []xssh.AuthMethod{xssh.PublicKeys(signer)}
	case sd.cfg.SFTPPassword != "":
		sshConfig.Auth = []xssh.AuthMethod{xssh.Password(sd.cfg.SFTPPassword)}
	default:
		return nil, fmt.Errorf("no authentication method provided for SFTP")
	}

	addr := fmt.Sprintf("%s:%d", sd.cfg.SFTPHost, sd.cfg.SFTPPort)
	log.Printf("[SFTPDest] Connecting to %s...", addr)

	sshClient, err := xssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	if err := sftpClient.MkdirAll(sd.cfg.Path); err != nil {
		sftpClient.Close()
		sshClient.Close()
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	sd.sshClient = sshClient
	sd.sftpClient = sftpClient
	log.Printf("[SFTPDest] Connected successfully")
	return sftpClient, nil
}

// Close closes the SFTP and SSH connections
func (sd *SFTPDestination) Close() error {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	if sd.sftpClient != nil {
		sd.sftpClient.Close()
		sd.sftpClient = nil
	}
	if sd.sshClient != nil {
		sd.sshClient.Close()
		sd.sshClient = nil
	}
	return nil
}

// Upload uploads a backup file to the SFTP destination
func (sd *SFTPDestination) Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	client, err := sd.client()
	if err != nil {
		return err
	}

	destPath := path.Join(sd.cfg.Path, filename)
	log.Printf("[SFTPDest] Uploading %s to %s (%d bytes)", filename, destPath, sizeBytes)

	file, err := client.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	written, err := file.ReadFrom(reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		client.Remove(destPath)
		return fmt.Errorf("failed to write remote file: %w", err)
	}

	if sizeBytes >= 0 && written != sizeBytes {
		client.Remove(destPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	log.Printf("[SFTPDest] Upload complete: %s", filename)
	return nil
}

// Download downloads a backup file from the SFTP destination
func (sd *SFTPDestination) Download(ctx context.Context, filename string, w io.WriterAt) (int64, error) {
	client, err := sd.client()
	if err != nil {
		return 0, err
	}

	srcPath := path.Join(sd.cfg.Path, filename)
	file, err := client.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &ArtifactNotFoundError{Name: filename, Destination: sd.GetType()}
		}
		return 0, fmt.Errorf("failed to open remote file: %w", err)
	}
	defer file.Close()

	n, err := file.WriteTo(io.NewOffsetWriter(w, 0))
	if err != nil {
		return n, fmt.Errorf("failed to read remote file: %w", err)
	}
	return n, nil
}

// Delete removes a backup file from the SFTP destination
func (sd *SFTPDestination) Delete(ctx context.Context, filename string) error {
	client, err := sd.client()
	if err != nil {
		return err
	}

	destPath := path.Join(sd.cfg.Path, filename)
	log.Printf("[SFTPDest] Deleting %s", destPath)

	if err := client.Remove(destPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ArtifactNotFoundError{Name: filename, Destination: sd.GetType()}
		}
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

// List returns all backup files in the SFTP destination
func (sd *SFTPDestination) List(ctx context.Context) ([]BackupFile, error) {
	client, err := sd.client()
	if err != nil {
		return nil, err
	}

	entries, err := client.ReadDir(sd.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: entry.Size(),
			CreatedAt: entry.ModTime().Unix(),
		})
	}

	return files, nil
}

func (sd *SFTPDestination) Location(filename string) string {
	return fmt.Sprintf("sftp://%s@%s:%d%s", sd.cfg.SFTPUsername, sd.cfg.SFTPHost, sd.cfg.SFTPPort,
		path.Join("/", sd.cfg.Path, filename))
}

// GetType returns the destination type
func (sd *SFTPDestination) GetType() string {
	return "sftp"
}
