package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pma2020/pma-api/internal/config"
	"github.com/pma2020/pma-api/internal/models"
	"github.com/pma2020/pma-api/internal/storage"
)

// RunIDEnv carries the run id from Start into the serving process
const RunIDEnv = "PMA_RUN_ID"

// Manager starts, locates and stops the serving process. Each start writes a
// run record next to the pid file so the pid can be looked up directly.
type Manager struct {
	cfg      config.ServerConfig
	launcher Launcher
	files    *storage.Writer
	exe      string
	now      func() time.Time
}

// NewManager creates a manager that re-executes the current binary
func NewManager(cfg config.ServerConfig, launcher Launcher, files *storage.Writer) (*Manager, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}

	return &Manager{
		cfg:      cfg,
		launcher: launcher,
		files:    files,
		exe:      exe,
		now:      time.Now,
	}, nil
}

// SetExecutable overrides the binary launched by Start
func (m *Manager) SetExecutable(path string) {
	m.exe = path
}

// RunFile returns the location of the run record
func (m *Manager) RunFile() string {
	return m.cfg.PIDFile + ".run"
}

// Args builds the serve command line for the configured environment. Both
// forms carry the pid file so stop can find the process.
func (m *Manager) Args() []string {
	if strings.EqualFold(strings.TrimSpace(m.cfg.Environment), config.EnvDevelopment) {
		return []string{m.exe, "serve", "--dev", "--pid-file", m.cfg.PIDFile}
	}
	return []string{
		m.exe, "serve",
		"--workers", strconv.Itoa(m.cfg.Workers),
		"--pid-file", m.cfg.PIDFile,
	}
}

// Start launches the serving process and returns without waiting for it to
// become ready.
func (m *Manager) Start(ctx context.Context) (*models.ProcessHandle, error) {
	if pid, err := m.LocatePID(); err == nil {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	argv := m.Args()
	runID := uuid.New().String()
	log.Printf("[Lifecycle] Starting server (%s environment, run %s)", m.cfg.Environment, runID)

	pid, err := m.launcher.Launch(ctx, argv, []string{RunIDEnv + "=" + runID}, m.cfg.ProcessLog)
	if err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	handle := &models.ProcessHandle{
		PID:           pid,
		RunID:         runID,
		ArgsSignature: strings.Join(argv, " "),
		StartedAt:     m.now().UTC(),
	}
	if err := m.writeRecord(handle); err != nil {
		return nil, err
	}

	log.Printf("[Lifecycle] Server started with pid %d", pid)
	return handle, nil
}

// Register records the calling process as the server for runID. An empty
// runID, as when serve is run by hand, gets a fresh one.
func (m *Manager) Register(runID string) (*models.ProcessHandle, error) {
	if runID == "" {
		runID = uuid.New().String()
	}

	handle := &models.ProcessHandle{
		PID:           os.Getpid(),
		RunID:         runID,
		ArgsSignature: strings.Join(os.Args, " "),
		StartedAt:     m.now().UTC(),
	}
	if err := m.writeRecord(handle); err != nil {
		return nil, err
	}
	return handle, nil
}

// LocatePID returns the pid from the run record if that process is alive
func (m *Manager) LocatePID() (int, error) {
	handle, err := m.readRecord()
	if err != nil {
		return 0, err
	}

	if handle.PID <= 0 || !alive(handle.PID) {
		return 0, &ProcessLookupError{Reason: ReasonStale, PID: handle.PID, RunFile: m.RunFile()}
	}
	return handle.PID, nil
}

// PersistPID locates the server and writes its pid to path
func (m *Manager) PersistPID(path string) error {
	pid, err := m.LocatePID()
	if err != nil {
		return err
	}

	if err := m.files.ReplaceAtomic([]byte(strconv.Itoa(pid)), path); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	log.Printf("[Lifecycle] Stored pid %d in %s", pid, path)
	return nil
}

// Stop terminates the server. An explicit pid wins over the pid file; with
// neither, Stop does nothing. Stopping an exited process is not an error.
func (m *Manager) Stop(pid int, pidFilePath string) error {
	if pid <= 0 {
		var err error
		pid, err = m.readPIDFile(pidFilePath)
		if err != nil {
			return err
		}
		if pid <= 0 {
			log.Printf("[Lifecycle] No pid recorded in %s, nothing to stop", pidFilePath)
			return nil
		}
	}

	log.Printf("[Lifecycle] Stopping server pid %d", pid)
	if err := terminate(pid); err != nil {
		if !errors.Is(err, errProcessGone) {
			return fmt.Errorf("failed to stop pid %d: %w", pid, err)
		}
		log.Printf("[Lifecycle] Server pid %d already exited", pid)
	}

	if pidFilePath != "" {
		if err := m.files.SavePayload(nil, pidFilePath); err != nil {
			return fmt.Errorf("failed to clear pid file: %w", err)
		}
	}
	if err := m.files.Remove(m.RunFile()); err != nil {
		log.Printf("[Lifecycle] Warning: Failed to clear run record: %v", err)
	}
	return nil
}

// Release clears the pid file and run record on a clean shutdown of the
// calling process. Files that name another process are left alone.
func (m *Manager) Release(pidFilePath string) error {
	self := os.Getpid()

	if handle, err := m.readRecord(); err == nil && handle.PID != self {
		log.Printf("[Lifecycle] Run record belongs to pid %d, leaving it", handle.PID)
		return nil
	}

	if pidFilePath != "" {
		pid, err := m.readPIDFile(pidFilePath)
		if err == nil && pid == self {
			if err := m.files.SavePayload(nil, pidFilePath); err != nil {
				return fmt.Errorf("failed to clear pid file: %w", err)
			}
		}
	}

	if err := m.files.Remove(m.RunFile()); err != nil {
		return fmt.Errorf("failed to clear run record: %w", err)
	}
	log.Printf("[Lifecycle] Released pid %d", self)
	return nil
}

func (m *Manager) readPIDFile(path string) (int, error) {
	if path == "" || !m.files.Exists(path) {
		return 0, nil
	}

	data, err := m.files.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pid file: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	return pid, nil
}

func (m *Manager) writeRecord(handle *models.ProcessHandle) error {
	data, err := json.Marshal(handle)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	if err := m.files.ReplaceAtomic(data, m.RunFile()); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	return nil
}

func (m *Manager) readRecord() (*models.ProcessHandle, error) {
	if !m.files.Exists(m.RunFile()) {
		return nil, &ProcessLookupError{Reason: ReasonNoRecord, RunFile: m.RunFile()}
	}

	data, err := m.files.ReadFile(m.RunFile())
	if err != nil {
		return nil, fmt.Errorf("failed to read run record: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, &ProcessLookupError{Reason: ReasonNoRecord, RunFile: m.RunFile()}
	}

	var handle models.ProcessHandle
	if err := json.Unmarshal(data, &handle); err != nil {
		return nil, fmt.Errorf("failed to decode run record: %w", err)
	}
	return &handle, nil
}
