package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Launcher starts the serving process and returns its pid without waiting
// for it to exit
type Launcher interface {
	Launch(ctx context.Context, argv []string, env []string, logPath string) (int, error)
}

// ExecLauncher runs argv as a detached child. The child's stdout and stderr
// are appended to logPath.
type ExecLauncher struct{}

func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

func (l *ExecLauncher) Launch(ctx context.Context, argv []string, env []string, logPath string) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("empty command")
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open process log: %w", err)
	}
	defer logFile.Close()

	// Not bound to ctx: the child outlives this call
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	pid := cmd.Process.Pid
	log.Printf("[Launcher] Started %s (pid %d), output in %s", strings.Join(argv, " "), pid, logPath)

	if err := cmd.Process.Release(); err != nil {
		log.Printf("[Launcher] Warning: Failed to release process %d: %v", pid, err)
	}
	return pid, nil
}

// MockLauncher records launches for testing
type MockLauncher struct {
	PID     int
	Err     error
	mu      sync.Mutex
	Calls   [][]string
	LastEnv []string
	LastLog string
}

func (m *MockLauncher) Launch(ctx context.Context, argv []string, env []string, logPath string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, append([]string(nil), argv...))
	m.LastEnv = env
	m.LastLog = logPath
	return m.PID, m.Err
}
