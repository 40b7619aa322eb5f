package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	clientIDFile       = "client.id"
	currentSessionFile = "current_session.id"
	instanceLockFile   = "helix.lock"
)

// ClientStorage keeps the small amount of state the client owns locally.
// Everything else lives on the backend.
type ClientStorage struct {
	dataDir string
}

// NewClientStorage creates the data directory if needed
func NewClientStorage(dataDir string) (*ClientStorage, error) {
	// 0700 - user-only access
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &ClientStorage{dataDir: dataDir}, nil
}

func (s *ClientStorage) DataDir() string {
	return s.dataDir
}

// UserID returns the stable identity sent with every backend request,
// generating and persisting one on first use.
func (s *ClientStorage) UserID() (string, error) {
	path := filepath.Join(s.dataDir, clientIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read client id: %w", err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0600); err != nil {
		return "", fmt.Errorf("failed to save client id: %w", err)
	}
	return id, nil
}

// SaveCurrentSessionID saves the ID of the session the backend handed out
func (s *ClientStorage) SaveCurrentSessionID(id string) error {
	return os.WriteFile(filepath.Join(s.dataDir, currentSessionFile), []byte(id), 0600)
}

// LoadCurrentSessionID loads the ID of the last active session
func (s *ClientStorage) LoadCurrentSessionID() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, currentSessionFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// LockInstance creates a lock to ensure single-instance operation per data directory
// Lock file: <data_dir>/helix.lock
// Content: PID of the running instance
func (s *ClientStorage) LockInstance() error {
	lockPath := filepath.Join(s.dataDir, instanceLockFile)
	return os.WriteFile(lockPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0600)
}

// UnlockInstance removes the instance lock
func (s *ClientStorage) UnlockInstance() error {
	err := os.Remove(filepath.Join(s.dataDir, instanceLockFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// CheckInstanceLock checks if another instance is using this data directory
// Returns (isLocked bool, runningPID int, err error)
func (s *ClientStorage) CheckInstanceLock() (bool, int, error) {
	lockPath := filepath.Join(s.dataDir, instanceLockFile)

	data, err := os.ReadFile(lockPath)
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to read lock file: %w", err)
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		// Invalid lock file, clean it up
		_ = os.Remove(lockPath)
		return false, 0, nil
	}

	if pid == os.Getpid() {
		return false, 0, nil
	}

	// os.FindProcess always succeeds on Unix; on Windows it fails for dead PIDs
	if _, err := os.FindProcess(pid); err != nil {
		_ = os.Remove(lockPath)
		return false, 0, nil
	}

	return true, pid, nil
}
