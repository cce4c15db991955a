package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunStatus is the persisted bookkeeping of the mailing jobs: where the
// last unmailed-post window ended and when the last digest went out.
type RunStatus struct {
	LastMailWindowEnd int64     `json:"last_mail_window_end"`
	LastDigestRun     int64     `json:"last_digest_run"`
	LastUpdated       time.Time `json:"last_updated"`
}

// StatusManager manages the run status file.
type StatusManager struct {
	statusFile string
	mutex      sync.Mutex
	status     *RunStatus
}

// NewStatusManager creates a new status manager.
func NewStatusManager(statusFile string) *StatusManager {
	return &StatusManager{
		statusFile: statusFile,
		status:     &RunStatus{},
	}
}

// Load reads the status file. A missing file is fine: the jobs start from
// their default windows.
func (sm *StatusManager) Load() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	data, err := os.ReadFile(sm.statusFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read status file: %w", err)
	}
	status := &RunStatus{}
	if err := json.Unmarshal(data, status); err != nil {
		return fmt.Errorf("failed to parse status file: %w", err)
	}
	sm.status = status
	return nil
}

// Save commits the current status to the JSON file.
func (sm *StatusManager) Save() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.status.LastUpdated = time.Now()

	// Ensure the directory exists.
	dir := filepath.Dir(sm.statusFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(sm.status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := os.WriteFile(sm.statusFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	return nil
}

// LastMailWindowEnd returns where the previous unmailed-post pass stopped.
func (sm *StatusManager) LastMailWindowEnd() int64 {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.status.LastMailWindowEnd
}

// SetLastMailWindowEnd records where the current pass stopped.
func (sm *StatusManager) SetLastMailWindowEnd(end int64) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.status.LastMailWindowEnd = end
}

// LastDigestRun returns the scheduled time of the last completed digest.
func (sm *StatusManager) LastDigestRun() int64 {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.status.LastDigestRun
}

// SetLastDigestRun records the scheduled time of the completed digest.
func (sm *StatusManager) SetLastDigestRun(ts int64) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.status.LastDigestRun = ts
}
