// Package syncinfo provides functions for working with synchronization information.
package syncinfo

import (
	"os"
	"sync"
	"time"
)

// SyncInfo represents data about the last successful synchronization cycle.
type SyncInfo struct {
	LastSync time.Time // LastSync represents the timestamp of the last synchronization.
}

// SyncManager manages access to and updates of synchronization data.
type SyncManager struct {
	fileMutex sync.RWMutex // protects the file
	mu        sync.RWMutex // protects syncData
	syncData  SyncInfo
	filename  string // file where synchronization data is stored
}

// NewSyncManager creates a new SyncManager and initializes a file for
// storing synchronization data.
func NewSyncManager(fileName string) (*SyncManager, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	file.Close()

	return &SyncManager{filename: fileName}, nil
}

// UpdateSyncInfo updates synchronization data.
func (sm *SyncManager) UpdateSyncInfo(info SyncInfo) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.syncData = info
}

// GetSyncInfo returns the current synchronization data.
func (sm *SyncManager) GetSyncInfo() SyncInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.syncData
}

// SaveSyncInfoToFile saves synchronization data to a file.
func (sm *SyncManager) SaveSyncInfoToFile() error {
	sm.fileMutex.Lock()
	defer sm.fileMutex.Unlock()

	lastSyncStr := sm.GetSyncInfo().LastSync.Format(time.RFC3339)
	return os.WriteFile(sm.filename, []byte(lastSyncStr), 0644)
}

// UpdateAndSaveSyncInfo updates and saves synchronization data.
func (sm *SyncManager) UpdateAndSaveSyncInfo(info SyncInfo) error {
	sm.UpdateSyncInfo(info)
	return sm.SaveSyncInfoToFile()
}

// LoadAndUpdateLastSyncFromFile loads the last synchronization time from the
// file, updates SyncInfo, and returns it. An empty file yields a zero time.
func (sm *SyncManager) LoadAndUpdateLastSyncFromFile() (time.Time, error) {
	sm.fileMutex.RLock()
	fileContent, err := os.ReadFile(sm.filename)
	sm.fileMutex.RUnlock()
	if err != nil {
		return time.Time{}, err
	}
	if len(fileContent) == 0 {
		return time.Time{}, nil
	}

	lastSync, err := time.Parse(time.RFC3339, string(fileContent))
	if err != nil {
		return time.Time{}, err
	}

	sm.UpdateSyncInfo(SyncInfo{LastSync: lastSync})
	return lastSync, nil
}
