// Package state loads and saves the poster snapshot: queue, dedup store and counters.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/models"
	"github.com/azure/arxiv-poster-bot/internal/storage"
	"github.com/sirupsen/logrus"
)

// DefaultFile is the snapshot object name.
const DefaultFile = "arxiv_state.json"

// Snapshot is the complete persisted state, fully overwritten on every save.
type Snapshot struct {
	SavedAt  time.Time            `json:"saved_at"`
	Queue    []models.Item        `json:"queue"`
	Posted   map[string]time.Time `json:"posted"`
	Counters models.Counters      `json:"counters"`
}

// Empty returns the safe fresh-state default.
func Empty() Snapshot {
	return Snapshot{
		Queue:  []models.Item{},
		Posted: map[string]time.Time{},
	}
}

// Persister reads and writes snapshots through a storage backend.
type Persister struct {
	storage storage.StorageInterface
	file    string
}

// NewPersister creates a persister writing to file (DefaultFile when empty).
func NewPersister(store storage.StorageInterface, file string) *Persister {
	if file == "" {
		file = DefaultFile
	}
	return &Persister{storage: store, file: file}
}

// Load returns the stored snapshot, or an empty one when the snapshot is missing or unreadable.
func (p *Persister) Load() Snapshot {
	data, err := p.storage.Retrieve(p.file)
	if err != nil {
		if storage.IsNotFound(err) {
			logrus.Infof("No snapshot at %s, starting with empty state", p.file)
		} else {
			logrus.Warnf("Failed to read snapshot %s, starting with empty state: %v", p.file, err)
		}
		return Empty()
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logrus.Errorf("Snapshot %s is corrupt, starting with empty state: %v", p.file, err)
		return Empty()
	}
	if snap.Queue == nil {
		snap.Queue = []models.Item{}
	}
	if snap.Posted == nil {
		snap.Posted = map[string]time.Time{}
	}

	logrus.WithFields(logrus.Fields{
		"queued": len(snap.Queue),
		"posted": len(snap.Posted),
		"saved":  snap.SavedAt,
	}).Info("Loaded snapshot")
	return snap
}

// Save writes the snapshot, replacing the previous one atomically.
func (p *Persister) Save(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := p.storage.Store(p.file, data); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}
