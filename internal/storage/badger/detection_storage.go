package badger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/shelfwatch/shelfwatch/internal/interfaces"
	"github.com/shelfwatch/shelfwatch/internal/models"
)

// DetectionStorage is the append-only detection audit trail plus the
// per-solution effectiveness counters, both on one Badger store.
type DetectionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDetectionStorage creates a DetectionStorage instance.
func NewDetectionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DetectionStore {
	return &DetectionStorage{
		db:     db,
		logger: logger,
	}
}

// AppendDetection inserts a new audit record. Records are never updated or
// deleted; a duplicate id is an error, not an overwrite.
func (s *DetectionStorage) AppendDetection(record *models.DetectionRecord) error {
	if record.ID == "" {
		return fmt.Errorf("detection record must have an id")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	if err := s.db.Store().Insert(record.ID, record); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("detection %s already recorded: %w", record.ID, err)
		}
		return fmt.Errorf("failed to append detection: %w", err)
	}

	return nil
}

// RecentDetections returns the newest audit records first.
func (s *DetectionStorage) RecentDetections(limit int) ([]models.DetectionRecord, error) {
	var records []models.DetectionRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// GetEffectiveness returns the counters for a solution, zeroed when the
// solution has never been applied.
func (s *DetectionStorage) GetEffectiveness(solutionID string) (*models.SolutionEffectiveness, error) {
	var eff models.SolutionEffectiveness
	err := s.db.Store().Get(solutionID, &eff)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return &models.SolutionEffectiveness{SolutionID: solutionID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get effectiveness for %s: %w", solutionID, err)
	}
	return &eff, nil
}

// RecordApplication increments the application counters for a solution.
func (s *DetectionStorage) RecordApplication(solutionID string, success bool) error {
	eff, err := s.GetEffectiveness(solutionID)
	if err != nil {
		return err
	}

	eff.Applications++
	if success {
		eff.Successes++
	}
	eff.LastApplied = time.Now()

	if err := s.db.Store().Upsert(solutionID, eff); err != nil {
		return fmt.Errorf("failed to record application for %s: %w", solutionID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *DetectionStorage) Close() error {
	return s.db.Close()
}
