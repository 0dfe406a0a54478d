package repository

import (
	"time"

	"platewatch/internal/model"
)

// FileRef points at one on-disk image belonging to a detection record.
// The evictor deletes files, never records.
type FileRef struct {
	RecordID  int64
	Path      string
	Delivered bool
}

// DetectionRepository persists detection records and answers the queries
// the evictor and the delivery sender need.
type DetectionRepository interface {
	// Insert stores a new record and returns its row id.
	Insert(rec *model.DetectionRecord) (int64, error)
	// GetByID fetches one record.
	GetByID(id int64) (*model.DetectionRecord, error)
	// QueryUndelivered returns up to limit records with delivered=false,
	// oldest first.
	QueryUndelivered(limit int) ([]model.DetectionRecord, error)
	// MarkDelivered flips the delivered flag. The only mutation a record
	// ever sees.
	MarkDelivered(id int64, at time.Time) error
	// QueryForEviction returns the file paths of records older than
	// cutoff, partitioned by delivery status.
	QueryForEviction(cutoff time.Time) (delivered, undelivered []FileRef, err error)
	// CountSince reports how many records were created at or after t.
	CountSince(t time.Time) (int, error)
}

// HealthRepository is the append-only health log.
type HealthRepository interface {
	Insert(res *model.HealthCheckResult) (int64, error)
	QueryUndelivered(limit int) ([]model.HealthCheckResult, error)
	MarkDelivered(id int64, at time.Time) error
	// Recent returns the latest entries for one component, newest first.
	Recent(component string, limit int) ([]model.HealthCheckResult, error)
	// Ping verifies the backing store is reachable.
	Ping() error
}
