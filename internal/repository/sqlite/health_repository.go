package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"platewatch/internal/model"
)

// HealthRepository implements repository.HealthRepository for SQLite.
// The health log is append-only; entries are never updated except for the
// delivered flag.
type HealthRepository struct {
	db *DB
}

// NewHealthRepository creates a new SQLite health repository.
func NewHealthRepository(db *DB) *HealthRepository {
	return &HealthRepository{db: db}
}

// Insert appends one health check result to the log.
func (r *HealthRepository) Insert(res *model.HealthCheckResult) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	details, err := json.Marshal(res.Details)
	if err != nil {
		return 0, fmt.Errorf("failed to encode details: %w", err)
	}

	result, err := r.db.Conn().Exec(`
		INSERT INTO health_checks (component, status, message, details, timestamp, delivered)
		VALUES (?, ?, ?, ?, ?, 0)
	`, res.Component, string(res.Status), res.Message, string(details), res.Timestamp.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert health check: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read insert id: %w", err)
	}
	res.ID = id
	return id, nil
}

// QueryUndelivered returns up to limit undelivered entries, oldest first.
func (r *HealthRepository) QueryUndelivered(limit int) ([]model.HealthCheckResult, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, component, status, message, details, timestamp, delivered
		FROM health_checks WHERE delivered = 0 ORDER BY timestamp ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query undelivered health checks: %w", err)
	}
	defer rows.Close()

	return scanHealthRows(rows)
}

// MarkDelivered flips the delivered flag after a confirmed ack.
func (r *HealthRepository) MarkDelivered(id int64, at time.Time) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`
		UPDATE health_checks SET delivered = 1, delivered_at = ? WHERE id = ?
	`, at.UTC(), id); err != nil {
		return fmt.Errorf("failed to mark health check delivered: %w", err)
	}
	return nil
}

// Recent returns the latest entries for one component, newest first.
func (r *HealthRepository) Recent(component string, limit int) ([]model.HealthCheckResult, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, component, status, message, details, timestamp, delivered
		FROM health_checks WHERE component = ? ORDER BY timestamp DESC LIMIT ?
	`, component, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query health log: %w", err)
	}
	defer rows.Close()

	return scanHealthRows(rows)
}

// Ping verifies the backing store is reachable.
func (r *HealthRepository) Ping() error {
	return r.db.Ping()
}

func scanHealthRows(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]model.HealthCheckResult, error) {
	var results []model.HealthCheckResult
	for rows.Next() {
		var (
			res       model.HealthCheckResult
			status    string
			details   string
			delivered int
		)
		if err := rows.Scan(&res.ID, &res.Component, &status, &res.Message, &details, &res.Timestamp, &delivered); err != nil {
			return nil, fmt.Errorf("failed to scan health check: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &res.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details: %w", err)
		}
		res.Status = model.CheckStatus(status)
		res.Delivered = delivered != 0
		results = append(results, res)
	}
	return results, rows.Err()
}
