package storage

import (
	"sync"
	"time"

	"platewatch/internal/model"
)

// AlertRing keeps the most recent storage alerts in memory. Alerts are
// ephemeral: they live until an operator clears them or they rotate out.
type AlertRing struct {
	mu     sync.Mutex
	alerts []model.StorageAlert
	limit  int
}

// NewAlertRing creates a ring holding up to limit alerts.
func NewAlertRing(limit int) *AlertRing {
	return &AlertRing{limit: limit}
}

// Add appends an alert, dropping the oldest when full.
func (r *AlertRing) Add(level model.AlertLevel, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.alerts = append(r.alerts, model.StorageAlert{
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	if len(r.alerts) > r.limit {
		r.alerts = r.alerts[len(r.alerts)-r.limit:]
	}
}

// List returns a copy of the current alerts, oldest first.
func (r *AlertRing) List() []model.StorageAlert {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.StorageAlert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Clear drops all alerts. Operator action.
func (r *AlertRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = nil
}
