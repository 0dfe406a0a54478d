package model

import "time"

// CheckStatus is the outcome of a single health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// OverallStatus is the aggregated health of the whole node.
type OverallStatus string

const (
	OverallHealthy  OverallStatus = "healthy"
	OverallWarning  OverallStatus = "warning"
	OverallCritical OverallStatus = "critical"
	OverallError    OverallStatus = "error"
)

// HealthCheckResult is one append-only entry in the health log.
type HealthCheckResult struct {
	ID        int64             `json:"id"`
	Component string            `json:"component"`
	Status    CheckStatus       `json:"status"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Delivered bool              `json:"delivered"`
}

// AlertLevel classifies a storage alert.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// StorageAlert is an ephemeral, in-memory alert raised by the evictor.
type StorageAlert struct {
	Level     AlertLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}
