package storage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"platewatch/internal/model"
	"platewatch/internal/repository"
)

const bytesPerGB = 1024 * 1024 * 1024

// EvictorConfig tunes the disk sweep.
type EvictorConfig struct {
	MinFreeGB     float64
	RetentionDays int
	BatchSize     int
	Interval      time.Duration
}

// SweepResult summarizes one eviction sweep.
type SweepResult struct {
	TotalDeleted       int   `json:"total_deleted"`
	DeliveredDeleted   int   `json:"delivered_deleted"`
	UndeliveredDeleted int   `json:"undelivered_deleted"`
	BytesFreed         int64 `json:"bytes_freed"`
}

// Status is a read-only view of the evictor for the dashboard and the
// storage health check.
type Status struct {
	FreeGB     float64              `json:"free_gb"`
	MinFreeGB  float64              `json:"min_free_gb"`
	LastSweep  time.Time            `json:"last_sweep"`
	LastResult SweepResult          `json:"last_result"`
	Alerts     []model.StorageAlert `json:"alerts"`
}

// usageFunc matches gopsutil's disk.Usage, injectable for tests.
type usageFunc func(path string) (*disk.UsageStat, error)

// Evictor keeps free disk space above the configured floor by deleting
// retention-expired image files. Delivered files go first; undelivered
// data is only touched when delivered files alone cannot free enough.
// Records are never deleted, only their files.
type Evictor struct {
	repo   repository.DetectionRepository
	dir    string
	alerts *AlertRing
	log    zerolog.Logger

	usage  usageFunc
	remove func(string) error
	stat   func(string) (os.FileInfo, error)

	mu         sync.Mutex
	cfg        EvictorConfig
	lastSweep  time.Time
	lastResult SweepResult
}

// NewEvictor builds an evictor sweeping dir.
func NewEvictor(repo repository.DetectionRepository, dir string, cfg EvictorConfig, alerts *AlertRing, log zerolog.Logger) *Evictor {
	return &Evictor{
		repo:   repo,
		dir:    dir,
		alerts: alerts,
		log:    log,
		cfg:    cfg,
		usage:  disk.Usage,
		remove: os.Remove,
		stat:   os.Stat,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (e *Evictor) Run(ctx context.Context) {
	e.mu.Lock()
	interval := e.cfg.Interval
	e.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(); err != nil {
				e.log.Error().Err(err).Msg("eviction sweep failed")
			}
		}
	}
}

// Sweep performs one eviction pass. A no-op when free space is above the
// floor.
func (e *Evictor) Sweep() (SweepResult, error) {
	usage, err := e.usage(e.dir)
	if err != nil {
		return SweepResult{}, fmt.Errorf("read disk usage for %s: %w", e.dir, err)
	}

	e.mu.Lock()
	minFree := e.cfg.MinFreeGB
	e.mu.Unlock()

	freeGB := float64(usage.Free) / bytesPerGB
	if freeGB >= minFree {
		e.recordSweep(SweepResult{})
		return SweepResult{}, nil
	}

	e.log.Info().Float64("free_gb", freeGB).Float64("min_free_gb", minFree).
		Msg("free space below floor, evicting")
	e.alerts.Add(model.AlertWarning,
		fmt.Sprintf("free space %.2f GB below floor %.2f GB", freeGB, minFree))

	result, err := e.evict()
	if err != nil {
		return result, err
	}

	if result.UndeliveredDeleted > 0 {
		e.alerts.Add(model.AlertCritical,
			fmt.Sprintf("deleted %d undelivered files to reclaim space", result.UndeliveredDeleted))
	}

	e.recordSweep(result)
	return result, nil
}

// TriggerCleanup runs one eviction pass regardless of free space.
// Operator command.
func (e *Evictor) TriggerCleanup() (SweepResult, error) {
	result, err := e.evict()
	if err != nil {
		return result, err
	}
	e.recordSweep(result)
	return result, nil
}

// evict deletes up to BatchSize retention-expired files, delivered
// partition first, oldest files (by mtime) first within each partition.
func (e *Evictor) evict() (SweepResult, error) {
	e.mu.Lock()
	retention := e.cfg.RetentionDays
	batch := e.cfg.BatchSize
	e.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(retention) * 24 * time.Hour)
	delivered, undelivered, err := e.repo.QueryForEviction(cutoff)
	if err != nil {
		return SweepResult{}, fmt.Errorf("query eviction candidates: %w", err)
	}

	var result SweepResult
	budget := batch

	for _, partition := range [][]repository.FileRef{delivered, undelivered} {
		if budget <= 0 {
			break
		}
		deleted, freed := e.deleteOldest(partition, budget)
		budget -= deleted
		result.TotalDeleted += deleted
		result.BytesFreed += freed
		if len(partition) > 0 && partition[0].Delivered {
			result.DeliveredDeleted += deleted
		} else {
			result.UndeliveredDeleted += deleted
		}
	}

	e.log.Info().Int("total", result.TotalDeleted).
		Int("delivered", result.DeliveredDeleted).
		Int("undelivered", result.UndeliveredDeleted).
		Int64("bytes_freed", result.BytesFreed).
		Msg("eviction pass complete")
	return result, nil
}

type evictionFile struct {
	ref     repository.FileRef
	size    int64
	modTime time.Time
}

// deleteOldest removes up to budget files from one partition, oldest
// mtime first. Paths that no longer exist are skipped silently; the
// record outlives its files by design.
func (e *Evictor) deleteOldest(refs []repository.FileRef, budget int) (deleted int, freed int64) {
	files := make([]evictionFile, 0, len(refs))
	for _, ref := range refs {
		info, err := e.stat(ref.Path)
		if err != nil {
			continue
		}
		files = append(files, evictionFile{ref: ref, size: info.Size(), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	for _, f := range files {
		if deleted >= budget {
			break
		}
		if err := e.remove(f.ref.Path); err != nil {
			e.log.Warn().Err(err).Str("path", f.ref.Path).Msg("file delete failed")
			continue
		}
		e.log.Debug().Str("path", f.ref.Path).Int64("record_id", f.ref.RecordID).
			Bool("delivered", f.ref.Delivered).Msg("evicted file, record retained")
		deleted++
		freed += f.size
	}
	return deleted, freed
}

func (e *Evictor) recordSweep(result SweepResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSweep = time.Now().UTC()
	e.lastResult = result
}

// UpdateConfig replaces the sweep tunables at runtime. Operator command.
func (e *Evictor) UpdateConfig(cfg EvictorConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.Interval <= 0 {
		cfg.Interval = e.cfg.Interval
	}
	e.cfg = cfg
	e.log.Info().Float64("min_free_gb", cfg.MinFreeGB).Int("retention_days", cfg.RetentionDays).
		Int("batch_size", cfg.BatchSize).Msg("storage config updated")
}

// Config returns the current sweep tunables.
func (e *Evictor) Config() EvictorConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Status reports free space, last sweep and pending alerts.
func (e *Evictor) Status() Status {
	var freeGB float64
	if usage, err := e.usage(e.dir); err == nil {
		freeGB = float64(usage.Free) / bytesPerGB
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		FreeGB:     freeGB,
		MinFreeGB:  e.cfg.MinFreeGB,
		LastSweep:  e.lastSweep,
		LastResult: e.lastResult,
		Alerts:     e.alerts.List(),
	}
}

// LastSweep reports when the evictor last completed a pass. Used by the
// storage health check to detect a stalled loop.
func (e *Evictor) LastSweep() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSweep
}

// ClearAlerts drops all pending storage alerts. Operator command.
func (e *Evictor) ClearAlerts() {
	e.alerts.Clear()
}
