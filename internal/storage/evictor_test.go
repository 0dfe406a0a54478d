package storage

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/logger"
	"platewatch/internal/model"
	"platewatch/internal/repository"
)

type fakeDetectionRepo struct {
	delivered   []repository.FileRef
	undelivered []repository.FileRef
	queryErr    error
}

func (f *fakeDetectionRepo) Insert(*model.DetectionRecord) (int64, error) { return 0, nil }
func (f *fakeDetectionRepo) GetByID(int64) (*model.DetectionRecord, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeDetectionRepo) QueryUndelivered(int) ([]model.DetectionRecord, error) {
	return nil, nil
}
func (f *fakeDetectionRepo) MarkDelivered(int64, time.Time) error { return nil }
func (f *fakeDetectionRepo) QueryForEviction(time.Time) ([]repository.FileRef, []repository.FileRef, error) {
	return f.delivered, f.undelivered, f.queryErr
}
func (f *fakeDetectionRepo) CountSince(time.Time) (int, error) { return 0, nil }

type fakeFileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() os.FileMode  { return 0o644 }
func (f fakeFileInfo) ModTime() time.Time { return f.modTime }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() any           { return nil }

// evictorFixture wires an Evictor against an in-memory filesystem.
type evictorFixture struct {
	evictor *Evictor
	mu      sync.Mutex
	files   map[string]fakeFileInfo
	removed []string
	freeGB  float64
}

func newFixture(t *testing.T, repo *fakeDetectionRepo, cfg EvictorConfig, freeGB float64) *evictorFixture {
	t.Helper()

	fx := &evictorFixture{
		files:  map[string]fakeFileInfo{},
		freeGB: freeGB,
	}
	ev := NewEvictor(repo, "/images", cfg, NewAlertRing(16), logger.Nop())
	ev.usage = func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Free: uint64(fx.freeGB * bytesPerGB)}, nil
	}
	ev.stat = func(path string) (os.FileInfo, error) {
		fx.mu.Lock()
		defer fx.mu.Unlock()
		info, ok := fx.files[path]
		if !ok {
			return nil, os.ErrNotExist
		}
		return info, nil
	}
	ev.remove = func(path string) error {
		fx.mu.Lock()
		defer fx.mu.Unlock()
		if _, ok := fx.files[path]; !ok {
			return os.ErrNotExist
		}
		delete(fx.files, path)
		fx.removed = append(fx.removed, path)
		return nil
	}
	fx.evictor = ev
	return fx
}

func (fx *evictorFixture) addFile(path string, size int64, modTime time.Time) {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	fx.files[path] = fakeFileInfo{name: path, size: size, modTime: modTime}
}

func TestEvictor_NoOpAboveFloor(t *testing.T) {
	repo := &fakeDetectionRepo{
		delivered: []repository.FileRef{{RecordID: 1, Path: "/images/a.jpg", Delivered: true}},
	}
	fx := newFixture(t, repo, EvictorConfig{MinFreeGB: 2, RetentionDays: 7, BatchSize: 10}, 5.0)
	fx.addFile("/images/a.jpg", 100, time.Now())

	result, err := fx.evictor.Sweep()
	require.NoError(t, err)
	assert.Zero(t, result.TotalDeleted)
	assert.Empty(t, fx.removed)
}

func TestEvictor_DeliveredFirstThenUndeliveredWithinBatch(t *testing.T) {
	base := time.Now().Add(-30 * 24 * time.Hour)

	repo := &fakeDetectionRepo{}
	fx := newFixture(t, repo, EvictorConfig{MinFreeGB: 2, RetentionDays: 7, BatchSize: 6}, 0.5)

	// 5 delivered and 5 undelivered retention-eligible files.
	for i := 0; i < 5; i++ {
		dp := "/images/delivered" + string(rune('0'+i)) + ".jpg"
		up := "/images/undelivered" + string(rune('0'+i)) + ".jpg"
		repo.delivered = append(repo.delivered,
			repository.FileRef{RecordID: int64(i), Path: dp, Delivered: true})
		repo.undelivered = append(repo.undelivered,
			repository.FileRef{RecordID: int64(10 + i), Path: up, Delivered: false})
		// Undelivered files are older than delivered ones; ordering must
		// still prefer the delivered partition.
		fx.addFile(dp, 1000, base.Add(time.Duration(i)*time.Hour))
		fx.addFile(up, 1000, base.Add(-time.Duration(10-i)*time.Hour))
	}

	result, err := fx.evictor.Sweep()
	require.NoError(t, err)

	assert.Equal(t, 6, result.TotalDeleted)
	assert.Equal(t, 5, result.DeliveredDeleted, "every delivered file goes first")
	assert.Equal(t, 1, result.UndeliveredDeleted, "exactly one undelivered file fills the batch")
	assert.Equal(t, int64(6000), result.BytesFreed)

	// The single undelivered deletion must be the oldest one.
	fx.mu.Lock()
	defer fx.mu.Unlock()
	assert.NotContains(t, fx.files, "/images/undelivered0.jpg")
	for i := 1; i < 5; i++ {
		assert.Contains(t, fx.files, "/images/undelivered"+string(rune('0'+i))+".jpg")
	}
}

func TestEvictor_OldestModTimeFirstWithinPartition(t *testing.T) {
	base := time.Now().Add(-30 * 24 * time.Hour)

	repo := &fakeDetectionRepo{
		delivered: []repository.FileRef{
			{RecordID: 1, Path: "/images/new.jpg", Delivered: true},
			{RecordID: 2, Path: "/images/old.jpg", Delivered: true},
			{RecordID: 3, Path: "/images/mid.jpg", Delivered: true},
		},
	}
	fx := newFixture(t, repo, EvictorConfig{MinFreeGB: 2, RetentionDays: 7, BatchSize: 2}, 0.5)
	fx.addFile("/images/new.jpg", 10, base.Add(3*time.Hour))
	fx.addFile("/images/old.jpg", 10, base)
	fx.addFile("/images/mid.jpg", 10, base.Add(time.Hour))

	result, err := fx.evictor.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalDeleted)
	assert.Equal(t, []string{"/images/old.jpg", "/images/mid.jpg"}, fx.removed)
}

func TestEvictor_SkipsMissingFiles(t *testing.T) {
	repo := &fakeDetectionRepo{
		delivered: []repository.FileRef{
			{RecordID: 1, Path: "/images/gone.jpg", Delivered: true},
			{RecordID: 2, Path: "/images/here.jpg", Delivered: true},
		},
	}
	fx := newFixture(t, repo, EvictorConfig{MinFreeGB: 2, RetentionDays: 7, BatchSize: 10}, 0.5)
	fx.addFile("/images/here.jpg", 10, time.Now().Add(-30*24*time.Hour))

	result, err := fx.evictor.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalDeleted)
	assert.Equal(t, []string{"/images/here.jpg"}, fx.removed)
}

func TestEvictor_RaisesCriticalAlertOnUndeliveredDeletion(t *testing.T) {
	repo := &fakeDetectionRepo{
		undelivered: []repository.FileRef{{RecordID: 1, Path: "/images/u.jpg", Delivered: false}},
	}
	fx := newFixture(t, repo, EvictorConfig{MinFreeGB: 2, RetentionDays: 7, BatchSize: 10}, 0.5)
	fx.addFile("/images/u.jpg", 10, time.Now().Add(-30*24*time.Hour))

	_, err := fx.evictor.Sweep()
	require.NoError(t, err)

	alerts := fx.evictor.Status().Alerts
	require.NotEmpty(t, alerts)
	assert.Equal(t, model.AlertCritical, alerts[len(alerts)-1].Level)
}

func TestEvictor_TriggerCleanupIgnoresFloor(t *testing.T) {
	repo := &fakeDetectionRepo{
		delivered: []repository.FileRef{{RecordID: 1, Path: "/images/a.jpg", Delivered: true}},
	}
	fx := newFixture(t, repo, EvictorConfig{MinFreeGB: 2, RetentionDays: 7, BatchSize: 10}, 50.0)
	fx.addFile("/images/a.jpg", 10, time.Now().Add(-30*24*time.Hour))

	result, err := fx.evictor.TriggerCleanup()
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalDeleted, "manual cleanup runs even with plenty of free space")
}

func TestEvictor_UpdateConfig(t *testing.T) {
	fx := newFixture(t, &fakeDetectionRepo{},
		EvictorConfig{MinFreeGB: 2, RetentionDays: 7, BatchSize: 10, Interval: time.Minute}, 5.0)

	fx.evictor.UpdateConfig(EvictorConfig{MinFreeGB: 4, RetentionDays: 3, BatchSize: 5})

	cfg := fx.evictor.Config()
	assert.Equal(t, 4.0, cfg.MinFreeGB)
	assert.Equal(t, 3, cfg.RetentionDays)
	assert.Equal(t, time.Minute, cfg.Interval, "zero interval keeps the previous value")
}
