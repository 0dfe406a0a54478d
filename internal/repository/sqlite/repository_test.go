package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord(t *testing.T, ts time.Time) *model.DetectionRecord {
	t.Helper()

	box, err := model.NewBBox(10, 20, 200, 150, 640, 480)
	require.NoError(t, err)
	plate, err := model.NewBBox(40, 60, 120, 100, 640, 480)
	require.NoError(t, err)

	return &model.DetectionRecord{
		UID:       uuid.NewString(),
		Timestamp: ts,
		VehicleBoxes: []model.VehicleDetection{
			{Box: box, Label: "car", Confidence: 0.92},
		},
		PlateBoxes: []model.PlateDetection{
			{Box: plate, Confidence: 0.81},
		},
		OCRResults: []model.OCRResult{
			{Text: "KAB1234", Confidence: 0.88, Engine: "crnn"},
		},
		AnnotatedImagePath: "/images/ann.jpg",
		CroppedPlatePaths:  []string{"/images/plate0.jpg"},
		ProcessingTimeMS:   42,
	}
}

func TestDetectionRepository_InsertRoundTrip(t *testing.T) {
	repo := NewDetectionRepository(testDB(t))

	rec := testRecord(t, time.Now().UTC())
	id, err := repo.Insert(rec)
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	got, err := repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, rec.UID, got.UID)
	assert.Equal(t, rec.VehicleBoxes, got.VehicleBoxes)
	assert.Equal(t, rec.PlateBoxes, got.PlateBoxes)
	assert.Equal(t, rec.OCRResults, got.OCRResults)
	assert.Equal(t, rec.CroppedPlatePaths, got.CroppedPlatePaths)
	assert.False(t, got.Delivered)
	assert.Nil(t, got.DeliveredAt)
}

func TestDetectionRepository_UndeliveredAndMarkDelivered(t *testing.T) {
	repo := NewDetectionRepository(testDB(t))

	now := time.Now().UTC()
	older := testRecord(t, now.Add(-time.Hour))
	newer := testRecord(t, now)
	_, err := repo.Insert(older)
	require.NoError(t, err)
	_, err = repo.Insert(newer)
	require.NoError(t, err)

	undelivered, err := repo.QueryUndelivered(10)
	require.NoError(t, err)
	require.Len(t, undelivered, 2)
	assert.Equal(t, older.UID, undelivered[0].UID, "oldest first")

	require.NoError(t, repo.MarkDelivered(older.ID, now))

	undelivered, err = repo.QueryUndelivered(10)
	require.NoError(t, err)
	require.Len(t, undelivered, 1)
	assert.Equal(t, newer.UID, undelivered[0].UID)

	got, err := repo.GetByID(older.ID)
	require.NoError(t, err)
	assert.True(t, got.Delivered)
	require.NotNil(t, got.DeliveredAt)
}

func TestDetectionRepository_QueryForEvictionPartitions(t *testing.T) {
	repo := NewDetectionRepository(testDB(t))

	now := time.Now().UTC()
	old1 := testRecord(t, now.Add(-48*time.Hour))
	old2 := testRecord(t, now.Add(-36*time.Hour))
	fresh := testRecord(t, now)

	for _, rec := range []*model.DetectionRecord{old1, old2, fresh} {
		_, err := repo.Insert(rec)
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkDelivered(old1.ID, now))

	delivered, undelivered, err := repo.QueryForEviction(now.Add(-24 * time.Hour))
	require.NoError(t, err)

	// Each old record contributes its annotated frame plus one crop.
	require.Len(t, delivered, 2)
	require.Len(t, undelivered, 2)
	for _, ref := range delivered {
		assert.Equal(t, old1.ID, ref.RecordID)
		assert.True(t, ref.Delivered)
	}
	for _, ref := range undelivered {
		assert.Equal(t, old2.ID, ref.RecordID)
		assert.False(t, ref.Delivered)
	}
}

func TestDetectionRepository_CountSince(t *testing.T) {
	repo := NewDetectionRepository(testDB(t))

	now := time.Now().UTC()
	_, err := repo.Insert(testRecord(t, now.Add(-2*time.Hour)))
	require.NoError(t, err)
	_, err = repo.Insert(testRecord(t, now))
	require.NoError(t, err)

	count, err := repo.CountSince(now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHealthRepository_AppendOnlyLog(t *testing.T) {
	repo := NewHealthRepository(testDB(t))

	now := time.Now().UTC()
	for i, status := range []model.CheckStatus{model.StatusPass, model.StatusWarn} {
		_, err := repo.Insert(&model.HealthCheckResult{
			Component: "camera",
			Status:    status,
			Message:   "check",
			Details:   map[string]string{"n": string(rune('0' + i))},
			Timestamp: now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	recent, err := repo.Recent("camera", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, model.StatusWarn, recent[0].Status, "newest first")
	assert.Equal(t, model.StatusPass, recent[1].Status, "older entries are retained, never overwritten")
}

func TestHealthRepository_DeliveryFlow(t *testing.T) {
	repo := NewHealthRepository(testDB(t))

	now := time.Now().UTC()
	res := &model.HealthCheckResult{
		Component: "disk",
		Status:    model.StatusPass,
		Timestamp: now,
	}
	id, err := repo.Insert(res)
	require.NoError(t, err)

	undelivered, err := repo.QueryUndelivered(10)
	require.NoError(t, err)
	require.Len(t, undelivered, 1)

	require.NoError(t, repo.MarkDelivered(id, now))

	undelivered, err = repo.QueryUndelivered(10)
	require.NoError(t, err)
	assert.Empty(t, undelivered)
}

func TestHealthRepository_Ping(t *testing.T) {
	repo := NewHealthRepository(testDB(t))
	assert.NoError(t, repo.Ping())
}
