package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"platewatch/internal/model"
	"platewatch/internal/repository"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
// Box and OCR slices are stored as JSON columns.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// Insert adds a new detection record to the database.
func (r *DetectionRepository) Insert(rec *model.DetectionRecord) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	vehicles, err := json.Marshal(rec.VehicleBoxes)
	if err != nil {
		return 0, fmt.Errorf("failed to encode vehicle boxes: %w", err)
	}
	plates, err := json.Marshal(rec.PlateBoxes)
	if err != nil {
		return 0, fmt.Errorf("failed to encode plate boxes: %w", err)
	}
	ocr, err := json.Marshal(rec.OCRResults)
	if err != nil {
		return 0, fmt.Errorf("failed to encode ocr results: %w", err)
	}
	paths, err := json.Marshal(rec.CroppedPlatePaths)
	if err != nil {
		return 0, fmt.Errorf("failed to encode plate paths: %w", err)
	}

	result, err := r.db.Conn().Exec(`
		INSERT INTO detections (uid, timestamp, vehicle_boxes, plate_boxes, ocr_results,
			annotated_path, plate_paths, processing_ms, delivered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, rec.UID, rec.Timestamp.UTC(), string(vehicles), string(plates), string(ocr),
		rec.AnnotatedImagePath, string(paths), rec.ProcessingTimeMS)
	if err != nil {
		return 0, fmt.Errorf("failed to insert detection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read insert id: %w", err)
	}
	rec.ID = id
	return id, nil
}

const detectionColumns = `id, uid, timestamp, vehicle_boxes, plate_boxes, ocr_results,
	annotated_path, plate_paths, processing_ms, delivered, delivered_at`

func scanDetection(row interface{ Scan(...any) error }) (*model.DetectionRecord, error) {
	var (
		rec         model.DetectionRecord
		vehicles    string
		plates      string
		ocr         string
		paths       string
		delivered   int
		deliveredAt sql.NullTime
	)

	if err := row.Scan(&rec.ID, &rec.UID, &rec.Timestamp, &vehicles, &plates, &ocr,
		&rec.AnnotatedImagePath, &paths, &rec.ProcessingTimeMS, &delivered, &deliveredAt); err != nil {
		return nil, fmt.Errorf("failed to scan detection: %w", err)
	}

	if err := json.Unmarshal([]byte(vehicles), &rec.VehicleBoxes); err != nil {
		return nil, fmt.Errorf("failed to decode vehicle boxes: %w", err)
	}
	if err := json.Unmarshal([]byte(plates), &rec.PlateBoxes); err != nil {
		return nil, fmt.Errorf("failed to decode plate boxes: %w", err)
	}
	if err := json.Unmarshal([]byte(ocr), &rec.OCRResults); err != nil {
		return nil, fmt.Errorf("failed to decode ocr results: %w", err)
	}
	if err := json.Unmarshal([]byte(paths), &rec.CroppedPlatePaths); err != nil {
		return nil, fmt.Errorf("failed to decode plate paths: %w", err)
	}

	rec.Delivered = delivered != 0
	if deliveredAt.Valid {
		t := deliveredAt.Time
		rec.DeliveredAt = &t
	}
	return &rec, nil
}

// GetByID retrieves a single detection record.
func (r *DetectionRepository) GetByID(id int64) (*model.DetectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`SELECT `+detectionColumns+` FROM detections WHERE id = ?`, id)
	return scanDetection(row)
}

// QueryUndelivered returns up to limit undelivered records, oldest first.
func (r *DetectionRepository) QueryUndelivered(limit int) ([]model.DetectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT `+detectionColumns+` FROM detections
		WHERE delivered = 0 ORDER BY timestamp ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query undelivered detections: %w", err)
	}
	defer rows.Close()

	var records []model.DetectionRecord
	for rows.Next() {
		rec, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// MarkDelivered flips the delivered flag after a confirmed ack.
func (r *DetectionRepository) MarkDelivered(id int64, at time.Time) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`
		UPDATE detections SET delivered = 1, delivered_at = ? WHERE id = ?
	`, at.UTC(), id); err != nil {
		return fmt.Errorf("failed to mark detection delivered: %w", err)
	}
	return nil
}

// QueryForEviction returns file paths of records older than cutoff,
// partitioned by delivery status. Every stored path (annotated frame and
// plate crops) becomes its own FileRef.
func (r *DetectionRepository) QueryForEviction(cutoff time.Time) (delivered, undelivered []repository.FileRef, err error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, annotated_path, plate_paths, delivered FROM detections
		WHERE timestamp < ? ORDER BY timestamp ASC
	`, cutoff.UTC())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query eviction candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id            int64
			annotated     string
			platePaths    string
			deliveredFlag int
		)
		if err := rows.Scan(&id, &annotated, &platePaths, &deliveredFlag); err != nil {
			return nil, nil, fmt.Errorf("failed to scan eviction candidate: %w", err)
		}

		var crops []string
		if err := json.Unmarshal([]byte(platePaths), &crops); err != nil {
			return nil, nil, fmt.Errorf("failed to decode plate paths: %w", err)
		}

		paths := make([]string, 0, len(crops)+1)
		if annotated != "" {
			paths = append(paths, annotated)
		}
		paths = append(paths, crops...)

		for _, p := range paths {
			ref := repository.FileRef{RecordID: id, Path: p, Delivered: deliveredFlag != 0}
			if ref.Delivered {
				delivered = append(delivered, ref)
			} else {
				undelivered = append(undelivered, ref)
			}
		}
	}
	return delivered, undelivered, rows.Err()
}

// CountSince reports how many records were created at or after t.
func (r *DetectionRepository) CountSince(t time.Time) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRow(`
		SELECT COUNT(*) FROM detections WHERE timestamp >= ?
	`, t.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return count, nil
}
