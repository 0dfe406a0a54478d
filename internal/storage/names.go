package storage

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// imageStampLayout is the timestamp prefix the pipeline puts on every
// image it writes.
const imageStampLayout = "20060102_150405.000"

// ImageName is a parsed pipeline image filename:
// <stamp>_<uid>.jpg for the annotated frame,
// <stamp>_<uid>_plate<N>.jpg for a plate crop.
type ImageName struct {
	Timestamp  time.Time
	UID        string
	PlateIndex int // -1 for the annotated frame
}

// ParseImageName decodes a pipeline image filename. Files written by
// anything else come back as an error and are skipped by the caller.
func ParseImageName(filename string) (ImageName, error) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	if base == filename {
		return ImageName{}, fmt.Errorf("no file extension in %q", filename)
	}

	// The stamp itself contains one underscore.
	parts := strings.SplitN(base, "_", 3)
	if len(parts) < 3 {
		return ImageName{}, fmt.Errorf("unrecognized image name %q", filename)
	}

	ts, err := time.Parse(imageStampLayout, parts[0]+"_"+parts[1])
	if err != nil {
		return ImageName{}, fmt.Errorf("bad timestamp in %q: %w", filename, err)
	}

	name := ImageName{Timestamp: ts, UID: parts[2], PlateIndex: -1}
	if idx := strings.LastIndex(parts[2], "_plate"); idx >= 0 {
		n, err := strconv.Atoi(parts[2][idx+len("_plate"):])
		if err != nil {
			return ImageName{}, fmt.Errorf("bad plate index in %q: %w", filename, err)
		}
		name.UID = parts[2][:idx]
		name.PlateIndex = n
	}

	if name.UID == "" {
		return ImageName{}, fmt.Errorf("empty uid in %q", filename)
	}
	return name, nil
}
