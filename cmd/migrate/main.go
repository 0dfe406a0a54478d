package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"platewatch/internal/model"
	"platewatch/internal/repository/sqlite"
	"platewatch/internal/storage"
)

// Backfills detection rows from an images directory, for recovering a
// database lost or rebuilt while the image files survived. OCR text and
// boxes are gone; the rows carry the uid, timestamp and file paths so
// eviction and delivery can account for the files again.
func main() {
	imagesDir := flag.String("images", "images", "Directory containing captured images")
	dbPath := flag.String("db", filepath.Join("data", "platewatch.db"), "Database path")
	flag.Parse()

	fmt.Printf("Backfilling detections from %s into %s\n", *imagesDir, *dbPath)

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	detections := sqlite.NewDetectionRepository(db)

	files, err := os.ReadDir(*imagesDir)
	if err != nil {
		log.Fatalf("Failed to read images directory: %v", err)
	}

	type group struct {
		record model.DetectionRecord
		crops  map[int]string
	}
	groups := map[string]*group{}
	skipped := 0

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".jpg" {
			continue
		}

		name, err := storage.ParseImageName(file.Name())
		if err != nil {
			log.Printf("Skipping %s: %v", file.Name(), err)
			skipped++
			continue
		}

		g, ok := groups[name.UID]
		if !ok {
			g = &group{
				record: model.DetectionRecord{UID: name.UID, Timestamp: name.Timestamp},
				crops:  map[int]string{},
			}
			groups[name.UID] = g
		}

		path := filepath.Join(*imagesDir, file.Name())
		if name.PlateIndex < 0 {
			g.record.AnnotatedImagePath = path
		} else {
			g.crops[name.PlateIndex] = path
		}
	}

	if len(groups) == 0 {
		fmt.Println("No images found to backfill")
		return
	}

	inserted, duplicates := 0, 0
	for _, g := range groups {
		indexes := make([]int, 0, len(g.crops))
		for i := range g.crops {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			g.record.CroppedPlatePaths = append(g.record.CroppedPlatePaths, g.crops[i])
		}

		if _, err := detections.Insert(&g.record); err != nil {
			// Most likely the uid already exists; the record is current.
			duplicates++
			continue
		}
		inserted++
	}

	fmt.Printf("Backfilled %d detections (%d already present, %d files skipped)\n",
		inserted, duplicates, skipped)
}
