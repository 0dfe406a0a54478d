package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type pendingImage struct {
	path string
	data []byte
}

// ImageWriter buffers captured images in memory and flushes them to disk
// on a ticker, so the detection pipeline never blocks on file IO. Write
// returns the final path immediately; the file appears on the next flush.
type ImageWriter struct {
	dir         string
	bufferLimit int
	log         zerolog.Logger

	mu     sync.Mutex
	images []pendingImage
}

// NewImageWriter creates a writer rooted at dir.
func NewImageWriter(dir string, bufferLimit int, log zerolog.Logger) *ImageWriter {
	return &ImageWriter{
		dir:         dir,
		bufferLimit: bufferLimit,
		log:         log,
	}
}

// Run flushes the buffer every flushInterval until ctx is cancelled, then
// flushes one final time.
func (w *ImageWriter) Run(ctx context.Context, flushInterval time.Duration) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Flush()
			return
		case <-ticker.C:
			w.Flush()
		}
	}
}

// Write queues an image and returns the path it will be written to. When
// the buffer is full the image is dropped and an error returned; losing a
// snapshot beats blocking the pipeline.
func (w *ImageWriter) Write(filename string, data []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.dir, filename)
	if len(w.images) >= w.bufferLimit {
		return "", fmt.Errorf("image buffer full (%d pending), dropping %s", len(w.images), filename)
	}

	w.images = append(w.images, pendingImage{path: path, data: data})
	return path, nil
}

// Flush writes all buffered images to disk.
func (w *ImageWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.images) == 0 {
		return
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.log.Error().Err(err).Str("dir", w.dir).Msg("cannot create image directory")
		return
	}

	written := 0
	for _, img := range w.images {
		if err := os.WriteFile(img.path, img.data, 0o644); err != nil {
			w.log.Error().Err(err).Str("path", img.path).Msg("image write failed")
			continue
		}
		written++
	}

	w.log.Debug().Int("written", written).Int("pending", len(w.images)).Msg("flushed images")
	w.images = w.images[:0]
}

// Pending reports how many images wait in the buffer.
func (w *ImageWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.images)
}

// Dir returns the directory the writer flushes into.
func (w *ImageWriter) Dir() string {
	return w.dir
}
