package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"platewatch/internal/camera"
	"platewatch/internal/config"
	"platewatch/internal/delivery"
	"platewatch/internal/detect"
	"platewatch/internal/health"
	"platewatch/internal/logger"
	"platewatch/internal/readiness"
	"platewatch/internal/repository/sqlite"
	"platewatch/internal/storage"
)

// imageBufferLimit bounds the in-memory write buffer before frames are
// dropped rather than ballooning memory on slow disks.
const imageBufferLimit = 256

// App owns every component of the capture node and is the only surface
// the entry point and any future control plane talk to.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	db         *sqlite.DB
	detections *sqlite.DetectionRepository
	healthLog  *sqlite.HealthRepository

	camera    *camera.Manager
	pipeline  *detect.Pipeline
	scheduler *detect.Scheduler
	tesseract *detect.TesseractEngine

	images  *storage.ImageWriter
	evictor *storage.Evictor

	monitor   *health.Monitor
	sequencer *readiness.Sequencer
	sender    *delivery.Sender

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DetectionStatus is the outward view of the detection side: the
// pipeline counters plus the scheduler and readiness state.
type DetectionStatus struct {
	Pipeline    detect.Status    `json:"pipeline"`
	Running     bool             `json:"running"`
	WorkerAlive bool             `json:"worker_alive"`
	Readiness   readiness.Status `json:"readiness"`
	LastHour    int              `json:"last_hour"` // records persisted in the past hour
}

// StorageStatus extends the evictor view with the image writer backlog.
type StorageStatus struct {
	storage.Status
	PendingImages int `json:"pending_images"`
}

// New wires the whole node from configuration. Nothing is started;
// call Run.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	detections := sqlite.NewDetectionRepository(db)
	healthLog := sqlite.NewHealthRepository(db)

	mgr := camera.NewManager(
		camera.NewAccessGate(),
		camera.NewGoCVCapture(),
		camera.Timeouts{
			Operation:     cfg.CameraOpTimeout,
			Capture:       cfg.CaptureTimeout,
			Stabilization: cfg.StabilizationWait,
		},
		logger.Component(log, "camera"),
	)

	images := storage.NewImageWriter(cfg.ImageDirectory, imageBufferLimit,
		logger.Component(log, "storage"))

	alerts := storage.NewAlertRing(16)
	evictor := storage.NewEvictor(detections, cfg.ImageDirectory, storage.EvictorConfig{
		MinFreeGB:     cfg.MinFreeGB,
		RetentionDays: cfg.RetentionDays,
		BatchSize:     cfg.EvictionBatchSize,
		Interval:      cfg.EvictionInterval,
	}, alerts, logger.Component(log, "evictor"))

	detectLog := logger.Component(log, "detect")
	engines := []detect.OCREngine{detect.NewCRNNEngine(cfg.OCRModelPath, detectLog)}
	tesseract, terr := detect.NewTesseractEngine(cfg.OCRLanguage, detectLog)
	if terr != nil {
		// The primary engine still works; the fallback is just absent.
		log.Warn().Err(terr).Msg("tesseract fallback unavailable")
	} else {
		engines = append(engines, tesseract)
	}

	pipeline := detect.NewPipeline(
		detect.NewDNNVehicleDetector(cfg.VehicleModelPath, cfg.VehicleConfigPath, detectLog),
		detect.NewDNNPlateDetector(cfg.PlateModelPath, cfg.PlateConfigPath, detectLog),
		engines,
		detect.NewGoCVAnnotator(),
		detections,
		images,
		detect.Config{
			MinPlateWidth:        cfg.MinPlateWidth,
			MinPlateHeight:       cfg.MinPlateHeight,
			OCRTimeout:           cfg.OCRTimeout,
			MinOCRConfidence:     detect.DefaultConfig().MinOCRConfidence,
			TextSimilarity:       cfg.TextSimilarity,
			HistogramCorrelation: cfg.HistogramCorrelation,
			CompareWidth:         detect.DefaultConfig().CompareWidth,
			CompareHeight:        detect.DefaultConfig().CompareHeight,
		},
		detectLog,
	)

	scheduler := detect.NewScheduler(mgr, pipeline,
		cfg.DetectionInterval, cfg.NotStreamingBackoff,
		logger.Component(log, "scheduler"))

	sender := delivery.NewSender(
		delivery.NewWSTransport(cfg.DeliveryURL, cfg.ConnectTimeout, cfg.SendTimeout,
			logger.Component(log, "transport")),
		detections, healthLog,
		delivery.Config{
			Interval:          cfg.DeliveryInterval,
			BatchSize:         cfg.DeliveryBatchSize,
			MaxConnectRetries: cfg.MaxConnectRetries,
			RetryBackoff:      cfg.RetryBackoff,
			SendTimeout:       cfg.SendTimeout,
		},
		logger.Component(log, "delivery"))

	checks := []health.Checker{
		&health.CameraCheck{Probe: mgr},
		&health.ModelsCheck{Probe: pipeline},
		&health.PersistenceCheck{Probe: healthLog},
		&health.StorageCheck{Probe: evictor},
		&health.WorkerCheck{Probe: scheduler},
		&health.NetworkCheck{Probe: sender},
		health.NewCPUCheck(cfg.CPUWarnPercent),
		health.NewMemoryCheck(cfg.MemWarnPercent),
	}
	monitor := health.NewMonitor(checks, healthLog, cfg.HealthInterval,
		logger.Component(log, "health"))

	snapshot := func() readiness.Snapshot {
		return readiness.Snapshot{
			CameraReady:    mgr.Health().Streaming,
			DetectionReady: pipeline.ModelsLoaded(),
		}
	}
	sequencer := readiness.NewSequencer(snapshot, scheduler,
		cfg.ReadinessPollInterval, cfg.ReadinessMaxAttempts,
		logger.Component(log, "readiness"))

	return &App{
		cfg:        cfg,
		log:        log,
		db:         db,
		detections: detections,
		healthLog:  healthLog,
		camera:     mgr,
		pipeline:   pipeline,
		scheduler:  scheduler,
		tesseract:  tesseract,
		images:     images,
		evictor:    evictor,
		monitor:    monitor,
		sequencer:  sequencer,
		sender:     sender,
	}, nil
}

// Run brings the node up and blocks until ctx is cancelled, then shuts
// everything down in reverse dependency order.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.runCtx = runCtx
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.images.Run(runCtx, a.cfg.ImageFlushEvery)
	}()
	go func() {
		defer a.wg.Done()
		a.evictor.Run(runCtx)
	}()

	a.monitor.Start(runCtx)
	a.sender.Start(runCtx)

	// The camera may be held by another process at boot; the readiness
	// sequencer keeps polling, so a failure here only delays detection.
	if err := a.camera.Initialize(camera.Config{
		Device: a.cfg.CameraDevice,
		Width:  a.cfg.CameraWidth,
		Height: a.cfg.CameraHeight,
		FPS:    a.cfg.CameraFPS,
	}); err != nil {
		a.log.Warn().Err(err).Msg("camera initialization failed at boot")
	} else if err := a.camera.Start(); err != nil {
		a.log.Warn().Err(err).Msg("camera start failed at boot")
	}

	a.sequencer.Run(runCtx)

	a.log.Info().Msg("platewatch node running")
	<-runCtx.Done()
	a.shutdown()
	return nil
}

// Shutdown stops a running node. Safe to call when Run already exited.
func (a *App) Shutdown() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// shutdown tears components down in reverse dependency order: stop
// producing, flush what exists, then release hardware and the store.
func (a *App) shutdown() {
	a.log.Info().Msg("shutting down")

	a.sequencer.Stop()
	a.scheduler.Stop()
	a.monitor.Stop()

	// One last push so a clean shutdown leaves as little backlog as
	// possible; failures just stay in the store for the next boot.
	flushCtx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
	if err := a.sender.Flush(flushCtx); err != nil {
		a.log.Debug().Err(err).Msg("final delivery flush failed")
	}
	cancel()
	a.sender.Stop()

	a.wg.Wait() // image writer performs its final flush on ctx cancel

	if err := a.camera.Close(); err != nil {
		a.log.Warn().Err(err).Msg("camera close failed")
	}
	if a.tesseract != nil {
		if err := a.tesseract.Close(); err != nil {
			a.log.Debug().Err(err).Msg("tesseract close failed")
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("database close failed")
	}

	a.log.Info().Msg("shutdown complete")
}

// GetCameraStatus reports the camera lifecycle state.
func (a *App) GetCameraStatus() camera.Health {
	return a.camera.Health()
}

// GetDetectionStatus reports pipeline counters and worker liveness.
func (a *App) GetDetectionStatus() DetectionStatus {
	lastHour, err := a.detections.CountSince(time.Now().Add(-time.Hour))
	if err != nil {
		a.log.Debug().Err(err).Msg("recent detection count unavailable")
	}
	return DetectionStatus{
		Pipeline:    a.pipeline.Status(),
		Running:     a.scheduler.Running(),
		WorkerAlive: a.scheduler.WorkerAlive(),
		Readiness:   a.sequencer.Status(),
		LastHour:    lastHour,
	}
}

// GetStorageStatus reports disk headroom, eviction history and alerts.
func (a *App) GetStorageStatus() StorageStatus {
	return StorageStatus{
		Status:        a.evictor.Status(),
		PendingImages: a.images.Pending(),
	}
}

// GetHealthSummary returns the latest aggregated health evaluation.
func (a *App) GetHealthSummary() health.Summary {
	return a.monitor.Summary()
}

// TriggerManualCleanup runs one eviction sweep regardless of the
// free-space floor.
func (a *App) TriggerManualCleanup() (storage.SweepResult, error) {
	return a.evictor.TriggerCleanup()
}

// UpdateStorageConfig applies new eviction tunables at runtime.
func (a *App) UpdateStorageConfig(cfg storage.EvictorConfig) {
	a.evictor.UpdateConfig(cfg)
}

// ClearStorageAlerts empties the alert ring after an operator has
// acknowledged it.
func (a *App) ClearStorageAlerts() {
	a.evictor.ClearAlerts()
}

// StartMonitoring resumes the health loop after StopMonitoring.
func (a *App) StartMonitoring() {
	a.mu.Lock()
	runCtx := a.runCtx
	a.mu.Unlock()
	if runCtx == nil {
		runCtx = context.Background()
	}
	a.monitor.Start(runCtx)
}

// StopMonitoring pauses the health loop; the log and summary keep their
// last values.
func (a *App) StopMonitoring() {
	a.monitor.Stop()
}

// StartDetection starts the detection worker by hand, for when the
// readiness sequencer has given up and the operator has resolved the
// underlying problem.
func (a *App) StartDetection() error {
	a.mu.Lock()
	runCtx := a.runCtx
	a.mu.Unlock()
	if runCtx == nil {
		runCtx = context.Background()
	}
	return a.scheduler.Start(runCtx)
}

// RestartCamera stops and starts the stream under a single hardware
// claim, for recovering a wedged sensor without a process restart.
func (a *App) RestartCamera() error {
	return a.camera.Restart()
}
