package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable for the node, loaded from the environment
// with sensible defaults. A .env file in the working directory is applied
// first if present.
type Config struct {
	// Camera
	CameraDevice      string // device index ("0") or RTSP URL
	CameraWidth       int
	CameraHeight      int
	CameraFPS         int
	CameraOpTimeout   time.Duration // gate wait for lifecycle operations
	CaptureTimeout    time.Duration // gate wait for a single frame capture
	StabilizationWait time.Duration // settle time after hardware start

	// Detection models
	VehicleModelPath  string
	VehicleConfigPath string
	PlateModelPath    string
	PlateConfigPath   string
	OCRModelPath      string
	OCRLanguage       string // tesseract language for the fallback engine

	// Pipeline
	DetectionInterval    time.Duration
	NotStreamingBackoff  time.Duration
	MinPlateWidth        int
	MinPlateHeight       int
	OCRTimeout           time.Duration
	TextSimilarity       float64 // dedup threshold on OCR text
	HistogramCorrelation float64 // dedup threshold on plate crops

	// Storage
	ImageDirectory    string
	ImageFlushEvery   time.Duration
	DBPath            string
	MinFreeGB         float64
	RetentionDays     int
	EvictionBatchSize int
	EvictionInterval  time.Duration

	// Health
	HealthInterval time.Duration
	CPUWarnPercent float64
	MemWarnPercent float64

	// Readiness
	ReadinessPollInterval time.Duration
	ReadinessMaxAttempts  int

	// Delivery
	DeliveryURL       string
	DeliveryInterval  time.Duration
	DeliveryBatchSize int
	ConnectTimeout    time.Duration
	SendTimeout       time.Duration
	MaxConnectRetries int
	RetryBackoff      time.Duration

	// Logging
	LogLevel   string
	LogConsole bool
}

// Load reads configuration from the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		CameraDevice:      getEnv("CAMERA_DEVICE", "0"),
		CameraWidth:       getEnvAsInt("CAMERA_WIDTH", 1920),
		CameraHeight:      getEnvAsInt("CAMERA_HEIGHT", 1080),
		CameraFPS:         getEnvAsInt("CAMERA_FPS", 15),
		CameraOpTimeout:   getEnvAsDuration("CAMERA_OP_TIMEOUT", 10*time.Second),
		CaptureTimeout:    getEnvAsDuration("CAPTURE_TIMEOUT", 2*time.Second),
		StabilizationWait: getEnvAsDuration("STABILIZATION_WAIT", 500*time.Millisecond),

		VehicleModelPath:  getEnv("VEHICLE_MODEL_PATH", filepath.Join("models", "vehicle.onnx")),
		VehicleConfigPath: getEnv("VEHICLE_CONFIG_PATH", ""),
		PlateModelPath:    getEnv("PLATE_MODEL_PATH", filepath.Join("models", "plate.onnx")),
		PlateConfigPath:   getEnv("PLATE_CONFIG_PATH", ""),
		OCRModelPath:      getEnv("OCR_MODEL_PATH", filepath.Join("models", "ocr_crnn.onnx")),
		OCRLanguage:       getEnv("OCR_LANGUAGE", "eng"),

		DetectionInterval:    getEnvAsDuration("DETECTION_INTERVAL", 1*time.Second),
		NotStreamingBackoff:  getEnvAsDuration("NOT_STREAMING_BACKOFF", 5*time.Second),
		MinPlateWidth:        getEnvAsInt("MIN_PLATE_WIDTH", 256),
		MinPlateHeight:       getEnvAsInt("MIN_PLATE_HEIGHT", 128),
		OCRTimeout:           getEnvAsDuration("OCR_TIMEOUT", 3*time.Second),
		TextSimilarity:       getEnvAsFloat("TEXT_SIMILARITY", 0.85),
		HistogramCorrelation: getEnvAsFloat("HISTOGRAM_CORRELATION", 0.90),

		ImageDirectory:    getEnv("IMAGE_DIR", filepath.Join(".", "images")),
		ImageFlushEvery:   getEnvAsDuration("IMAGE_FLUSH_EVERY", 10*time.Second),
		DBPath:            getEnv("DB_PATH", filepath.Join("data", "platewatch.db")),
		MinFreeGB:         getEnvAsFloat("MIN_FREE_GB", 2.0),
		RetentionDays:     getEnvAsInt("RETENTION_DAYS", 14),
		EvictionBatchSize: getEnvAsInt("EVICTION_BATCH_SIZE", 100),
		EvictionInterval:  getEnvAsDuration("EVICTION_INTERVAL", 5*time.Minute),

		HealthInterval: getEnvAsDuration("HEALTH_INTERVAL", 30*time.Second),
		CPUWarnPercent: getEnvAsFloat("CPU_WARN_PERCENT", 90),
		MemWarnPercent: getEnvAsFloat("MEM_WARN_PERCENT", 90),

		ReadinessPollInterval: getEnvAsDuration("READINESS_POLL_INTERVAL", 2*time.Second),
		ReadinessMaxAttempts:  getEnvAsInt("READINESS_MAX_ATTEMPTS", 30),

		DeliveryURL:       getEnv("DELIVERY_URL", "ws://localhost:9000/ingest"),
		DeliveryInterval:  getEnvAsDuration("DELIVERY_INTERVAL", 15*time.Second),
		DeliveryBatchSize: getEnvAsInt("DELIVERY_BATCH_SIZE", 25),
		ConnectTimeout:    getEnvAsDuration("CONNECT_TIMEOUT", 5*time.Second),
		SendTimeout:       getEnvAsDuration("SEND_TIMEOUT", 5*time.Second),
		MaxConnectRetries: getEnvAsInt("MAX_CONNECT_RETRIES", 3),
		RetryBackoff:      getEnvAsDuration("RETRY_BACKOFF", 2*time.Second),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogConsole: getEnvAsBool("LOG_CONSOLE", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
