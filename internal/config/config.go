package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          int
	DBDriver      string // "sqlite3" (cgo) or "sqlite" (pure Go)
	DBPath        string
	UploadRoot    string // fallback images live under <UploadRoot>/public
	TempDir       string
	PublicBaseURL string
	MaxUploadMB   int64

	Detector            string // "dnn" or "remote"
	ModelPath           string
	ConfigPath          string
	LabelsPath          string
	InferenceURL        string
	ModelVersion        string
	ConfidenceThreshold float64
	ProcessingWorkers   int // size of the DNN net pool
	DetectTimeout       time.Duration

	ImgurClientID     string
	ImgurAPIURL       string
	UploadMaxAttempts int
	UploadBaseDelay   time.Duration
	PublishTimeout    time.Duration

	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration

	CORSOrigins  []string
	LogDirectory string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:          getEnvAsInt("PORT", 5000),
		DBDriver:      getEnv("DB_DRIVER", "sqlite3"),
		DBPath:        getEnv("DB_PATH", filepath.Join(".", "data", "neurovision.db")),
		UploadRoot:    getEnv("UPLOAD_ROOT", filepath.Join(".", "uploads")),
		TempDir:       getEnv("TEMP_DIR", os.TempDir()),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		MaxUploadMB:   int64(getEnvAsInt("MAX_UPLOAD_MB", 16)),

		Detector:            getEnv("DETECTOR", "dnn"),
		ModelPath:           getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ConfigPath:          getEnv("CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		LabelsPath:          getEnv("LABELS_PATH", ""),
		InferenceURL:        strings.TrimRight(getEnv("INFERENCE_URL", "http://localhost:8081"), "/"),
		ModelVersion:        getEnv("MODEL_VERSION", "ssd-mobilenet-v1-coco"),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		ProcessingWorkers:   getEnvAsInt("PROCESSING_WORKERS", 3),
		DetectTimeout:       getEnvAsDuration("DETECT_TIMEOUT", 60*time.Second),

		ImgurClientID:     getEnv("IMGUR_CLIENT_ID", ""),
		ImgurAPIURL:       strings.TrimRight(getEnv("IMGUR_API_URL", "https://api.imgur.com"), "/"),
		UploadMaxAttempts: getEnvAsInt("UPLOAD_MAX_ATTEMPTS", 3),
		UploadBaseDelay:   getEnvAsDuration("UPLOAD_BASE_DELAY", 5*time.Second),
		PublishTimeout:    getEnvAsDuration("PUBLISH_TIMEOUT", 60*time.Second),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTAccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 30*time.Minute),
		JWTRefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),

		CORSOrigins:  getEnvAsList("CORS_ORIGINS", []string{"*"}),
		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
	}
}

// PublicDir is the directory served under /uploads/public/.
func (c *Config) PublicDir() string {
	return filepath.Join(c.UploadRoot, "public")
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
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
