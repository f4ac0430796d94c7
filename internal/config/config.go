// Package config centralizes how HealthScan reads environment variables and
// exposes them as typed Go values. A .env file in the working directory is
// loaded first when present; real environment variables win over it.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for every HealthScan binary.
type Config struct {
	Port           int
	UploadDir      string
	MaxUploadBytes int64

	ModelPath    string
	ModelInput   string
	ModelOutput  string
	ONNXRuntime  string
	ReportPath   string
	OllamaHost   string
	ChatModel    string
	DatabaseURL  string
	SQLitePath   string
	OpenBrowser  bool
	SigningKey   []byte
	SignedURLTTL time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ArchiveWorkers int

	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3UseSSL     bool
	S3Region     string
	XrayBucket   string
	ReportBucket string

	LogLevel  string
	LogFormat string
}

const (
	defaultPort           = 8000
	defaultUploadDir      = "uploads"
	defaultMaxUploadBytes = 16 << 20 // 16 MiB
	defaultModelPath      = "models/pneumonia_detection_model.onnx"
	defaultReportPath     = "OutputOllama.txt"
	defaultSQLitePath     = "healthscan.db"
	defaultOllamaHost     = "http://127.0.0.1:11434"
	defaultChatModel      = "phi3:mini"
	defaultSignedTTL      = 15 * time.Minute
	defaultWorkerCount    = 2
)

// Load reads configuration from the environment, falling back to defaults.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:           parseInt("HEALTHSCAN_PORT", defaultPort),
		UploadDir:      readEnv("HEALTHSCAN_UPLOAD_DIR", defaultUploadDir),
		MaxUploadBytes: parseInt64("HEALTHSCAN_MAX_UPLOAD_BYTES", defaultMaxUploadBytes),
		ModelPath:      readEnv("HEALTHSCAN_MODEL_PATH", defaultModelPath),
		ModelInput:     readEnv("HEALTHSCAN_MODEL_INPUT", "input"),
		ModelOutput:    readEnv("HEALTHSCAN_MODEL_OUTPUT", "output"),
		ONNXRuntime:    os.Getenv("ONNXRUNTIME_LIB"),
		ReportPath:     readEnv("HEALTHSCAN_REPORT_PATH", defaultReportPath),
		OllamaHost:     readEnv("OLLAMA_HOST", defaultOllamaHost),
		ChatModel:      readEnv("HEALTHSCAN_CHAT_MODEL", defaultChatModel),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     readEnv("HEALTHSCAN_SQLITE_PATH", defaultSQLitePath),
		OpenBrowser:    parseBool("HEALTHSCAN_OPEN_BROWSER", true),
		SigningKey:     parseSecret("HEALTHSCAN_SIGNING_SECRET"),
		SignedURLTTL:   parseDuration("HEALTHSCAN_SIGNED_TTL", defaultSignedTTL),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        parseInt("REDIS_DB", 0),
		ArchiveWorkers: parseInt("ARCHIVE_WORKERS", defaultWorkerCount),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:       parseBool("S3_USE_SSL", false),
		S3Region:       readEnv("S3_REGION", "us-east-1"),
		XrayBucket:     readEnv("S3_XRAY_BUCKET", "healthscan-xrays"),
		ReportBucket:   readEnv("S3_REPORT_BUCKET", "healthscan-reports"),
		LogLevel:       readEnv("LOG_LEVEL", "info"),
		LogFormat:      readEnv("LOG_FORMAT", "console"),
	}
	if cfg.SigningKey == nil {
		cfg.SigningKey = randomSecret()
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = defaultPort
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedTTL
	}
	if cfg.ArchiveWorkers <= 0 {
		cfg.ArchiveWorkers = defaultWorkerCount
	}
	return cfg, nil
}

// ArchiveEnabled reports whether both the task queue and the object store are
// configured. Archival is skipped entirely otherwise.
func (c *Config) ArchiveEnabled() bool {
	return c.RedisAddr != "" && c.S3Endpoint != ""
}

// LocalURL is the operator-facing URL on this machine.
func (c *Config) LocalURL() string {
	return "http://localhost:" + strconv.Itoa(c.Port)
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
