package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストレージドライバー
const (
	// StorageDriverBackend はバックエンドのStorage APIに画像を保存する。
	StorageDriverBackend = "backend"
	// StorageDriverS3 はS3互換ストレージに画像を保存する。
	StorageDriverS3 = "s3"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	BackendURL     string
	BackendAnonKey string
	BackendTimeout time.Duration

	// Session
	SessionDBPath string

	// Storage
	StorageDriver   string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3Region        string
	S3UseSSL        bool
	S3PublicBaseURL string
	ImageMaxSize    int64

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitJoin    int

	// Logging
	LogLevel string

	// Error reporting
	SentryDSN         string
	SentryEnvironment string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env がある場合は先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile はenvFileを読み込んでからConfigを組み立てる。envFileが存在しない場合は無視する。
func LoadFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.BackendURL = os.Getenv("SUPABASE_URL")
	if cfg.BackendURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}

	cfg.BackendAnonKey = os.Getenv("SUPABASE_ANON_KEY")
	if cfg.BackendAnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}

	// Optional fields with defaults
	cfg.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", 15*time.Second)
	cfg.SessionDBPath = getEnvString("SESSION_DB_PATH", "volunteerhub.db")
	cfg.StorageDriver = strings.ToLower(getEnvString("STORAGE_DRIVER", StorageDriverBackend))
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3AccessKey = getEnvString("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvString("S3_SECRET_KEY", "")
	cfg.S3Bucket = getEnvString("S3_BUCKET", "")
	cfg.S3Region = getEnvString("S3_REGION", "")
	cfg.S3UseSSL = getEnvBool("S3_USE_SSL", true)
	cfg.S3PublicBaseURL = getEnvString("S3_PUBLIC_BASE_URL", "")
	cfg.ImageMaxSize = getEnvInt64("IMAGE_MAX_SIZE", 10<<20)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitJoin = getEnvInt("RATE_LIMIT_JOIN", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.SentryDSN = getEnvString("SENTRY_DSN", "")
	cfg.SentryEnvironment = getEnvString("SENTRY_ENVIRONMENT", "production")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	switch cfg.StorageDriver {
	case StorageDriverBackend:
	case StorageDriverS3:
		if cfg.S3Endpoint == "" {
			missing = append(missing, "S3_ENDPOINT")
		}
		if cfg.S3Bucket == "" {
			missing = append(missing, "S3_BUCKET")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q (want %q or %q)", cfg.StorageDriver, StorageDriverBackend, StorageDriverS3)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
