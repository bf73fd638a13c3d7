package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Code generation
	MaxBatchQuantity int
	PreviewCodeTTL   time.Duration
	PreviewBackend   string // "memory" or "redis"

	// Redemption
	AllowReassociation bool

	// QR issuance
	QRImageWidth  int
	QRBucket      string
	BlobBackend   string // "local" or "cloudinary"
	BlobDir       string
	BlobBaseURL   string
	CloudinaryURL string
	UploadTimeout time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Monitoring
	EnableMetrics bool
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Codes
		MaxBatchQuantity: getEnvAsInt("MAX_BATCH_QUANTITY", 100),
		PreviewCodeTTL:   getEnvAsDuration("PREVIEW_CODE_TTL", "6h"),
		PreviewBackend:   getEnv("PREVIEW_CACHE_BACKEND", "memory"),

		// Redemption
		AllowReassociation: getEnvAsBool("ALLOW_CODE_REASSOCIATION", true),

		// QR issuance
		QRImageWidth:  getEnvAsInt("QR_IMAGE_WIDTH", 300),
		QRBucket:      getEnv("QR_BUCKET", "qr-codes"),
		BlobBackend:   getEnv("BLOB_BACKEND", "local"),
		BlobDir:       getEnv("BLOB_DIR", "./pb_public"),
		BlobBaseURL:   getEnv("BLOB_BASE_URL", "http://localhost:8090"),
		CloudinaryURL: getEnv("CLOUDINARY_URL", ""),
		UploadTimeout: getEnvAsDuration("UPLOAD_TIMEOUT", "10s"),

		// Rate limiting
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   getEnvAsDuration("RATE_LIMIT_WINDOW", "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
