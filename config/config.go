package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int
	APIPrefix  string
	LogLevel   string
	Database   DatabaseConfig
	Auth       AuthConfig
	Storage    StorageConfig
	MQ         MQConfig
	Redis      RedisConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

// AuthConfig holds signing keys and the knobs of the account lifecycle.
type AuthConfig struct {
	// PrivateKey and PublicKey are inline PEM or a path to a PEM file.
	PrivateKey string
	PublicKey  string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	TokenTypeLabel  string

	BcryptCost  int
	OTPDigits   int
	MaxAttempts int

	// RegisterDelay is slept before a new account is persisted.
	RegisterDelay time.Duration
}

type StorageConfig struct {
	Backend        string
	MaxUploadBytes int64
	PhotoEdge      int
	PhotoQuality   int
	MaxPhotoPixels int64
	Minio          MinioConfig
	GCS            GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type MQConfig struct {
	Backend    string
	OTPChannel string
	RabbitMQ   RabbitMQConfig
	PubSub     PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

// RedisConfig configures the OTP endpoint rate limiter. An empty Addr disables it.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	RateLimit     int
	RateWindow    time.Duration
	BlockDuration time.Duration
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "accounts"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "accounts_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),
	}

	authConfig := AuthConfig{
		PrivateKey:      getEnv("JWT_PRIVATE_KEY", "certs/jwt-private.pem"),
		PublicKey:       getEnv("JWT_PUBLIC_KEY", "certs/jwt-public.pem"),
		AccessTokenTTL:  getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvDuration("JWT_REFRESH_TTL", 24*time.Hour),
		TokenTypeLabel:  getEnv("JWT_TOKEN_TYPE", "Bearer"),
		BcryptCost:      getEnvInt("BCRYPT_COST", 12),
		OTPDigits:       getEnvInt("OTP_DIGITS", 6),
		MaxAttempts:     getEnvInt("OTP_MAX_ATTEMPTS", 3),
		RegisterDelay:   getEnvDuration("REGISTER_DELAY", time.Second),
	}

	storageConfig := StorageConfig{
		Backend:        getEnv("STORAGE_BACKEND", "minio"),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 5<<20)),
		PhotoEdge:      getEnvInt("PHOTO_EDGE", 512),
		PhotoQuality:   getEnvInt("PHOTO_QUALITY", 85),
		MaxPhotoPixels: int64(getEnvInt("MAX_PHOTO_PIXELS", 4096*4096)),
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "accounts"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		GCS: GCSConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			ProjectID:       getEnv("GCS_PROJECT_ID", ""),
			CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		},
	}

	mqConfig := MQConfig{
		Backend:    getEnv("MQ_BACKEND", ""),
		OTPChannel: getEnv("MQ_OTP_CHANNEL", "account-otp"),
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 10),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}

	redisConfig := RedisConfig{
		Addr:          getEnv("REDIS_ADDR", ""),
		Password:      getEnv("REDIS_PASSWORD", ""),
		DB:            getEnvInt("REDIS_DB", 0),
		RateLimit:     getEnvInt("RATE_LIMIT", 10),
		RateWindow:    getEnvDuration("RATE_WINDOW", time.Minute),
		BlockDuration: getEnvDuration("RATE_BLOCK", 5*time.Minute),
	}

	return Config{
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		APIPrefix:  getEnv("API_PREFIX", "/api/v1"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Database:   dbConfig,
		Auth:       authConfig,
		Storage:    storageConfig,
		MQ:         mqConfig,
		Redis:      redisConfig,
	}
}

// Validate reports configuration that would make the server misbehave at runtime.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.PrivateKey) == "" || strings.TrimSpace(c.Auth.PublicKey) == "" {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return errors.New("config: JWT_ACCESS_TTL must be positive")
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		return errors.New("config: JWT_REFRESH_TTL must exceed JWT_ACCESS_TTL")
	}
	if c.Auth.OTPDigits < 4 || c.Auth.OTPDigits > 9 {
		return fmt.Errorf("config: OTP_DIGITS must be between 4 and 9, got %d", c.Auth.OTPDigits)
	}
	if c.Auth.MaxAttempts < 1 {
		return errors.New("config: OTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.Auth.RegisterDelay < 0 {
		return errors.New("config: REGISTER_DELAY must not be negative")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return errors.New("config: MAX_UPLOAD_BYTES must be positive")
	}
	if c.Storage.MaxPhotoPixels <= 0 {
		return errors.New("config: MAX_PHOTO_PIXELS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		switch strings.ToLower(strings.TrimSpace(valueStr)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err == nil {
			return value
		}
	}
	return defaultValue
}
