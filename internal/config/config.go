package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	SNSRegion      string
	APNSSandbox    bool // route iOS pushes to the APNs sandbox
	SMTPHost       string
	SMTPPort       string
	SMTPFrom       string
	SMTPFromName   string
	SMTPUsername   string
	SMTPPassword   string
	// JWTPublicKeyPath points at the auth service's RS256 public key. Trigger
	// routes are unauthenticated when it is empty.
	JWTPublicKeyPath     string
	FanoutConcurrency    int
	SweepInterval        time.Duration
	ShippedFollowupAfter time.Duration
	AllowedOrigins       []string // CORS allowed origins
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// friends. Only safe behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users         string
	Devices       string
	Notifications string
	Claims        string
	Subscriptions string
	Items         string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:         getEnv("DYNAMO_TABLE_USERS", "users"),
			Devices:       getEnv("DYNAMO_TABLE_DEVICES", "devices"),
			Notifications: getEnv("DYNAMO_TABLE_NOTIFICATIONS", "notifications"),
			Claims:        getEnv("DYNAMO_TABLE_CLAIMS", "notification_claims"),
			Subscriptions: getEnv("DYNAMO_TABLE_SUBSCRIPTIONS", "subscriptions"),
			Items:         getEnv("DYNAMO_TABLE_ITEMS", "items"),
		},
		SNSRegion:            getEnv("SNS_REGION", "us-east-1"),
		APNSSandbox:          getEnvBool("APNS_SANDBOX", false),
		SMTPHost:             getEnv("SMTP_HOST", "localhost"),
		SMTPPort:             getEnv("SMTP_PORT", "1025"),
		SMTPFrom:             getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPFromName:         getEnv("SMTP_FROM_NAME", "EcoThreads"),
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		JWTPublicKeyPath:     getEnv("JWT_PUBLIC_KEY_PATH", ""),
		FanoutConcurrency:    getEnvInt("FANOUT_CONCURRENCY", 8),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", time.Hour),
		ShippedFollowupAfter: getEnvDuration("SHIPPED_FOLLOWUP_AFTER", 72*time.Hour),
		AllowedOrigins:       strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		TrustProxyHeaders:    getEnvBool("TRUST_PROXY_HEADERS", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90m", "72h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
