package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Code formats supported by the issuer.
const (
	CodeFormatHex     = "hex"     // 4 random bytes, upper-case hex (8 chars)
	CodeFormatNumeric = "numeric" // 6 decimal digits
)

// Issuance policies when a requester already has a pending code.
const (
	IssuePolicySupersede = "supersede" // expire the old code, issue a new one
	IssuePolicyReject    = "reject"    // refuse until the old code is consumed or expires
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string

	StoreBackend string // "dynamo" | "memory"
	DynamoTables DynamoTables

	CodeFormat    string
	CodeTTL       time.Duration // 0 disables TTL expiry
	IssuePolicy   string
	SweepInterval time.Duration // 0 disables the dangling-ticket sweeper

	PlatformBaseURL  string
	PlatformToken    string
	PlatformGuildID  string
	PlatformRoleID   string
	PlatformCategory string

	GatewayKeyHash string // bcrypt hash of the X-Api-Key shared with the gateway

	AlertTopicARN string // SNS topic for post-commit upstream failures

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Verifications string
	Bindings      string
	Pending       string
	Tickets       string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),

		StoreBackend: getEnv("STORE_BACKEND", "dynamo"),
		DynamoTables: DynamoTables{
			Verifications: getEnv("DYNAMO_TABLE_VERIFICATIONS", "verifications"),
			Bindings:      getEnv("DYNAMO_TABLE_BINDINGS", "external_bindings"),
			Pending:       getEnv("DYNAMO_TABLE_PENDING", "pending_codes"),
			Tickets:       getEnv("DYNAMO_TABLE_TICKETS", "tickets"),
		},

		CodeFormat:    getEnv("CODE_FORMAT", CodeFormatHex),
		CodeTTL:       getEnvDuration("CODE_TTL", 15*time.Minute),
		IssuePolicy:   getEnv("ISSUE_POLICY", IssuePolicySupersede),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 0),

		PlatformBaseURL:  getEnv("PLATFORM_BASE_URL", "https://discord.com/api/v10"),
		PlatformToken:    getEnv("PLATFORM_TOKEN", ""),
		PlatformGuildID:  getEnv("PLATFORM_GUILD_ID", ""),
		PlatformRoleID:   getEnv("PLATFORM_ROLE_ID", ""),
		PlatformCategory: getEnv("PLATFORM_CATEGORY_ID", ""),

		GatewayKeyHash: getEnv("GATEWAY_KEY_HASH", ""),

		AlertTopicARN: getEnv("ALERT_TOPIC_ARN", ""),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 24*time.Hour),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
