package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Queue configuration
	AdmitCapacity       int
	QueuePositionUpdate time.Duration
	HeartbeatTimeout    time.Duration
	QueueMaxLifetime    time.Duration
	AdmissionTokenTTL   time.Duration

	// Inventory / checkout windows
	ReservationTTL   time.Duration
	OrderGracePeriod time.Duration

	// Sweeper configuration
	SweepInterval time.Duration

	// Payment gateway configuration
	GatewayProvider      string
	GatewayBaseURL       string
	GatewayKeyID         string
	GatewayKeySecret     string
	GatewayWebhookSecret string

	// PubNub channel the gateway pushes capture notifications on
	GatewayNotifySubKey  string
	GatewayNotifyChannel string
	GatewayNotifyUUID    string

	// Admission credential signing
	TicketSecret string

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Queue
		AdmitCapacity:       getEnvAsInt("ADMIT_CAPACITY", 10),
		QueuePositionUpdate: getEnvAsDuration("QUEUE_POSITION_UPDATE", "2s"),
		HeartbeatTimeout:    getEnvAsDuration("HEARTBEAT_TIMEOUT", "90s"),
		QueueMaxLifetime:    getEnvAsDuration("QUEUE_MAX_LIFETIME", "30m"),
		AdmissionTokenTTL:   getEnvAsDuration("ADMISSION_TOKEN_TTL", "2m"),

		// Inventory windows
		ReservationTTL:   getEnvAsDuration("RESERVATION_TTL", "8m"),
		OrderGracePeriod: getEnvAsDuration("ORDER_GRACE_PERIOD", "15m"),

		// Sweeper
		SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", "2m"),

		// Payment gateway
		GatewayProvider:      getEnv("GATEWAY_PROVIDER", "flexpay"),
		GatewayBaseURL:       getEnv("GATEWAY_BASE_URL", "https://api.flexpay.la"),
		GatewayKeyID:         getEnv("GATEWAY_KEY_ID", ""),
		GatewayKeySecret:     getEnv("GATEWAY_KEY_SECRET", ""),
		GatewayWebhookSecret: getEnv("GATEWAY_WEBHOOK_SECRET", ""),

		GatewayNotifySubKey:  getEnv("GATEWAY_NOTIFY_SUBKEY", ""),
		GatewayNotifyChannel: getEnv("GATEWAY_NOTIFY_CHANNEL", ""),
		GatewayNotifyUUID:    getEnv("GATEWAY_NOTIFY_UUID", "boxoffice-server"),

		// Admission credentials
		TicketSecret: getEnv("TICKET_SECRET", ""),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
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
