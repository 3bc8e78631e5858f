package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"tikiti/internal/services/gateway/mpesa"
	"tikiti/internal/services/gateway/pesapal"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// CallbackBaseURL is the public base URL providers call back on.
	CallbackBaseURL string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUUID         string

	// Payment providers
	Mpesa   mpesa.Config
	Pesapal pesapal.Config

	// PollSchedule is the bounded poll budget: one status check after each
	// delay, short intervals first, then the loop gives up and leaves the
	// booking to the webhook.
	PollSchedule []time.Duration

	// Default commission settings, used to seed the settings record.
	CommissionRate float64
	CommissionMin  float64
	CommissionMax  float64

	// StatusCacheTTL bounds how stale the booking-status endpoint may be.
	StatusCacheTTL time.Duration

	// AdminKeyHash is a bcrypt hash of the admin API key.
	AdminKeyHash string

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:            getEnv("PORT", "8090"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		CallbackBaseURL: getEnv("CALLBACK_BASE_URL", "http://localhost:8090"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUUID:         getEnv("PUBNUB_UUID", "tikiti-server"),

		// M-Pesa (STK push + B2C payout)
		Mpesa: mpesa.Config{
			BaseURL:            getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:        getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:     getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:          getEnv("MPESA_SHORTCODE", ""),
			Passkey:            getEnv("MPESA_PASSKEY", ""),
			InitiatorName:      getEnv("MPESA_INITIATOR_NAME", ""),
			SecurityCredential: getEnv("MPESA_SECURITY_CREDENTIAL", ""),
		},

		// Pesapal (hosted checkout)
		Pesapal: pesapal.Config{
			BaseURL:        getEnv("PESAPAL_BASE_URL", "https://cybqa.pesapal.com/pesapalv3"),
			ConsumerKey:    getEnv("PESAPAL_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("PESAPAL_CONSUMER_SECRET", ""),
			Currency:       getEnv("PESAPAL_CURRENCY", "KES"),
		},

		// Reconciliation
		PollSchedule: getEnvAsSchedule("POLL_SCHEDULE", "5s,5s,5s,15s,30s,60s"),

		// Commission defaults
		CommissionRate: getEnvAsFloat("COMMISSION_RATE", 0.10),
		CommissionMin:  getEnvAsFloat("COMMISSION_MIN", 0),
		CommissionMax:  getEnvAsFloat("COMMISSION_MAX", 100000),

		StatusCacheTTL: getEnvAsDuration("STATUS_CACHE_TTL", "2s"),

		AdminKeyHash: getEnv("ADMIN_KEY_HASH", ""),

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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

// getEnvAsSchedule parses a comma-separated list of durations. Entries that
// fail to parse invalidate the whole value and fall back to the default.
func getEnvAsSchedule(key string, defaultValue string) []time.Duration {
	parse := func(raw string) ([]time.Duration, bool) {
		parts := strings.Split(raw, ",")
		out := make([]time.Duration, 0, len(parts))
		for _, p := range parts {
			d, err := time.ParseDuration(strings.TrimSpace(p))
			if err != nil || d <= 0 {
				return nil, false
			}
			out = append(out, d)
		}
		return out, len(out) > 0
	}

	if schedule, ok := parse(getEnv(key, defaultValue)); ok {
		return schedule
	}
	schedule, _ := parse(defaultValue)
	return schedule
}
