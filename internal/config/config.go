package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultJWTSecret signs tokens when JWT_SECRET is unset. It is only fit for
// local development.
const DefaultJWTSecret = "change-me"

type Config struct {
	Port        string
	DatabaseURL string

	Logger    LoggerConfig
	Telemetry TelemetryConfig

	JWTSecret string
	JWTTTL    time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int

	Reminder ReminderConfig

	InvoiceNumberAttempts int
	InvoiceDueDays        int
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type TelemetryConfig struct {
	Environment string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type ReminderConfig struct {
	PollInterval  time.Duration
	BatchSize     int
	RetryEnabled  bool
	MaxAttempts   int
	Backoff       time.Duration
	BackoffMax    time.Duration
	EmailProvider string
	SMSProvider   string
	PushProvider  string
}

type MobileConfig struct {
	ServerURL          string
	DatabasePath       string
	Token              string
	QueueMaxAttempts   int
	SendIdempotencyKey bool
	HTTPTimeout        time.Duration
	Logger             LoggerConfig
}

// Load reads the API configuration. A .env file in the working directory is
// applied first; variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        readString("FIELDOPS_PORT", "8080"),
		DatabaseURL: os.Getenv("DB_DSN"),
		Logger:      loadLogger(),
		Telemetry: TelemetryConfig{
			Environment: readString("FIELDOPS_ENV", "development"),
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:    readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio: readFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},

		JWTSecret: readString("JWT_SECRET", DefaultJWTSecret),
		JWTTTL:    readDurationSeconds("JWT_TTL_SECONDS", 12*60*60),

		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MINUTE", 240),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 60),

		Reminder: ReminderConfig{
			PollInterval:  readDurationSeconds("REMINDER_POLL_SECONDS", 30),
			BatchSize:     readInt("REMINDER_BATCH_SIZE", 25),
			RetryEnabled:  readBool("REMINDER_RETRY_ENABLED", false),
			MaxAttempts:   readInt("REMINDER_MAX_ATTEMPTS", 3),
			Backoff:       readDurationSeconds("REMINDER_BACKOFF_SECONDS", 60),
			BackoffMax:    readDurationSeconds("REMINDER_BACKOFF_MAX_SECONDS", 3600),
			EmailProvider: os.Getenv("REMINDER_EMAIL_PROVIDER"),
			SMSProvider:   os.Getenv("REMINDER_SMS_PROVIDER"),
			PushProvider:  os.Getenv("REMINDER_PUSH_PROVIDER"),
		},

		InvoiceNumberAttempts: readInt("INVOICE_NUMBER_ATTEMPTS", 10),
		InvoiceDueDays:        readInt("INVOICE_DUE_DAYS", 14),
	}
}

func (c Config) UsesDefaultJWTSecret() bool {
	return c.JWTSecret == DefaultJWTSecret
}

func LoadMobile() MobileConfig {
	_ = godotenv.Load()

	return MobileConfig{
		ServerURL:          strings.TrimRight(readString("MOBILE_SERVER_URL", "http://localhost:8080"), "/"),
		DatabasePath:       readString("MOBILE_DB_PATH", "fieldops-mobile.db"),
		Token:              os.Getenv("MOBILE_TOKEN"),
		QueueMaxAttempts:   readInt("MOBILE_QUEUE_MAX_ATTEMPTS", 10),
		SendIdempotencyKey: readBool("MOBILE_SEND_IDEMPOTENCY_KEY", true),
		HTTPTimeout:        readDurationSeconds("MOBILE_HTTP_TIMEOUT_SECONDS", 15),
		Logger:             loadLogger(),
	}
}

func loadLogger() LoggerConfig {
	return LoggerConfig{
		Level:             readString("LOG_LEVEL", "info"),
		Encoding:          readString("LOG_ENCODING", "json"),
		DisableCaller:     readBool("LOG_DISABLE_CALLER", false),
		DisableStacktrace: readBool("LOG_DISABLE_STACKTRACE", true),
	}
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
