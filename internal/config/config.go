package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

type Config struct {
	LogLevel  string
	LogFormat string

	PostgresDSN  string
	DBHost       string
	DBPort       string
	DBUser       string
	DBPassword   string
	DBName       string
	DBSSLMode    string
	MessageTable string

	SourceID     string
	StartTime    string
	ExtractLimit int

	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModel          string
	CompletionWindow     string
	OpenAIRPS            float64
	OpenAITimeoutSeconds int

	PollIntervalSeconds int
	PollMaxAttempts     int
	PollMultiplier      float64

	DownloadRetryAttempts int

	DataDir           string
	ReportDir         string
	LedgerPath        string
	ClassifierProfile string

	SlackWebhookURL string
	NATSURL         string
	NATSSubject     string
	MetricsPort     string
	Schedule        string
}

func Load() Config {
	return Config{
		LogLevel:  mustEnv("LOG_LEVEL", "info"),
		LogFormat: mustEnv("LOG_FORMAT", "json"),

		PostgresDSN:  mustEnv("POSTGRES_DSN", ""),
		DBHost:       mustEnv("DB_HOST", ""),
		DBPort:       mustEnv("DB_PORT", "5432"),
		DBUser:       mustEnv("DB_USER", ""),
		DBPassword:   mustEnv("DB_PASSWORD", ""),
		DBName:       mustEnv("DB_NAME", ""),
		DBSSLMode:    mustEnv("DB_SSLMODE", "disable"),
		MessageTable: mustEnv("MESSAGE_TABLE", "ideia_message_db"),

		SourceID:     firstEnv("SOURCE_ID", "CLIENT_ID"),
		StartTime:    firstEnv("START_TIME", "DATA_INICIO"),
		ExtractLimit: mustEnvInt("EXTRACT_LIMIT", 0),

		OpenAIAPIKey:         mustEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        mustEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIModel:          mustEnv("OPENAI_MODEL", ""),
		CompletionWindow:     mustEnv("COMPLETION_WINDOW", "24h"),
		OpenAIRPS:            mustEnvFloat("OPENAI_RPS", 2),
		OpenAITimeoutSeconds: mustEnvInt("OPENAI_TIMEOUT_SECONDS", 120),

		PollIntervalSeconds: mustEnvInt("POLL_INTERVAL_SECONDS", 10),
		PollMaxAttempts:     mustEnvInt("POLL_MAX_ATTEMPTS", 60),
		PollMultiplier:      mustEnvFloat("POLL_MULTIPLIER", 1),

		DownloadRetryAttempts: mustEnvInt("DOWNLOAD_RETRY_ATTEMPTS", 3),

		DataDir:           mustEnv("DATA_DIR", "./data"),
		ReportDir:         mustEnv("REPORT_DIR", "./data/reports"),
		LedgerPath:        mustEnv("LEDGER_PATH", "./data/ledger.db"),
		ClassifierProfile: mustEnv("CLASSIFIER_PROFILE", ""),

		SlackWebhookURL: mustEnv("SLACK_WEBHOOK_URL", ""),
		NATSURL:         mustEnv("NATS_URL", ""),
		NATSSubject:     mustEnv("NATS_SUBJECT", "insights.runs.finished"),
		MetricsPort:     mustEnv("METRICS_PORT", ""),
		Schedule:        mustEnv("SCHEDULE", "0 6 * * *"),
	}
}

// Validate reports every missing or invalid setting of a full run at once.
func (c Config) Validate() error {
	return c.validate(true, false)
}

// ValidateSchedule also requires a lookback START_TIME such as "-24h", so
// every tick extracts a window that moves with the clock.
func (c Config) ValidateSchedule() error {
	return c.validate(true, true)
}

// ValidateResume skips the extraction settings; a resumed job takes its
// input from the ledger.
func (c Config) ValidateResume() error {
	return c.validate(false, false)
}

func (c Config) validate(extraction, scheduled bool) error {
	var problems []string
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		problems = append(problems, "OPENAI_API_KEY is required")
	}
	if extraction {
		if c.PostgresDSN == "" && (c.DBHost == "" || c.DBUser == "" || c.DBName == "") {
			problems = append(problems, "POSTGRES_DSN or DB_HOST, DB_USER and DB_NAME are required")
		}
		if strings.TrimSpace(c.SourceID) == "" {
			problems = append(problems, "SOURCE_ID is required")
		}
		start := strings.TrimSpace(c.StartTime)
		switch {
		case start == "":
			problems = append(problems, "START_TIME is required")
		case strings.HasPrefix(start, "-"):
			if _, err := domain.ParseLookback(start); err != nil {
				problems = append(problems, "START_TIME: "+err.Error())
			}
		case scheduled:
			problems = append(problems, fmt.Sprintf("START_TIME %q is fixed; schedule needs a lookback such as -24h", start))
		}
		if !validIdentifier(c.MessageTable) {
			problems = append(problems, fmt.Sprintf("MESSAGE_TABLE %q is not a plain table name", c.MessageTable))
		}
		if c.ExtractLimit < 0 {
			problems = append(problems, "EXTRACT_LIMIT must not be negative")
		}
	}
	if c.PollIntervalSeconds < 1 {
		problems = append(problems, "POLL_INTERVAL_SECONDS must be at least 1")
	}
	if c.PollMaxAttempts < 1 {
		problems = append(problems, "POLL_MAX_ATTEMPTS must be at least 1")
	}
	if c.OpenAIRPS <= 0 {
		problems = append(problems, "OPENAI_RPS must be positive")
	}
	if _, err := url.Parse(c.OpenAIBaseURL); err != nil || c.OpenAIBaseURL == "" {
		problems = append(problems, "OPENAI_BASE_URL must be a valid URL")
	}
	if len(problems) == 0 {
		return nil
	}
	return domain.WrapError(domain.ErrConfiguration, "validate config", errors.New(strings.Join(problems, "; ")))
}

// DSN returns POSTGRES_DSN or one assembled from the DB_* variables.
func (c Config) DSN() string {
	if c.PostgresDSN != "" {
		return c.PostgresDSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": []string{c.DBSSLMode}}.Encode(),
	}
	return u.String()
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c Config) OpenAITimeout() time.Duration {
	return time.Duration(c.OpenAITimeoutSeconds) * time.Second
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case r >= '0' && r <= '9' && i > 0:
		case r == '.' && i > 0:
		default:
			return false
		}
	}
	return true
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}
