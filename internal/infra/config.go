package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv       string
	Port         string
	DatabaseURL  string
	APIAuthToken string

	ContentStoreURL     string
	ContentStoreToken   string
	ContentStoreDataset string

	PhraseBaseURL     string
	PhraseUser        string
	PhrasePassword    string
	PhraseTemplateUID string

	SourceLanguage    string
	TranslatableTypes []string
	LanguageField     string

	SettleDelay        time.Duration
	WorkerPollInterval time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:       getEnv("APP_ENV", "development"),
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		APIAuthToken: os.Getenv("API_AUTH_TOKEN"),

		ContentStoreURL:     os.Getenv("CONTENT_STORE_URL"),
		ContentStoreToken:   os.Getenv("CONTENT_STORE_TOKEN"),
		ContentStoreDataset: getEnv("CONTENT_STORE_DATASET", "production"),

		PhraseBaseURL:     getEnv("PHRASE_BASE_URL", "https://cloud.memsource.com/web"),
		PhraseUser:        os.Getenv("PHRASE_USER"),
		PhrasePassword:    os.Getenv("PHRASE_PASSWORD"),
		PhraseTemplateUID: os.Getenv("PHRASE_TEMPLATE_UID"),

		SourceLanguage:    getEnv("SOURCE_LANGUAGE", "en"),
		TranslatableTypes: splitList(os.Getenv("TRANSLATABLE_TYPES")),
		LanguageField:     getEnv("LANGUAGE_FIELD", "language"),

		SettleDelay:        time.Second * time.Duration(getEnvInt("SETTLE_DELAY_SECONDS", 15)),
		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_SECONDS", 2)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ContentStoreURL == "" {
		return nil, fmt.Errorf("CONTENT_STORE_URL is required")
	}

	if cfg.ContentStoreToken == "" {
		return nil, fmt.Errorf("CONTENT_STORE_TOKEN is required")
	}

	if cfg.PhraseUser == "" || cfg.PhrasePassword == "" {
		return nil, fmt.Errorf("PHRASE_USER and PHRASE_PASSWORD are required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
