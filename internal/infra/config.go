package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mjgateway/internal/domain"
)

// Task store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv    string
	Port      string
	APISecret string

	TaskStore   string
	DatabaseURL string
	RedisURL    string
	TaskTTL     time.Duration

	AccountsFile    string
	BannedWordsFile string

	NotifyHook     string
	CDNBaseURL     string
	DiscordAPIBase string
	EventQueueKey  string

	TranslateProvider string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string

	DispatchTimeout  time.Duration
	WaitTimeout      time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		APISecret:         os.Getenv("API_SECRET"),
		TaskStore:         getEnv("TASK_STORE", StoreMemory),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		TaskTTL:           time.Hour * time.Duration(getEnvInt("TASK_TTL_HOURS", 24*30)),
		AccountsFile:      getEnv("ACCOUNTS_FILE", "./config/accounts.yaml"),
		BannedWordsFile:   os.Getenv("BANNED_WORDS_FILE"),
		NotifyHook:        os.Getenv("NOTIFY_HOOK"),
		CDNBaseURL:        os.Getenv("CDN_BASE_URL"),
		DiscordAPIBase:    os.Getenv("DISCORD_API_BASE"),
		EventQueueKey:     os.Getenv("EVENT_QUEUE_KEY"),
		TranslateProvider: getEnv("TRANSLATE_PROVIDER", "none"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		DispatchTimeout:   time.Second * time.Duration(getEnvInt("DISPATCH_TIMEOUT_SECONDS", 90)),
		WaitTimeout:       time.Second * time.Duration(getEnvInt("WAIT_TIMEOUT_SECONDS", 300)),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 330)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		AllowedOrigins:    splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	switch cfg.TaskStore {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for TASK_STORE=redis")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for TASK_STORE=postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported TASK_STORE %q", cfg.TaskStore)
	}

	if cfg.TranslateProvider == "openai" && cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for TRANSLATE_PROVIDER=openai")
	}

	return cfg, nil
}

// LoadAccounts reads the upstream account list from a YAML file.
func LoadAccounts(path string) ([]domain.Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	var doc struct {
		Accounts []domain.Account `yaml:"accounts"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	if len(doc.Accounts) == 0 {
		return nil, fmt.Errorf("accounts file %s defines no accounts", path)
	}
	seen := map[string]bool{}
	for i := range doc.Accounts {
		a := &doc.Accounts[i]
		if a.InstanceID == "" {
			return nil, fmt.Errorf("account #%d is missing instance_id", i)
		}
		if seen[a.InstanceID] {
			return nil, fmt.Errorf("duplicate account instance_id %s", a.InstanceID)
		}
		seen[a.InstanceID] = true
		if a.MaxConcurrency <= 0 {
			a.MaxConcurrency = 3
		}
	}
	return doc.Accounts, nil
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
