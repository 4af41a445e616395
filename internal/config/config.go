package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// DefaultJWTSecret is the JWT_SECRET default. It is only good for local runs
// without an admin password.
const DefaultJWTSecret = "dev-secret-change-me"

type Config struct {
	// telegram
	TelegramToken     string        `env:"TELEGRAM_TOKEN"`
	AllowedUsers      string        `env:"ALLOWED_USERS"`
	PollTimeout       int           `env:"TELEGRAM_POLL_TIMEOUT" envDefault:"30"`
	AttachmentTimeout time.Duration `env:"ATTACHMENT_TIMEOUT" envDefault:"20s"`

	// AI provider
	AIProvider        string        `env:"AI_PROVIDER" envDefault:"openai"`
	SystemPrompt      string        `env:"SYSTEM_PROMPT" envDefault:"You are a helpful assistant"`
	CompletionTimeout time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"30s"`
	Temperature       float32       `env:"OPENAI_TEMPERATURE" envDefault:"0.5"`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	OpenRouterBaseURL string        `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	OpenRouterAPIKey  string        `env:"OPENROUTER_API_KEY"`
	OpenRouterModel   string        `env:"OPENROUTER_MODEL" envDefault:"openrouter/auto"`
	OpenRouterSiteURL string        `env:"OPENROUTER_SITE_URL"`
	OpenRouterAppName string        `env:"OPENROUTER_APP_NAME"`
	OllamaBaseURL     string        `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	OllamaModel       string        `env:"OLLAMA_MODEL" envDefault:"llava:latest"`

	// logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	// persistence; DB_DRIVER=none keeps conversations in memory only
	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"file:chat-relay.db?_pragma=busy_timeout(5000)"`

	// redis; empty address keeps admission local to the process
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisLockTTL  time.Duration `env:"REDIS_LOCK_TTL" envDefault:"2m"`

	// rabbitMQ; empty URL disables diagnostics publishing
	RabbitURL         string `env:"RABBIT_URL"`
	RabbitQueue       string `env:"RABBIT_QUEUE" envDefault:"chat_diagnostics"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// admin http api; empty address disables it, empty password hash
	// disables login and every protected route
	HTTPAddr          string `env:"HTTP_ADDR" envDefault:":8080"`
	JWTSecret         string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"`
}

// LoadDotEnv loads the first existing .env file from paths into the process
// environment. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// Load parses the environment into Config and validates what the bot needs.
func Load() (Config, error) {
	cfg, err := parse()
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return Config{}, errors.New("TELEGRAM_TOKEN is required")
	}

	switch cfg.AIProvider {
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return Config{}, errors.New("OPENAI_API_KEY is required when AI_PROVIDER=openai")
		}
	case "openrouter":
		if strings.TrimSpace(cfg.OpenRouterAPIKey) == "" {
			return Config{}, errors.New("OPENROUTER_API_KEY is required when AI_PROVIDER=openrouter")
		}
	case "ollama":
	default:
		return Config{}, fmt.Errorf("unsupported AI_PROVIDER=%q", cfg.AIProvider)
	}

	if _, err := ParseAllowedUsers(cfg.AllowedUsers); err != nil {
		return Config{}, err
	}

	if cfg.HTTPAddr != "" && cfg.AdminEnabled() {
		secret := strings.TrimSpace(cfg.JWTSecret)
		if secret == "" || secret == DefaultJWTSecret {
			return Config{}, errors.New("JWT_SECRET must be set to a non-default value when ADMIN_PASSWORD_HASH is set")
		}
	}

	// a job holds the user's lock through the download and the completion
	if cfg.RedisAddr != "" {
		if minTTL := cfg.AttachmentTimeout + cfg.CompletionTimeout; cfg.RedisLockTTL <= minTTL {
			return Config{}, fmt.Errorf("REDIS_LOCK_TTL (%s) must exceed ATTACHMENT_TIMEOUT + COMPLETION_TIMEOUT (%s)", cfg.RedisLockTTL, minTTL)
		}
	}
	return cfg, nil
}

// AdminEnabled reports whether an admin password is configured. Without one
// the http api serves only its public routes.
func (c Config) AdminEnabled() bool {
	return strings.TrimSpace(c.AdminPasswordHash) != ""
}

// LoadWorker parses the environment for the diagnostics worker, which needs
// RabbitMQ and a database but no telegram or provider credentials.
func LoadWorker() (Config, error) {
	cfg, err := parse()
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.RabbitURL) == "" {
		return Config{}, errors.New("RABBIT_URL is required")
	}
	return cfg, nil
}

func parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}

	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 30 * time.Second
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 2
	}
	if cfg.WorkerConcurrency > 50 {
		cfg.WorkerConcurrency = 50
	}
	return cfg, nil
}

// Model returns the model name configured for the selected provider.
func (c Config) Model() string {
	switch c.AIProvider {
	case "openrouter":
		return c.OpenRouterModel
	case "ollama":
		return c.OllamaModel
	default:
		return c.OpenAIModel
	}
}

// ParseAllowedUsers parses a comma separated list of telegram user ids.
// An empty list yields nil, which means every user is allowed.
func ParseAllowedUsers(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ALLOWED_USERS: invalid user id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
