package infra

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv   string
	LogLevel string
	Port     string

	ComfyURL       string
	ClientIDPrefix string
	OllamaURL      string
	AudioURL       string
	ChatModel      string
	AssistantModel string

	WorkflowDir  string
	ProfilesFile string

	SlotBackend   string
	SlotPath      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SlotTTL       time.Duration

	PollInterval   time.Duration
	PollAttempts   int
	EngineProbe    time.Duration
	LLMProbe       time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string

	// GenerateRatePerMinute caps job submissions per client; zero disables it.
	GenerateRatePerMinute int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// Values from .env and .env.local are merged first; real environment variables win.
func LoadConfig() (*Config, error) {
	for _, name := range []string{".env.local", ".env"} {
		_ = godotenv.Load(name)
	}

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Port:             getEnv("PORT", "8080"),
		ComfyURL:         strings.TrimRight(getEnv("COMFY_URL", "http://127.0.0.1:8188"), "/"),
		ClientIDPrefix:   getEnv("COMFY_CLIENT_PREFIX", "comfyfront"),
		OllamaURL:        strings.TrimRight(getEnv("OLLAMA_URL", "http://127.0.0.1:11434"), "/"),
		AudioURL:         strings.TrimRight(getEnv("AUDIO_URL", "http://127.0.0.1:8000"), "/"),
		ChatModel:        getEnv("CHAT_MODEL", "llama3.2-vision"),
		AssistantModel:   getEnv("ASSISTANT_MODEL", "llama3.2-vision"),
		WorkflowDir:      getEnv("WORKFLOW_DIR", "./workflows"),
		ProfilesFile:     os.Getenv("PROFILES_FILE"),
		SlotBackend:      strings.ToLower(getEnv("SLOT_BACKEND", "file")),
		SlotPath:         getEnv("SLOT_PATH", "./data"),
		RedisAddr:        getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		SlotTTL:          time.Hour * time.Duration(getEnvInt("SLOT_TTL_HOURS", 24)),
		PollInterval:     time.Millisecond * time.Duration(getEnvInt("POLL_INTERVAL_MS", 2000)),
		PollAttempts:     getEnvInt("POLL_MAX_ATTEMPTS", 60),
		EngineProbe:      time.Second * time.Duration(getEnvInt("ENGINE_PROBE_SECONDS", 3)),
		LLMProbe:         time.Second * time.Duration(getEnvInt("LLM_PROBE_SECONDS", 10)),
		RequestTimeout:   time.Second * time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 30)),
		AllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}
	cfg.GenerateRatePerMinute = getEnvInt("GENERATE_RATE_PER_MINUTE", 30)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for name, raw := range map[string]string{"COMFY_URL": c.ComfyURL, "OLLAMA_URL": c.OllamaURL, "AUDIO_URL": c.AudioURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute url, got %q", name, raw)
		}
	}
	switch c.SlotBackend {
	case "file", "redis", "none":
	default:
		return fmt.Errorf("SLOT_BACKEND must be one of file, redis, none; got %q", c.SlotBackend)
	}
	if c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL_MS must be positive")
	}
	if c.PollAttempts <= 0 {
		return errors.New("POLL_MAX_ATTEMPTS must be positive")
	}
	return nil
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

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
