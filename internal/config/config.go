package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration derived from the environment, an
// optional .env file and an optional YAML/JSON file.
type Config struct {
	HTTPPort        string
	CallsDir        string
	WorkDir         string
	DBPath          string
	WorkerCount     int
	JobQueueSize    int
	JobTimeoutSec   int
	EnableWatcher   bool
	BackfillOnStart bool
	GroupMeBotID    string
	GroupMeURL      string
	CORSOrigins     []string
	LogLevel        string
	Environment     string
	ConfigPath      string
	StrictConfig    bool

	LLM           LLMConfig
	Catalog       CatalogConfig
	Transcription TranscriptionConfig

	// Warnings collects soft problems found while loading. They are errors
	// when StrictConfig is set.
	Warnings []string
}

// LLMConfig selects and tunes the extraction backend.
type LLMConfig struct {
	Provider        string
	GoogleAPIKey    string
	OpenAIAPIKey    string
	Model           string
	BaseURL         string
	Temperature     float64
	MaxOutputTokens int
	TimeoutSec      int
	Safety          []SafetySetting
}

// APIKey returns the credential for the configured provider.
func (c LLMConfig) APIKey() string {
	if strings.EqualFold(strings.TrimSpace(c.Provider), "openai") {
		return c.OpenAIAPIKey
	}
	return c.GoogleAPIKey
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

type SafetySetting struct {
	Category  string `json:"category" yaml:"category"`
	Threshold string `json:"threshold" yaml:"threshold"`
}

// CatalogConfig picks the field catalog and output schema.
type CatalogConfig struct {
	Variant string
	Path    string
	Schema  string
}

type TranscriptionConfig struct {
	Model    string
	BaseURL  string
	Language string
}

type fileConfig struct {
	CallsDir    string   `json:"calls_dir" yaml:"calls_dir"`
	HTTPPort    string   `json:"http_port" yaml:"http_port"`
	WorkDir     string   `json:"work_dir" yaml:"work_dir"`
	DBPath      string   `json:"db_path" yaml:"db_path"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`
	LLM         struct {
		Provider        string          `json:"provider" yaml:"provider"`
		Model           string          `json:"model" yaml:"model"`
		BaseURL         string          `json:"base_url" yaml:"base_url"`
		Temperature     *float64        `json:"temperature" yaml:"temperature"`
		MaxOutputTokens int             `json:"max_output_tokens" yaml:"max_output_tokens"`
		TimeoutSec      int             `json:"timeout_sec" yaml:"timeout_sec"`
		Safety          []SafetySetting `json:"safety" yaml:"safety"`
	} `json:"llm" yaml:"llm"`
	Catalog struct {
		Variant string `json:"variant" yaml:"variant"`
		Path    string `json:"path" yaml:"path"`
		Schema  string `json:"schema" yaml:"schema"`
	} `json:"catalog" yaml:"catalog"`
	Transcription struct {
		Model    string `json:"model" yaml:"model"`
		BaseURL  string `json:"base_url" yaml:"base_url"`
		Language string `json:"language" yaml:"language"`
	} `json:"transcription" yaml:"transcription"`
}

const (
	defaultPort          = ":8000"
	defaultCallsDir      = "runtime/calls"
	defaultWorkDir       = "runtime/work"
	defaultDBFile        = "extractions.db"
	defaultGroupMeURL    = "https://api.groupme.com/v3/bots/post"
	minQueueSize         = 1
	defaultQueueSize     = 100
	maxQueueSize         = 1024
	defaultWorkerCount   = 4
	maxWorkerCount       = 64
	defaultJobTimeoutSec = 120
	defaultLLMTimeoutSec = 60
	defaultMaxTokens     = 1024
	defaultTranscribe    = "gpt-4o-transcribe"
)

var defaultCORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// Load reads configuration. Values already present in the environment win
// over .env, which wins over the config file, which wins over defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		JobQueueSize:    defaultQueueSize,
		WorkerCount:     defaultWorkerCount,
		JobTimeoutSec:   defaultJobTimeoutSec,
		GroupMeBotID:    os.Getenv("GROUPME_BOT_ID"),
		GroupMeURL:      getEnv("GROUPME_URL", defaultGroupMeURL),
		EnableWatcher:   parseBoolEnvDefault("ENABLE_WATCHER", true),
		BackfillOnStart: parseBoolEnv("BACKFILL_ON_START"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		StrictConfig:    parseBoolEnv("STRICT_CONFIG"),
	}
	cfg.ConfigPath = getEnv("CONFIG_PATH", filepath.Join("config", "config.yaml"))

	fileCfg, fileErr := loadFileConfig(cfg.ConfigPath)
	if fileErr != nil {
		_, explicit := os.LookupEnv("CONFIG_PATH")
		switch {
		case cfg.StrictConfig && explicit:
			return cfg, fmt.Errorf("config load failed (%s): %w", cfg.ConfigPath, fileErr)
		case explicit || !errors.Is(fileErr, os.ErrNotExist):
			cfg.warn("config load failed (%s): %v (using defaults)", cfg.ConfigPath, fileErr)
		}
	}

	cfg.CallsDir = firstNonEmpty(os.Getenv("CALLS_DIR"), fileCfg.CallsDir, defaultCallsDir)
	cfg.WorkDir = firstNonEmpty(os.Getenv("WORK_DIR"), fileCfg.WorkDir, defaultWorkDir)
	cfg.DBPath = firstNonEmpty(os.Getenv("DB_PATH"), fileCfg.DBPath, filepath.Join(cfg.WorkDir, defaultDBFile))

	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	if legacyPort := os.Getenv("PORT"); legacyPort != "" && cfg.HTTPPort == defaultPort {
		cfg.HTTPPort = legacyPort
	}
	if !strings.HasPrefix(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	cfg.CORSOrigins = defaultCORSOrigins
	if len(fileCfg.CORSOrigins) > 0 {
		cfg.CORSOrigins = fileCfg.CORSOrigins
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	if v, ok, err := parseIntEnv("WORKER_COUNT"); err != nil || (ok && v <= 0) {
		cfg.warn("invalid WORKER_COUNT=%q, using default %d", os.Getenv("WORKER_COUNT"), defaultWorkerCount)
	} else if ok {
		if v > maxWorkerCount {
			cfg.warn("WORKER_COUNT capped at %d (was %d)", maxWorkerCount, v)
			v = maxWorkerCount
		}
		cfg.WorkerCount = v
	}

	if v, ok, err := parseIntEnv("JOB_QUEUE_SIZE"); err != nil {
		cfg.warn("invalid JOB_QUEUE_SIZE=%q, using default %d", os.Getenv("JOB_QUEUE_SIZE"), defaultQueueSize)
	} else if ok {
		if v < minQueueSize {
			cfg.warn("JOB_QUEUE_SIZE raised to minimum %d (was %d)", minQueueSize, v)
			v = minQueueSize
		}
		if v > maxQueueSize {
			cfg.warn("JOB_QUEUE_SIZE capped at %d (was %d)", maxQueueSize, v)
			v = maxQueueSize
		}
		cfg.JobQueueSize = v
	}
	if cfg.JobQueueSize < cfg.WorkerCount {
		cfg.warn("JOB_QUEUE_SIZE must be >= WORKER_COUNT; using %d", max(defaultQueueSize, cfg.WorkerCount))
		cfg.JobQueueSize = max(defaultQueueSize, cfg.WorkerCount)
	}

	if v, ok, err := parseIntEnv("JOB_TIMEOUT_SEC"); err != nil {
		return cfg, fmt.Errorf("invalid JOB_TIMEOUT_SEC: %w", err)
	} else if ok {
		if v <= 0 {
			return cfg, errors.New("JOB_TIMEOUT_SEC must be positive")
		}
		cfg.JobTimeoutSec = v
	}

	if err := cfg.loadLLM(fileCfg); err != nil {
		return cfg, err
	}

	cfg.Catalog = CatalogConfig{
		Variant: strings.ToLower(firstNonEmpty(os.Getenv("FIELD_CATALOG"), fileCfg.Catalog.Variant)),
		Path:    firstNonEmpty(os.Getenv("FIELD_CATALOG_PATH"), fileCfg.Catalog.Path),
		Schema:  strings.ToLower(firstNonEmpty(os.Getenv("EXTRACTION_SCHEMA"), fileCfg.Catalog.Schema, "confidence")),
	}
	cfg.Transcription = TranscriptionConfig{
		Model:    firstNonEmpty(os.Getenv("TRANSCRIPTION_MODEL"), fileCfg.Transcription.Model, defaultTranscribe),
		BaseURL:  firstNonEmpty(os.Getenv("TRANSCRIPTION_BASE_URL"), fileCfg.Transcription.BaseURL, os.Getenv("OPENAI_BASE_URL")),
		Language: firstNonEmpty(os.Getenv("TRANSCRIPTION_LANGUAGE"), fileCfg.Transcription.Language),
	}

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	if cfg.StrictConfig && len(cfg.Warnings) > 0 {
		return cfg, fmt.Errorf("strict config: %s", strings.Join(cfg.Warnings, "; "))
	}
	return cfg, nil
}

func (c *Config) loadLLM(fileCfg fileConfig) error {
	c.LLM = LLMConfig{
		Provider:        strings.ToLower(firstNonEmpty(os.Getenv("LLM_PROVIDER"), fileCfg.LLM.Provider, "gemini")),
		GoogleAPIKey:    firstNonEmpty(os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY")),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		Model:           firstNonEmpty(os.Getenv("LLM_MODEL"), fileCfg.LLM.Model),
		BaseURL:         firstNonEmpty(os.Getenv("LLM_BASE_URL"), fileCfg.LLM.BaseURL),
		MaxOutputTokens: defaultMaxTokens,
		TimeoutSec:      defaultLLMTimeoutSec,
		Safety:          fileCfg.LLM.Safety,
	}
	if fileCfg.LLM.Temperature != nil {
		c.LLM.Temperature = *fileCfg.LLM.Temperature
	}
	if fileCfg.LLM.MaxOutputTokens > 0 {
		c.LLM.MaxOutputTokens = fileCfg.LLM.MaxOutputTokens
	}
	if fileCfg.LLM.TimeoutSec > 0 {
		c.LLM.TimeoutSec = fileCfg.LLM.TimeoutSec
	}

	if v, ok, err := parseFloatEnv("LLM_TEMPERATURE"); err != nil {
		return fmt.Errorf("invalid LLM_TEMPERATURE: %w", err)
	} else if ok {
		c.LLM.Temperature = v
	}
	if v, ok, err := parseIntEnv("LLM_MAX_OUTPUT_TOKENS"); err != nil || (ok && v <= 0) {
		c.warn("invalid LLM_MAX_OUTPUT_TOKENS=%q, using %d", os.Getenv("LLM_MAX_OUTPUT_TOKENS"), c.LLM.MaxOutputTokens)
	} else if ok {
		c.LLM.MaxOutputTokens = v
	}
	if v, ok, err := parseIntEnv("LLM_TIMEOUT_SEC"); err != nil || (ok && v <= 0) {
		c.warn("invalid LLM_TIMEOUT_SEC=%q, using %d", os.Getenv("LLM_TIMEOUT_SEC"), c.LLM.TimeoutSec)
	} else if ok {
		c.LLM.TimeoutSec = v
	}
	return nil
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	return cfg, err
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.CallsDir) == "" {
		return errors.New("CALLS_DIR is required")
	}
	if strings.TrimSpace(cfg.HTTPPort) == "" || cfg.HTTPPort == ":" {
		return errors.New("HTTP_PORT is required")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2] (got %g)", cfg.LLM.Temperature)
	}
	switch cfg.Catalog.Schema {
	case "simple", "confidence":
	default:
		return fmt.Errorf("EXTRACTION_SCHEMA must be simple or confidence (got %q)", cfg.Catalog.Schema)
	}
	for i, s := range cfg.LLM.Safety {
		if strings.TrimSpace(s.Category) == "" || strings.TrimSpace(s.Threshold) == "" {
			return fmt.Errorf("llm.safety[%d] needs category and threshold", i)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return defaultVal
	}
	return parseBoolEnv(key)
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}

func parseFloatEnv(key string) (float64, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	return val, true, err
}
