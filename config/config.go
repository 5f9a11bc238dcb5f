package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// DefaultFile is the JSON configuration file read at startup.
const DefaultFile = "conf.json"

// ErrInvalidConfig is returned when a required setting is missing or malformed.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the entire plugin configuration.
type Config struct {
	// Upstream
	AuthToken          string `json:"auth_token" env:"SF_AUTH_TOKEN"`
	ChatAPIURL         string `json:"CHAT_API_URL" env:"SF_CHAT_API_URL"`
	ChatModel          string `json:"CHAT_MODEL" env:"SF_CHAT_MODEL"`
	EnhancerPrompt     string `json:"ENHANCER_PROMPT" env:"SF_ENHANCER_PROMPT"`
	EnhancerPromptFlux string `json:"ENHANCER_PROMPT_FLUX" env:"SF_ENHANCER_PROMPT_FLUX"`
	ImageAPIBaseURL    string `json:"image_api_base_url" env:"SF_IMAGE_API_BASE_URL"`

	// Drawing
	DrawingPrefixes     []string `json:"drawing_prefixes" env:"SF_DRAWING_PREFIXES" envSeparator:","`
	DefaultDrawingModel string   `json:"default_drawing_model" env:"SF_DEFAULT_DRAWING_MODEL"`
	FluxModels          []string `json:"flux_models" env:"SF_FLUX_MODELS" envSeparator:","`
	CompactSizeModels   []string `json:"compact_size_models" env:"SF_COMPACT_SIZE_MODELS" envSeparator:","`
	RequestTimeout      int      `json:"request_timeout" env:"SF_REQUEST_TIMEOUT"`

	// Limits and admin
	RestrictedModel    string `json:"restricted_model" env:"SF_RESTRICTED_MODEL"`
	DevModelUsageLimit int    `json:"dev_model_usage_limit" env:"SF_DEV_MODEL_USAGE_LIMIT"`
	DailyResetTime     string `json:"daily_reset_time" env:"SF_DAILY_RESET_TIME"`
	AdminPassword      string `json:"admin_password" env:"SF_ADMIN_PASSWORD"`
	RedisURL           string `json:"redis_url" env:"SF_REDIS_URL"`

	// Storage
	ImageOutputDir     string  `json:"image_output_dir" env:"SF_IMAGE_OUTPUT_DIR"`
	ImageFormat        string  `json:"image_format" env:"SF_IMAGE_FORMAT"`
	CleanInterval      float64 `json:"clean_interval" env:"SF_CLEAN_INTERVAL"`
	CleanCheckInterval int     `json:"clean_check_interval" env:"SF_CLEAN_CHECK_INTERVAL"`
	UploadToImageHost  bool    `json:"upload_to_image_host" env:"SF_UPLOAD_TO_IMAGE_HOST"`
	NodeImageAPIKey    string  `json:"nodeimage_api_key" env:"NODEIMAGE_API_KEY"`

	// Host adapter
	ListenAddr string `json:"listen_addr" env:"SF_LISTEN_ADDR"`
	HostAPIKey string `json:"host_api_key" env:"SF_HOST_API_KEY"`

	// Logging
	LogLevel  string `json:"log_level" env:"SF_LOG_LEVEL"`
	LogFormat string `json:"log_format" env:"SF_LOG_FORMAT"`
}

// Defaults returns a Config populated with the built-in defaults.
func Defaults() *Config {
	return &Config{
		ChatAPIURL:          "https://api.siliconflow.cn/v1/chat/completions",
		ImageAPIBaseURL:     "https://api.siliconflow.cn/v1",
		DrawingPrefixes:     []string{"绘", "draw"},
		DefaultDrawingModel: "schnell",
		FluxModels:          []string{"dev", "flux"},
		CompactSizeModels:   []string{"sd35", "FLUX.1-schnell", "Pro-FLUX.1-schnell", "FLUX.1-dev"},
		RequestTimeout:      180,
		RestrictedModel:     "dev",
		DevModelUsageLimit:  5,
		DailyResetTime:      "00:00",
		ImageOutputDir:      "./images",
		ImageFormat:         "png",
		CleanInterval:       3,
		CleanCheckInterval:  3600,
		ListenAddr:          ":8080",
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// Load loads the configuration from defaults, the JSON file, .env, and environment variables,
// in that order, and validates the result.
func Load(path string) (*Config, error) {
	// 1. Defaults
	cfg := Defaults()

	// 2. JSON file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("%w: could not decode %s: %v", ErrInvalidConfig, path, err)
		}
		slog.Debug("loaded configuration file", "path", path)
	} else if !os.IsNotExist(err) {
		slog.Warn("could not open configuration file", "path", path, "error", err)
	}

	// 3. .env file (will override the JSON file)
	_ = godotenv.Load()

	// 4. Environment variables (will override everything)
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value formats.
func (c *Config) Validate() error {
	if c.AuthToken == "" {
		return fmt.Errorf("%w: auth_token is required", ErrInvalidConfig)
	}
	if c.ChatModel == "" {
		return fmt.Errorf("%w: CHAT_MODEL is required", ErrInvalidConfig)
	}
	if len(c.DrawingPrefixes) == 0 {
		return fmt.Errorf("%w: at least one drawing prefix is required", ErrInvalidConfig)
	}
	if _, _, err := ParseResetTime(c.DailyResetTime); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.DevModelUsageLimit < 0 {
		return fmt.Errorf("%w: dev_model_usage_limit must not be negative", ErrInvalidConfig)
	}
	if c.CleanInterval <= 0 || c.CleanCheckInterval <= 0 {
		return fmt.Errorf("%w: clean_interval and clean_check_interval must be positive", ErrInvalidConfig)
	}
	switch strings.ToLower(c.ImageFormat) {
	case "png", "jpeg", "jpg", "webp":
	default:
		return fmt.Errorf("%w: unsupported image_format %q", ErrInvalidConfig, c.ImageFormat)
	}
	if c.UploadToImageHost && c.NodeImageAPIKey == "" {
		return fmt.Errorf("%w: nodeimage_api_key is required when upload_to_image_host is set", ErrInvalidConfig)
	}
	return nil
}

// RetentionPeriod is how long generated images are kept.
func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.CleanInterval * float64(24*time.Hour))
}

// SweepInterval is the delay between two retention sweeps.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.CleanCheckInterval) * time.Second
}

// Timeout is the deadline applied to a single drawing request.
func (c *Config) Timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 0
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

// ParseResetTime parses an "HH:MM" time of day.
func ParseResetTime(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("daily_reset_time %q is not in HH:MM format", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("daily_reset_time %q has an invalid hour", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("daily_reset_time %q has an invalid minute", s)
	}
	return hour, minute, nil
}

// File persists settings changed at runtime back into the JSON configuration file.
type File struct {
	Path string
}

// SavePassword rewrites admin_password in the configuration file, keeping every other key.
func (f File) SavePassword(password string) error {
	values := map[string]any{}

	data, err := os.ReadFile(f.Path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("config: failed to decode %s: %w", f.Path, err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("config: failed to read %s: %w", f.Path, err)
	}

	values["admin_password"] = password

	out, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("config: failed to encode configuration: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".conf-*.json")
	if err != nil {
		return fmt.Errorf("config: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("config: failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("config: failed to replace %s: %w", f.Path, err)
	}
	return nil
}
