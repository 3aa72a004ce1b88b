package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	BackendService = "service"
	BackendOllama  = "ollama"
)

// Config holds the application configuration
type Config struct {
	Backend  string         `json:"backend"`
	Service  ServiceConfig  `json:"service"`
	Ollama   OllamaConfig   `json:"ollama"`
	Workflow WorkflowConfig `json:"workflow"`
	Acquire  AcquireConfig  `json:"acquire"`
	ROI      ROIConfig      `json:"roi"`
	Weights  WeightsConfig  `json:"weights"`
	Log      LogConfig      `json:"log"`
}

// ServiceConfig holds the detection service connection settings
type ServiceConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// OllamaConfig holds settings for the vision-model backend
type OllamaConfig struct {
	URL   string `json:"url"`
	Model string `json:"model"`
}

// WorkflowConfig holds configuration for the selection workflow
type WorkflowConfig struct {
	CroppingEnabled bool `json:"cropping_enabled"`
	AutoCrop        bool `json:"auto_crop"`
	JPEGQuality     int  `json:"jpeg_quality"`
}

// AcquireConfig holds configuration for image loading
type AcquireConfig struct {
	PreviewMaxDim int   `json:"preview_max_dim"`
	MaxFileSize   int64 `json:"max_file_size"`
}

// ROIConfig holds configuration for crop suggestions
type ROIConfig struct {
	EdgeWeight       float64 `json:"edge_weight"`
	SaturationWeight float64 `json:"saturation_weight"`
	Sensitivity      float64 `json:"sensitivity"`
	PaddingRatio     float64 `json:"padding_ratio"`
}

// WeightsConfig holds the starting weight values
type WeightsConfig struct {
	AverageUnitWeight float64 `json:"average_unit_weight"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `json:"level"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend: BackendService,
		Service: ServiceConfig{
			BaseURL:        "http://127.0.0.1:5000",
			TimeoutSeconds: 60,
		},
		Ollama: OllamaConfig{
			URL:   "http://localhost:11434",
			Model: "llava:13b",
		},
		Workflow: WorkflowConfig{
			CroppingEnabled: true,
			AutoCrop:        false,
			JPEGQuality:     92,
		},
		Acquire: AcquireConfig{
			PreviewMaxDim: 512,
			MaxFileSize:   50 << 20,
		},
		ROI: ROIConfig{
			EdgeWeight:       0.4,
			SaturationWeight: 0.6,
			Sensitivity:      0.5,
			PaddingRatio:     0.05,
		},
		Weights: WeightsConfig{
			AverageUnitWeight: 150,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads filename when it exists, falls back to defaults otherwise, and
// applies environment overrides on top
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		loaded, err := LoadFromFile(filename)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a JSON file. Fields missing from
// the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides settings from FRUITCOUNT_* environment variables
func (c *Config) ApplyEnv() {
	c.Service.BaseURL = getEnv("FRUITCOUNT_SERVICE_URL", c.Service.BaseURL)
	c.Backend = getEnv("FRUITCOUNT_BACKEND", c.Backend)
	c.Log.Level = getEnv("FRUITCOUNT_LOG_LEVEL", c.Log.Level)
	c.Ollama.URL = getEnv("FRUITCOUNT_OLLAMA_URL", c.Ollama.URL)
	c.Ollama.Model = getEnv("FRUITCOUNT_OLLAMA_MODEL", c.Ollama.Model)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Timeout returns the service timeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Service.TimeoutSeconds) * time.Second
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendService, BackendOllama:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendService, BackendOllama, c.Backend)
	}

	if err := validateURL("service.base_url", c.Service.BaseURL); err != nil {
		return err
	}
	if c.Service.TimeoutSeconds < 1 {
		return fmt.Errorf("service.timeout_seconds must be positive")
	}

	if c.Backend == BackendOllama {
		if err := validateURL("ollama.url", c.Ollama.URL); err != nil {
			return err
		}
	}

	if c.Workflow.JPEGQuality < 1 || c.Workflow.JPEGQuality > 100 {
		return fmt.Errorf("workflow.jpeg_quality must be between 1 and 100")
	}

	if c.Acquire.PreviewMaxDim < 16 {
		return fmt.Errorf("acquire.preview_max_dim must be at least 16")
	}
	if c.Acquire.MaxFileSize < 0 {
		return fmt.Errorf("acquire.max_file_size cannot be negative")
	}

	if c.ROI.EdgeWeight < 0 || c.ROI.SaturationWeight < 0 || c.ROI.EdgeWeight+c.ROI.SaturationWeight == 0 {
		return fmt.Errorf("roi weights must be non-negative and not both zero")
	}
	if c.ROI.PaddingRatio < 0 || c.ROI.PaddingRatio > 1 {
		return fmt.Errorf("roi.padding_ratio must be between 0 and 1")
	}

	if c.Weights.AverageUnitWeight <= 0 {
		return fmt.Errorf("weights.average_unit_weight must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}

	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", field, raw)
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "fruitcount", "config.json")
}
