// Package config loads the predictor configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine      Engine            `yaml:"engine"`
	Workflow    Workflow          `yaml:"workflow"`
	Directories Directories       `yaml:"directories"`
	Weights     Weights           `yaml:"weights"`
	Env         map[string]string `yaml:"env"`
	Log         Log               `yaml:"log"`
}

type Engine struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// Command launches ComfyUI. Leave empty to use a server started elsewhere.
	Command        []string      `yaml:"command"`
	Args           []string      `yaml:"args"`
	Dir            string        `yaml:"dir"`
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ConnectRetry   int           `yaml:"connect_retry"`
}

type Workflow struct {
	Template string `yaml:"template"`
	// Roles maps binding roles to node IDs of the template
	Roles       map[string]string `yaml:"roles"`
	InputPrefix string            `yaml:"input_prefix"`
}

type Directories struct {
	Output string `yaml:"output"`
	Input  string `yaml:"input"`
	Temp   string `yaml:"temp"`
}

type Weights struct {
	ModelsDir string `yaml:"models_dir"`
	BaseURL   string `yaml:"base_url"`
	// Manifest maps weight file names to a models sub folder
	Manifest map[string]string `yaml:"manifest"`
	Skip     bool              `yaml:"skip"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for anything a file leaves out
func Default() *Config {
	return &Config{
		Engine: Engine{
			Address:        "127.0.0.1",
			Port:           8188,
			ReadyTimeout:   2 * time.Minute,
			ConnectTimeout: 10 * time.Second,
		},
		Workflow: Workflow{
			Template: "workflow_api.json",
			Roles: map[string]string{
				"dimensions":      "68",
				"positive_prompt": "6",
				"negative_prompt": "7",
				"base_sampler":    "3",
				"refiner_sampler": "50",
			},
			InputPrefix: "image",
		},
		Directories: Directories{
			Output: "/tmp/outputs",
			Input:  "/tmp/inputs",
			Temp:   "ComfyUI/temp",
		},
		Weights: Weights{
			ModelsDir: "ComfyUI/models",
		},
		Env: map[string]string{
			"HF_DATASETS_OFFLINE":      "1",
			"TRANSFORMERS_OFFLINE":     "1",
			"HF_HUB_DISABLE_TELEMETRY": "1",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. Maps such as roles and env are merged key by key.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Engine.Address == "" {
		errs = append(errs, errors.New("engine.address is required"))
	}
	if c.Engine.Port < 1 || c.Engine.Port > 65535 {
		errs = append(errs, fmt.Errorf("engine.port %d is out of range", c.Engine.Port))
	}
	if c.Engine.ReadyTimeout < 0 || c.Engine.ConnectTimeout < 0 {
		errs = append(errs, errors.New("engine timeouts must not be negative"))
	}
	if c.Engine.ConnectRetry < 0 {
		errs = append(errs, errors.New("engine.connect_retry must not be negative"))
	}
	if c.Workflow.Template == "" {
		errs = append(errs, errors.New("workflow.template is required"))
	}
	if c.Directories.Output == "" || c.Directories.Input == "" || c.Directories.Temp == "" {
		errs = append(errs, errors.New("directories.output, input and temp are required"))
	}
	if !c.Weights.Skip && c.Weights.ModelsDir == "" {
		errs = append(errs, errors.New("weights.models_dir is required unless weights.skip is set"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// NewLogger builds a logger from the log section
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(l.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
