// Package config loads the mudra configuration from a YAML file, a .env file
// and MUDRA_* environment variables, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/mudra/internal/batch"
	"github.com/ayusman/mudra/internal/publish"
	"github.com/ayusman/mudra/internal/submit"
)

// Config represents the complete mudra configuration.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Submit  SubmitConfig   `yaml:"submit"`
	Batch   BatchConfig    `yaml:"batch"`
	Capture CaptureConfig  `yaml:"capture"`
	Store   StoreConfig    `yaml:"store"`
	Signs   SignsConfig    `yaml:"signs"`
	MQTT    publish.Config `yaml:"mqtt"` // empty broker disables publishing
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"` // empty disables static file serving
}

// SubmitConfig contains prediction service settings
type SubmitConfig struct {
	Mode     submit.Mode `yaml:"mode"`      // online, offline
	Endpoint string      `yaml:"endpoint"`  // offline override
	TimeoutS int         `yaml:"timeout_s"` // per-request timeout in seconds
}

// BatchConfig contains frame buffer settings
type BatchConfig struct {
	Size       int          `yaml:"size"`
	BusyPolicy batch.Policy `yaml:"busy_policy"` // drop, queue
	QueueLimit int          `yaml:"queue_limit"`
}

// CaptureConfig contains server-side camera settings
type CaptureConfig struct {
	CameraID int    `yaml:"camera_id"`
	FPS      int    `yaml:"fps"`
	Script   string `yaml:"script"` // holistic detector script; empty searches default locations
	Python   string `yaml:"python"` // interpreter; empty searches for a venv
}

// StoreConfig contains history database settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SignsConfig contains sign catalog settings
type SignsConfig struct {
	Path string `yaml:"path"` // sign_ord,sign CSV; empty disables the catalog
}

// Timeout returns the submission timeout as a duration.
func (c SubmitConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutS) * time.Second
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Submit: SubmitConfig{
			Mode:     submit.ModeRemote,
			TimeoutS: int(submit.DefaultTimeout / time.Second),
		},
		Batch: BatchConfig{
			Size:       batch.DefaultThreshold,
			BusyPolicy: batch.PolicyDrop,
			QueueLimit: batch.DefaultQueueLimit,
		},
		Capture: CaptureConfig{FPS: 15},
		Store:   StoreConfig{Path: DefaultStorePath()},
	}
}

// DefaultStorePath returns ~/.mudra/mudra.db, or mudra.db when there is no home directory.
func DefaultStorePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "mudra.db"
	}
	return filepath.Join(homeDir, ".mudra", "mudra.db")
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are not an error; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from MUDRA_* environment variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"MUDRA_ADDR":       &c.Server.Addr,
		"MUDRA_STATIC_DIR": &c.Server.StaticDir,
		"MUDRA_ENDPOINT":   &c.Submit.Endpoint,
		"MUDRA_DB":         &c.Store.Path,
		"MUDRA_SIGNS":      &c.Signs.Path,
		"MUDRA_SCRIPT":     &c.Capture.Script,
		"MUDRA_PYTHON":     &c.Capture.Python,
		"MUDRA_MQTT":       &c.MQTT.Broker,
		"MUDRA_MQTT_TOPIC": &c.MQTT.Topic,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MUDRA_TIMEOUT_S":   &c.Submit.TimeoutS,
		"MUDRA_BATCH_SIZE":  &c.Batch.Size,
		"MUDRA_QUEUE_LIMIT": &c.Batch.QueueLimit,
		"MUDRA_CAMERA_ID":   &c.Capture.CameraID,
		"MUDRA_FPS":         &c.Capture.FPS,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("MUDRA_MODE"); ok {
		c.Submit.Mode = submit.Mode(v)
	}
	if v, ok := os.LookupEnv("MUDRA_BUSY_POLICY"); ok {
		c.Batch.BusyPolicy = batch.Policy(v)
	}
	return nil
}
