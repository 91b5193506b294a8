package config

import (
	"fmt"

	"github.com/ayusman/mudra/internal/batch"
	"github.com/ayusman/mudra/internal/submit"
)

// Validate checks if the configuration is valid and fills in defaults for
// zero values that have one.
func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	mode, err := submit.ParseMode(string(cfg.Submit.Mode))
	if err != nil {
		return fmt.Errorf("submit.mode: %w", err)
	}
	cfg.Submit.Mode = mode

	if cfg.Submit.TimeoutS < 0 {
		return fmt.Errorf("submit.timeout_s must be >= 0")
	}
	if cfg.Submit.TimeoutS == 0 {
		cfg.Submit.TimeoutS = int(submit.DefaultTimeout.Seconds())
	}

	if cfg.Batch.Size < 1 {
		return fmt.Errorf("batch.size must be >= 1")
	}
	policy, err := batch.ParsePolicy(string(cfg.Batch.BusyPolicy))
	if err != nil {
		return fmt.Errorf("batch.busy_policy: %w", err)
	}
	cfg.Batch.BusyPolicy = policy
	if cfg.Batch.QueueLimit <= 0 {
		cfg.Batch.QueueLimit = batch.DefaultQueueLimit
	}

	if cfg.Capture.CameraID < 0 {
		return fmt.Errorf("capture.camera_id must be >= 0")
	}
	if cfg.Capture.FPS <= 0 {
		return fmt.Errorf("capture.fps must be > 0")
	}

	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	return nil
}
