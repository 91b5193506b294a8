package submit

import (
	"fmt"
	"strings"
)

// Well-known prediction endpoints.
const (
	RemoteEndpoint       = "https://islr-api.onrender.com/islr/predict"
	DefaultLocalEndpoint = "http://127.0.0.1:8000/islr/predict"
)

// Mode selects the family of prediction service a batch is sent to.
type Mode string

const (
	// ModeRemote targets the hosted prediction service ("online" in the UI).
	ModeRemote Mode = "online"
	// ModeLocal targets a locally running service ("offline" in the UI).
	ModeLocal Mode = "offline"
)

// ParseMode converts user input to a Mode. Both the UI names
// ("online", "offline") and the descriptive names ("remote", "local") are accepted.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online", "remote":
		return ModeRemote, nil
	case "offline", "local":
		return ModeLocal, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Config is the submission target selection read at flush time.
type Config struct {
	Mode             Mode   `json:"mode"`
	OverrideEndpoint string `json:"endpoint,omitempty"`
}

// Resolve returns the endpoint a batch should be sent to.
// Local mode uses the override when it is non-empty; any mode other than
// local, including an unset one, falls back to the remote endpoint.
func Resolve(cfg Config) string {
	if cfg.Mode == ModeLocal {
		if cfg.OverrideEndpoint != "" {
			return cfg.OverrideEndpoint
		}
		return DefaultLocalEndpoint
	}
	return RemoteEndpoint
}
