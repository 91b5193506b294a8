package session

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ayusman/mudra/internal/batch"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/submit"
)

// ErrNotSaved wraps a failure to persist settings. Settings that could not be
// saved are not applied.
var ErrNotSaved = errors.New("settings not saved")

// Snapshot is a point-in-time copy of the runtime settings.
type Snapshot struct {
	Mode      submit.Mode `json:"mode"`
	Endpoint  string      `json:"endpoint"`
	BatchSize int         `json:"batchSize"`
}

// SubmitConfig returns the submission target selection for this snapshot.
func (s Snapshot) SubmitConfig() submit.Config {
	return submit.Config{Mode: s.Mode, OverrideEndpoint: s.Endpoint}
}

// Validate checks that the snapshot can be applied.
func (s Snapshot) Validate() error {
	if _, err := submit.ParseMode(string(s.Mode)); err != nil {
		return err
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", s.BatchSize)
	}
	return nil
}

// DefaultSnapshot is the starting state of the settings panel.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Mode:      submit.ModeRemote,
		BatchSize: batch.DefaultThreshold,
	}
}

// Settings holds the user-adjustable mode, endpoint override and batch size.
// It is shared by every session and read fresh on each frame and each flush.
type Settings struct {
	mu       sync.RWMutex
	current  Snapshot
	onChange []func(Snapshot)
}

// NewSettings creates Settings with the given initial values.
func NewSettings(initial Snapshot) *Settings {
	return &Settings{current: initial}
}

// Snapshot returns the current settings.
func (s *Settings) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates and applies new settings, then notifies change listeners.
func (s *Settings) Update(next Snapshot) error {
	return s.Apply(next, nil)
}

// Apply validates next, persists it to st when st is non-nil, and only then
// makes it current and notifies change listeners. A persistence failure is
// returned wrapped in ErrNotSaved and leaves the current settings unchanged.
func (s *Settings) Apply(next Snapshot, st *store.Store) error {
	if err := next.Validate(); err != nil {
		return err
	}
	mode, _ := submit.ParseMode(string(next.Mode))
	next.Mode = mode

	if st != nil {
		if err := save(st, next); err != nil {
			return fmt.Errorf("%w: %w", ErrNotSaved, err)
		}
	}

	s.mu.Lock()
	s.current = next
	listeners := append([]func(Snapshot){}, s.onChange...)
	s.mu.Unlock()

	// Call listeners outside the lock so they may read the settings
	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

// OnChange registers a function called after every successful Update or Apply.
func (s *Settings) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Load overlays settings persisted in the store on top of the current values.
// Invalid persisted values are ignored.
func (s *Settings) Load(st *store.Store) error {
	values, err := st.Settings().All()
	if err != nil {
		return err
	}

	next := s.Snapshot()
	if v, ok := values[store.SettingMode]; ok {
		if mode, err := submit.ParseMode(v); err == nil {
			next.Mode = mode
		}
	}
	if v, ok := values[store.SettingEndpoint]; ok {
		next.Endpoint = v
	}
	if v, ok := values[store.SettingBatchSize]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			next.BatchSize = n
		}
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return nil
}

// Save persists the current settings.
func (s *Settings) Save(st *store.Store) error {
	return save(st, s.Snapshot())
}

func save(st *store.Store, snap Snapshot) error {
	return st.Settings().SetMany(map[string]string{
		store.SettingMode:      string(snap.Mode),
		store.SettingEndpoint:  snap.Endpoint,
		store.SettingBatchSize: strconv.Itoa(snap.BatchSize),
	})
}
