// Package tray provides a system tray interface for server-side capture.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/mudra/internal/submit"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle   func(enabled bool)
	onMode     func(mode submit.Mode)
	onSettings func()
	onQuit     func()
	enabled    bool
	mode       submit.Mode
	busy       bool
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuToggle   *systray.MenuItem
	menuMode     *systray.MenuItem
	menuLastSign *systray.MenuItem
	menuSentence *systray.MenuItem
}

// New creates a Tray with capture enabled and the given prediction mode.
func New(mode submit.Mode) *Tray {
	return &Tray{
		enabled: true,
		mode:    mode,
	}
}

// OnToggle sets the callback called when capture is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnMode sets the callback called when the prediction mode is switched.
func (t *Tray) OnMode(fn func(mode submit.Mode)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMode = fn
}

// OnSettings sets the callback called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit stops the tray event loop.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle(titleText(false))
	systray.SetTooltip("Mudra Sign Recognition")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleText(t.enabled), "Toggle capture")
	t.menuMode = systray.AddMenuItem(modeText(t.mode), "Switch between the online and offline model")
	systray.AddSeparator()

	t.menuLastSign = systray.AddMenuItem(lastSignText(""), "Last predicted sign")
	t.menuLastSign.Disable()
	t.menuSentence = systray.AddMenuItem(sentenceText(""), "Running sentence")
	t.menuSentence.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Mudra")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-t.menuMode.ClickedCh:
				t.handleMode()
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleText(enabled))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Callbacks run outside the lock so they may call back into the tray
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleMode() {
	t.mu.Lock()
	next := submit.ModeLocal
	if t.mode == submit.ModeLocal {
		next = submit.ModeRemote
	}
	callback := t.onMode
	t.mu.Unlock()

	if callback != nil {
		callback(next)
	}
	t.SetMode(next)
}

func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetMode updates the mode menu item, for example after the settings API changed it.
func (t *Tray) SetMode(mode submit.Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.mode = mode
	if t.menuMode != nil {
		t.menuMode.SetTitle(modeText(mode))
	}
}

// SetPrediction shows the latest sign and sentence.
func (t *Tray) SetPrediction(sign, sentence string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLastSign != nil {
		t.menuLastSign.SetTitle(lastSignText(sign))
	}
	if t.menuSentence != nil {
		t.menuSentence.SetTitle(sentenceText(sentence))
	}
}

// SetBusy marks the tray title while a batch is being predicted.
func (t *Tray) SetBusy(busy bool) {
	t.mu.Lock()
	changed := t.busy != busy
	t.busy = busy
	ready := t.menuToggle != nil
	t.mu.Unlock()

	if changed && ready {
		systray.SetTitle(titleText(busy))
	}
}

// IsEnabled returns the current capture state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// Mode returns the mode the tray currently shows.
func (t *Tray) Mode() submit.Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

func titleText(busy bool) string {
	if busy {
		return "Mudra …"
	}
	return "Mudra"
}

func toggleText(enabled bool) string {
	if enabled {
		return "● Capturing"
	}
	return "○ Paused"
}

func modeText(mode submit.Mode) string {
	if mode == submit.ModeLocal {
		return "Model: Offline"
	}
	return "Model: Online"
}

func lastSignText(sign string) string {
	if sign == "" {
		return "Last: none"
	}
	return "Last: " + sign
}

func sentenceText(sentence string) string {
	if sentence == "" {
		return "Sentence: -"
	}
	return "Sentence: " + sentence
}
