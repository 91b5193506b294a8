package source

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/landmark"
)

// HolisticScript is the detector service looked up when no script is configured.
const HolisticScript = "holistic_service.py"

// DefaultIdleShutdown is how long the subprocess may sit unused before it is stopped.
const DefaultIdleShutdown = 30 * time.Second

// ErrScriptNotFound is returned when the holistic service script cannot be located.
var ErrScriptNotFound = errors.New(HolisticScript + " not found")

// HolisticConfig configures the detector subprocess.
type HolisticConfig struct {
	Script       string // empty searches the default locations
	Python       string // empty prefers a venv, then python3
	IdleShutdown time.Duration
}

// HolisticDetector implements Detector using a Python MediaPipe Holistic
// subprocess. Each request is a 4-byte big-endian length followed by a JPEG;
// each response is one JSON line with the landmark sets.
type HolisticDetector struct {
	config    HolisticConfig
	script    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	conn      *holisticConn
	mu        sync.Mutex
	idleTimer *time.Timer
}

// NewHolisticDetector creates a detector. The subprocess is started lazily on
// the first Detect.
func NewHolisticDetector(config HolisticConfig) (*HolisticDetector, error) {
	script := config.Script
	if script == "" {
		script = findScript(HolisticScript)
	}
	if script == "" {
		return nil, ErrScriptNotFound
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("holistic script: %w", err)
	}
	if config.IdleShutdown <= 0 {
		config.IdleShutdown = DefaultIdleShutdown
	}

	return &HolisticDetector{config: config, script: script}, nil
}

// Detect encodes the frame and asks the subprocess for landmarks.
func (d *HolisticDetector) Detect(frame *gocv.Mat) (landmark.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return landmark.Result{}, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return landmark.Result{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	res, err := d.conn.exchange(buf.GetBytes())
	if err != nil {
		// A broken pipe leaves the protocol out of sync; restart on next use
		d.shutdown()
		return landmark.Result{}, err
	}

	d.resetIdleTimer()
	return res, nil
}

// Close shuts down the Python process.
func (d *HolisticDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *HolisticDetector) ensureStarted() error {
	if d.cmd != nil {
		return nil
	}

	python := d.config.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	cmd := exec.Command(python, d.script)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start holistic service: %w", err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.conn = newHolisticConn(stdin, stdout)
	return nil
}

func (d *HolisticDetector) shutdown() error {
	if d.cmd == nil {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	d.stdin.Close()
	err := d.cmd.Wait()
	d.cmd = nil
	d.stdin = nil
	d.conn = nil
	return err
}

func (d *HolisticDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.config.IdleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

// holisticConn speaks the length-prefixed JPEG / JSON-line protocol.
type holisticConn struct {
	w io.Writer
	r *bufio.Reader
}

func newHolisticConn(w io.Writer, r io.Reader) *holisticConn {
	return &holisticConn{w: w, r: bufio.NewReader(r)}
}

// holisticResponse is one line from the service.
type holisticResponse struct {
	landmark.Result
	Error string `json:"error,omitempty"`
}

func (c *holisticConn) exchange(jpeg []byte) (landmark.Result, error) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(jpeg)))

	if _, err := c.w.Write(length[:]); err != nil {
		return landmark.Result{}, fmt.Errorf("write length: %w", err)
	}
	if _, err := c.w.Write(jpeg); err != nil {
		return landmark.Result{}, fmt.Errorf("write data: %w", err)
	}

	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return landmark.Result{}, fmt.Errorf("read response: %w", err)
	}

	var resp holisticResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return landmark.Result{}, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return landmark.Result{}, fmt.Errorf("holistic service: %s", resp.Error)
	}
	return resp.Result, nil
}

// findScript looks for name under scripts/ near the working directory, the
// executable, and ~/.mudra.
func findScript(name string) string {
	var execDir string
	if execPath, err := os.Executable(); err == nil {
		execDir = filepath.Dir(execPath)
	}
	homeDir, _ := os.UserHomeDir()

	return firstExisting(
		filepath.Join("scripts", name),
		filepath.Join("..", "scripts", name),
		filepath.Join(execDir, "scripts", name),
		filepath.Join(homeDir, ".mudra", "scripts", name),
	)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	var execDir string
	if execPath, err := os.Executable(); err == nil {
		execDir = filepath.Dir(execPath)
	}
	homeDir, _ := os.UserHomeDir()

	return firstExisting(
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(homeDir, ".mudra/venv/bin/python"),
	)
}

func firstExisting(candidates ...string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return ""
}
