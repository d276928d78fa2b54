// Package daemon manages the engram service lifecycle: PID/state files,
// liveness probes, graceful stop, and detached start for the long-running
// process that hosts the REST API and the consolidation loop.
package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/engramhq/engram/internal/logging"
)

var log = logging.GetLogger("daemon")

const (
	PIDFileName   = "engram.pid"
	StateFileName = "engram.state"
)

// State is the service state persisted to disk alongside the PID file.
type State struct {
	PID         int       `json:"pid"`
	StartTime   time.Time `json:"start_time"`
	Version     string    `json:"version"`
	RESTEnabled bool      `json:"rest_enabled"`
	RESTHost    string    `json:"rest_host"`
	RESTPort    int       `json:"rest_port"`
}

// Status is the live view assembled from the PID and state files.
type Status struct {
	Running     bool          `json:"running"`
	PID         int           `json:"pid,omitempty"`
	Uptime      time.Duration `json:"uptime,omitempty"`
	Version     string        `json:"version,omitempty"`
	RESTEnabled bool          `json:"rest_enabled,omitempty"`
	RESTHost    string        `json:"rest_host,omitempty"`
	RESTPort    int           `json:"rest_port,omitempty"`
}

// Daemon manages the engram service lifecycle.
type Daemon struct {
	configDir string
	version   string
}

// New creates a Daemon rooted at configDir.
func New(configDir, version string) *Daemon {
	return &Daemon{configDir: configDir, version: version}
}

// PIDPath returns the path to the PID file.
func (d *Daemon) PIDPath() string {
	return filepath.Join(d.configDir, PIDFileName)
}

// StatePath returns the path to the state file.
func (d *Daemon) StatePath() string {
	return filepath.Join(d.configDir, StateFileName)
}

// WritePID writes the current process PID.
func (d *Daemon) WritePID() error {
	return os.WriteFile(d.PIDPath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

// ReadPID reads the recorded PID.
func (d *Daemon) ReadPID() (int, error) {
	data, err := os.ReadFile(d.PIDPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

// RemovePID removes the PID file.
func (d *Daemon) RemovePID() error {
	return os.Remove(d.PIDPath())
}

// WriteState persists the service state.
func (d *Daemon) WriteState(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.StatePath(), data, 0644)
}

// ReadState loads the persisted service state.
func (d *Daemon) ReadState() (*State, error) {
	data, err := os.ReadFile(d.StatePath())
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// RemoveState removes the state file.
func (d *Daemon) RemoveState() error {
	return os.Remove(d.StatePath())
}

// IsRunning reports whether the recorded PID is alive.
func (d *Daemon) IsRunning() bool {
	pid, err := d.ReadPID()
	if err != nil {
		return false
	}
	return d.isProcessRunning(pid)
}

func (d *Daemon) isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without touching the process.
	return process.Signal(syscall.Signal(0)) == nil
}

// Status assembles the current service status, cleaning up stale files.
func (d *Daemon) Status() *Status {
	status := &Status{Running: false}

	pid, err := d.ReadPID()
	if err != nil {
		return status
	}
	if !d.isProcessRunning(pid) {
		d.RemovePID()
		d.RemoveState()
		return status
	}

	status.Running = true
	status.PID = pid

	if state, err := d.ReadState(); err == nil {
		status.Version = state.Version
		status.RESTEnabled = state.RESTEnabled
		status.RESTHost = state.RESTHost
		status.RESTPort = state.RESTPort
		status.Uptime = time.Since(state.StartTime)
	}
	return status
}

// Start records this process as the running service.
func (d *Daemon) Start(restEnabled bool, restHost string, restPort int) error {
	log.Info("starting service", "rest_enabled", restEnabled)

	if d.IsRunning() {
		return fmt.Errorf("service is already running")
	}
	if err := d.WritePID(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	state := &State{
		PID:         os.Getpid(),
		StartTime:   time.Now(),
		Version:     d.version,
		RESTEnabled: restEnabled,
		RESTHost:    restHost,
		RESTPort:    restPort,
	}
	if err := d.WriteState(state); err != nil {
		d.RemovePID()
		return fmt.Errorf("failed to write state file: %w", err)
	}

	log.Info("service started", "pid", state.PID, "version", d.version)
	return nil
}

// Stop sends SIGTERM and waits for the process to exit, escalating to
// SIGKILL after five seconds.
func (d *Daemon) Stop() error {
	log.Info("stopping service")

	pid, err := d.ReadPID()
	if err != nil {
		return fmt.Errorf("service is not running (no PID file)")
	}
	if !d.isProcessRunning(pid) {
		d.RemovePID()
		d.RemoveState()
		return fmt.Errorf("service is not running (stale PID file)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	for i := 0; i < 50; i++ {
		if !d.isProcessRunning(pid) {
			d.RemovePID()
			d.RemoveState()
			log.Info("service stopped gracefully", "pid", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	log.Warn("service did not stop gracefully, sending SIGKILL", "pid", pid)
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}
	d.RemovePID()
	d.RemoveState()
	return nil
}

// Cleanup removes the PID and state files on graceful shutdown.
func (d *Daemon) Cleanup() {
	d.RemovePID()
	d.RemoveState()
}

// Daemonize relaunches the current executable detached from the terminal.
// The parent returns immediately; the child becomes the service.
func (d *Daemon) Daemonize(args []string) error {
	if d.IsRunning() {
		return fmt.Errorf("service is already running")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(executable, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	return nil
}
