package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/shlex"

	"github.com/jameshope87/selfiebot/internal/debug"
	"github.com/jameshope87/selfiebot/internal/fault"
)

// RpicamConfig holds the command templates for an rpicam-apps camera.
type RpicamConfig struct {
	PreviewCommand string // e.g. "rpicam-hello -t 0 --fullscreen"; empty = no preview
	StillCommand   string // e.g. "rpicam-still --nopreview --immediate -o"; the path is appended
	HFlip          bool
	Rotation       int
}

// Rpicam drives the Raspberry Pi camera through the rpicam-apps command line
// tools. The camera can only be opened by one process, so the preview
// process is stopped for the duration of a still capture and restarted after.
type Rpicam struct {
	previewArgs []string
	stillArgs   []string
	transform   []string

	mu      sync.Mutex
	preview *exec.Cmd
}

// NewRpicam parses the command templates.
func NewRpicam(cfg RpicamConfig) (*Rpicam, error) {
	still, err := shlex.Split(cfg.StillCommand)
	if err != nil {
		return nil, fault.Configf("camera.still_command: %v", err)
	}
	if len(still) == 0 {
		return nil, fault.Configf("camera.still_command is empty")
	}
	preview, err := shlex.Split(cfg.PreviewCommand)
	if err != nil {
		return nil, fault.Configf("camera.preview_command: %v", err)
	}

	var transform []string
	if cfg.HFlip {
		transform = append(transform, "--hflip")
	}
	if cfg.Rotation != 0 {
		transform = append(transform, "--rotation", strconv.Itoa(cfg.Rotation))
	}

	return &Rpicam{
		previewArgs: preview,
		stillArgs:   still,
		transform:   transform,
	}, nil
}

// StartPreview launches the preview process if one is configured and not
// already running.
func (r *Rpicam) StartPreview(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startPreviewLocked()
}

func (r *Rpicam) startPreviewLocked() error {
	if len(r.previewArgs) == 0 || r.preview != nil {
		return nil
	}
	args := append(append([]string{}, r.previewArgs[1:]...), r.transform...)
	cmd := exec.Command(r.previewArgs[0], args...)
	if err := cmd.Start(); err != nil {
		return fault.HardwareErr("start preview", err)
	}
	debug.Verbose("Camera: preview started (pid %d)", cmd.Process.Pid)
	r.preview = cmd
	return nil
}

func (r *Rpicam) stopPreviewLocked() {
	if r.preview == nil {
		return
	}
	cmd := r.preview
	r.preview = nil

	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
	debug.Verbose("Camera: preview stopped")
}

// Capture runs the still command with path appended. A missing output file
// counts as a failed capture.
func (r *Rpicam) Capture(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hadPreview := r.preview != nil
	r.stopPreviewLocked()

	_ = os.Remove(path)
	args := append(append(append([]string{}, r.stillArgs[1:]...), path), r.transform...)
	debug.Verbose("Camera: %s %v", r.stillArgs[0], args)
	out, err := exec.CommandContext(ctx, r.stillArgs[0], args...).CombinedOutput()

	if hadPreview {
		if perr := r.startPreviewLocked(); perr != nil {
			debug.Error(perr)
		}
	}

	if err != nil {
		return fault.HardwareErr("capture", fmt.Errorf("%w: %s", err, out))
	}
	if _, err := os.Stat(path); err != nil {
		return fault.HardwareErr("capture", fmt.Errorf("no image written: %w", err))
	}
	return nil
}

// Close stops the preview.
func (r *Rpicam) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopPreviewLocked()
	return nil
}
