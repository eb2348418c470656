package capture

import (
	"context"
	"strconv"
	"time"

	"github.com/jameshope87/selfiebot/internal/archive"
	"github.com/jameshope87/selfiebot/internal/debug"
	"github.com/jameshope87/selfiebot/internal/fault"
	"github.com/jameshope87/selfiebot/internal/hw/camera"
	"github.com/jameshope87/selfiebot/internal/overlay"
)

// Annotator writes the transient text annotation on the preview.
type Annotator interface {
	SetText(text string) error
}

// EnhanceFunc rewrites the image at path in place.
type EnhanceFunc func(path string) error

// Shot is one captured photograph within a session.
type Shot struct {
	Index       int
	CurrentPath string // working copy, overwritten every session
	ArchivePath string // permanent copy, unique per session and index
	Enhanced    bool
}

// Params defines the per-shot countdown.
type Params struct {
	Countdown int           // ticks counted down before the shutter fires
	Tick      time.Duration // duration of one countdown tick
	Total     int           // shots per session, for progress output
}

// Sequencer takes a single shot: countdown, capture, archive, enhance.
type Sequencer struct {
	camera  camera.Camera
	text    Annotator
	layout  archive.Layout
	enhance EnhanceFunc
	params  Params
}

func NewSequencer(c camera.Camera, text Annotator, layout archive.Layout, enhance EnhanceFunc, p Params) *Sequencer {
	return &Sequencer{
		camera:  c,
		text:    text,
		layout:  layout,
		enhance: enhance,
		params:  p,
	}
}

// CaptureShot runs the countdown for shot index, captures into the working
// copy, archives it under prefix and enhances the working copy.
//
// Every failure is a hardware fault. A shot that fails after archiving keeps
// its archive file.
func (s *Sequencer) CaptureShot(ctx context.Context, index int, prefix string) (Shot, error) {
	shot := Shot{
		Index:       index,
		CurrentPath: s.layout.CurrentPath(index),
		ArchivePath: archive.ArchivePath(prefix, index),
	}

	// 1. Countdown
	for n := s.params.Countdown; n >= 1; n-- {
		debug.Countdown(index, n)
		if err := s.text.SetText(strconv.Itoa(n)); err != nil {
			return shot, asHardware("countdown", err)
		}
		if err := overlay.Sleep(ctx, s.params.Tick); err != nil {
			return shot, err
		}
	}

	// 2. Clear the annotation so it is not in the frame
	if err := s.text.SetText(""); err != nil {
		return shot, asHardware("countdown", err)
	}

	// 3. Capture into the working copy
	if err := s.camera.Capture(ctx, shot.CurrentPath); err != nil {
		return shot, asHardware("capture", err)
	}
	debug.Shot(index, s.params.Total, shot.CurrentPath)

	// 4. Archive the untouched frame
	if err := archive.Copy(shot.CurrentPath, shot.ArchivePath); err != nil {
		return shot, fault.HardwareErr("archive", err)
	}
	debug.Verbose("Archived %s", shot.ArchivePath)

	// 5. Enhance the working copy in place
	if s.enhance != nil {
		if err := s.enhance(shot.CurrentPath); err != nil {
			return shot, fault.HardwareErr("enhance", err)
		}
		shot.Enhanced = true
	}

	return shot, nil
}

func asHardware(op string, err error) error {
	if fault.Is(err, fault.Hardware) {
		return err
	}
	return fault.HardwareErr(op, err)
}
