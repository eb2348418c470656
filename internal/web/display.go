package web

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/jameshope87/selfiebot/internal/overlay"
)

// Scene is the complete display state sent to a newly connected kiosk.
type Scene struct {
	Width    int             `json:"width"`
	Height   int             `json:"height"`
	Overlays []overlay.Event `json:"overlays"`
	Text     string          `json:"text"`
}

// Display is an overlay.Surface rendered by the kiosk page. Frames are kept
// as PNG until their overlay is removed; every change is published on the
// status stream.
type Display struct {
	width, height int
	broadcaster   *StatusBroadcaster
	rec           *overlay.Recorder

	mu     sync.RWMutex
	frames map[overlay.Handle][]byte
}

// NewDisplay returns a Display for a width x height screen.
func NewDisplay(b *StatusBroadcaster, width, height int) *Display {
	return &Display{
		width:       width,
		height:      height,
		broadcaster: b,
		rec:         overlay.NewRecorder(),
		frames:      make(map[overlay.Handle][]byte),
	}
}

func (d *Display) Add(h overlay.Handle, frame *image.RGBA, size image.Point, layer int, opacity uint8) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return fmt.Errorf("encode overlay %d: %w", h, err)
	}
	if err := d.rec.Add(h, frame, size, layer, opacity); err != nil {
		return err
	}

	d.mu.Lock()
	d.frames[h] = buf.Bytes()
	d.mu.Unlock()

	d.broadcaster.Publish(KindOverlay, overlay.Event{
		Op: "add", Handle: h, Layer: layer, Opacity: opacity, Width: size.X, Height: size.Y,
	})
	return nil
}

func (d *Display) Remove(h overlay.Handle) error {
	if err := d.rec.Remove(h); err != nil {
		return err
	}

	d.mu.Lock()
	delete(d.frames, h)
	d.mu.Unlock()

	d.broadcaster.Publish(KindOverlay, overlay.Event{Op: "remove", Handle: h})
	return nil
}

func (d *Display) SetOpacity(h overlay.Handle, opacity uint8) error {
	if err := d.rec.SetOpacity(h, opacity); err != nil {
		return err
	}
	d.broadcaster.Publish(KindOverlay, overlay.Event{Op: "opacity", Handle: h, Opacity: opacity})
	return nil
}

func (d *Display) SetText(text string) error {
	if err := d.rec.SetText(text); err != nil {
		return err
	}
	d.broadcaster.Publish(KindOverlay, overlay.Event{Op: "text", Text: text})
	return nil
}

// Frame returns the PNG bytes of a visible overlay.
func (d *Display) Frame(h overlay.Handle) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.frames[h]
	return data, ok
}

// Scene returns the current display state.
func (d *Display) Scene() Scene {
	return Scene{
		Width:    d.width,
		Height:   d.height,
		Overlays: d.rec.Visible(),
		Text:     d.rec.Text(),
	}
}
