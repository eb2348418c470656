// Package overlay manages the image layers and the text annotation drawn over
// the camera preview.
//
// The Manager owns overlay identity and bookkeeping; a Surface renders. Only
// one goroutine may use a Manager at a time.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/jameshope87/selfiebot/internal/debug"
	"github.com/jameshope87/selfiebot/internal/fault"
)

// Handle identifies a displayed overlay.
type Handle int

// None is the sentinel for "no overlay". Hiding None is a no-op.
const None Handle = 0

// ErrNoOverlay is returned when mutating None or a handle that is not shown.
var ErrNoOverlay = errors.New("no such overlay")

// Surface is the rendering side of the overlay system, e.g. the kiosk display
// or a headless recorder.
type Surface interface {
	// Add displays frame (block-aligned) at layer. size is the visible
	// portion of the frame.
	Add(h Handle, frame *image.RGBA, size image.Point, layer int, opacity uint8) error
	Remove(h Handle) error
	SetOpacity(h Handle, opacity uint8) error
	// SetText replaces the single text annotation; "" clears it.
	SetText(text string) error
}

// Overlay describes one live overlay.
type Overlay struct {
	Handle  Handle
	Layer   int
	Opacity uint8
	Source  string
	Size    image.Point
}

// Manager tracks live overlays on a Surface.
type Manager struct {
	surface Surface
	width   int

	next Handle
	live map[Handle]*Overlay
	text string
}

// NewManager returns a Manager that scales overlays to displayWidth.
func NewManager(s Surface, displayWidth int) *Manager {
	return &Manager{
		surface: s,
		width:   displayWidth,
		live:    make(map[Handle]*Overlay),
	}
}

// Show displays the image at path on layer. With d > 0 it blocks for d,
// removes the overlay again and returns None; otherwise the caller owns the
// returned handle and must Hide it.
//
// A missing or undecodable image is a resource fault; a rendering failure is
// a hardware fault.
func (m *Manager) Show(ctx context.Context, path string, layer int, opacity uint8, d time.Duration) (Handle, error) {
	frame, size, err := Prepare(path, m.width)
	if err != nil {
		return None, fault.ResourceErr("load overlay "+path, err)
	}

	m.next++
	h := m.next
	if err := m.surface.Add(h, frame, size, layer, opacity); err != nil {
		return None, fault.HardwareErr("add overlay", err)
	}
	m.live[h] = &Overlay{Handle: h, Layer: layer, Opacity: opacity, Source: path, Size: size}
	debug.Overlay("add", int(h), layer)

	if d <= 0 {
		return h, nil
	}

	werr := Sleep(ctx, d)
	if err := m.Hide(h); err != nil {
		return None, err
	}
	return None, werr
}

// Hide removes the overlay. Hiding None or an already hidden handle does
// nothing.
func (m *Manager) Hide(h Handle) error {
	o, ok := m.live[h]
	if h == None || !ok {
		return nil
	}
	delete(m.live, h)
	if err := m.surface.Remove(h); err != nil {
		return fault.HardwareErr("remove overlay", err)
	}
	debug.Overlay("remove", int(h), o.Layer)
	return nil
}

// SetOpacity changes a live overlay's opacity in place.
func (m *Manager) SetOpacity(h Handle, opacity uint8) error {
	o, ok := m.live[h]
	if h == None || !ok {
		return fmt.Errorf("set opacity on handle %d: %w", h, ErrNoOverlay)
	}
	if err := m.surface.SetOpacity(h, opacity); err != nil {
		return fault.HardwareErr("set opacity", err)
	}
	o.Opacity = opacity
	debug.Trace("Overlay %d opacity=%d", h, opacity)
	return nil
}

// SetText replaces the text annotation; "" clears it.
func (m *Manager) SetText(text string) error {
	if err := m.surface.SetText(text); err != nil {
		return fault.HardwareErr("set text", err)
	}
	m.text = text
	return nil
}

// Text returns the current annotation.
func (m *Manager) Text() string {
	return m.text
}

// Opacity returns the opacity of a live overlay.
func (m *Manager) Opacity(h Handle) (uint8, bool) {
	o, ok := m.live[h]
	if !ok {
		return 0, false
	}
	return o.Opacity, true
}

// Live returns the live overlays ordered by handle.
func (m *Manager) Live() []Overlay {
	out := make([]Overlay, 0, len(m.live))
	for _, o := range m.live {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Clear hides every live overlay and the text annotation. All removals are
// attempted; the first error is returned.
func (m *Manager) Clear() error {
	var first error
	for _, o := range m.Live() {
		if err := m.Hide(o.Handle); err != nil && first == nil {
			first = err
		}
	}
	if m.text != "" {
		if err := m.SetText(""); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
