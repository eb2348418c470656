package overlay

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/jameshope87/selfiebot/internal/debug"
)

// Event is one operation applied to a Surface.
type Event struct {
	Op      string `json:"op"` // add, remove, opacity, text
	Handle  Handle `json:"id,omitempty"`
	Layer   int    `json:"layer,omitempty"`
	Opacity uint8  `json:"opacity"`
	Width   int    `json:"w,omitempty"`
	Height  int    `json:"h,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Recorder is a headless Surface. It keeps the set of visible overlays and is
// used when the booth runs without a display. The operation log is only kept
// when enabled with WithEventLog.
type Recorder struct {
	mu      sync.Mutex
	visible map[Handle]Event
	text    string
	logging bool
	events  []Event
	maxSeen int
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithEventLog keeps every operation for Events. The log is unbounded, so
// leave it off in long-running processes.
func WithEventLog() RecorderOption {
	return func(r *Recorder) { r.logging = true }
}

// NewRecorder returns an empty Recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{visible: make(map[Handle]Event)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) log(ev Event) {
	if r.logging {
		r.events = append(r.events, ev)
	}
}

func (r *Recorder) Add(h Handle, frame *image.RGBA, size image.Point, layer int, opacity uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visible[h]; ok {
		return fmt.Errorf("overlay %d already shown", h)
	}
	ev := Event{Op: "add", Handle: h, Layer: layer, Opacity: opacity, Width: size.X, Height: size.Y}
	r.visible[h] = ev
	r.log(ev)
	if len(r.visible) > r.maxSeen {
		r.maxSeen = len(r.visible)
	}
	debug.Trace("Recorder: add %d layer=%d frame=%v", h, layer, frame.Bounds().Size())
	return nil
}

func (r *Recorder) Remove(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visible[h]; !ok {
		return fmt.Errorf("overlay %d not shown", h)
	}
	delete(r.visible, h)
	r.log(Event{Op: "remove", Handle: h})
	return nil
}

func (r *Recorder) SetOpacity(h Handle, opacity uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.visible[h]
	if !ok {
		return fmt.Errorf("overlay %d not shown", h)
	}
	ev.Opacity = opacity
	r.visible[h] = ev
	r.log(Event{Op: "opacity", Handle: h, Opacity: opacity})
	return nil
}

func (r *Recorder) SetText(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = text
	r.log(Event{Op: "text", Text: text})
	if text != "" {
		debug.Live("Display: %s", text)
	}
	return nil
}

// Visible returns the visible overlays ordered by layer, then handle.
func (r *Recorder) Visible() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.visible))
	for _, ev := range r.visible {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

// Events returns a copy of the operation log, or nil when logging is off.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Text returns the current annotation.
func (r *Recorder) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text
}

// MaxVisible returns the largest number of overlays visible at once.
func (r *Recorder) MaxVisible() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxSeen
}
