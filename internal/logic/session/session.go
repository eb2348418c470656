// Package session implements the booth's top-level state machine:
// Idle -> Armed -> Capturing -> Printing -> Playback -> Idle.
//
// A single goroutine (Run) owns the session, the overlay manager and the
// reading side of the button latch. It only suspends at timed waits and, in
// Idle, on the latch and the blink ticker.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jameshope87/selfiebot/internal/archive"
	"github.com/jameshope87/selfiebot/internal/debug"
	"github.com/jameshope87/selfiebot/internal/fault"
	"github.com/jameshope87/selfiebot/internal/logic/capture"
	"github.com/jameshope87/selfiebot/internal/overlay"
	"github.com/jameshope87/selfiebot/internal/store"
)

// State is a session state.
type State int

const (
	Idle State = iota
	Armed
	Capturing
	Printing
	Playback
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Capturing:
		return "capturing"
	case Printing:
		return "printing"
	case Playback:
		return "playback"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Overlay layers.
const (
	LayerIntro    = 3
	LayerIntroTop = 4 // blinks while idle
	LayerPrompt   = 3
	LayerPlayback = 3
)

// Trigger is the reading side of the button latch.
type Trigger interface {
	Arm()
	Disarm()
	Pressed() <-chan struct{}
}

// Shooter takes one shot of a session.
type Shooter interface {
	CaptureShot(ctx context.Context, index int, prefix string) (capture.Shot, error)
}

// Printer submits a print job without waiting for it.
type Printer interface {
	Submit(files []string) error
}

// Ledger records finished and aborted sessions.
type Ledger interface {
	RecordSession(ctx context.Context, rec store.Session) error
}

// Assets are the static overlay images.
type Assets struct {
	Intro    string // idle screen, layer 3
	IntroTop string // idle screen blink layer, layer 4
	GetReady string // shown before each shot
}

// Check reports a resource fault for the first missing asset.
func (a Assets) Check() error {
	for _, p := range []string{a.Intro, a.IntroTop, a.GetReady} {
		if _, err := os.Stat(p); err != nil {
			return fault.ResourceErr("overlay asset", err)
		}
	}
	return nil
}

// Params holds the session timing.
type Params struct {
	PhotoCount    int
	PrepDelay     time.Duration // "get ready" prompt per shot
	PlaybackDwell time.Duration // review time per shot
	BlinkInterval time.Duration // idle blink half-period
	PollInterval  time.Duration // idle loop tick
	WarmUp        time.Duration // camera stabilisation before the first idle
}

// Deps are the session's collaborators. Ledger and OnTransition may be nil.
type Deps struct {
	Overlays *overlay.Manager
	Shooter  Shooter
	Trigger  Trigger
	Printer  Printer
	Layout   archive.Layout
	Ledger   Ledger
	Assets   Assets

	// Now defaults to time.Now.
	Now func() time.Time
	// OnTransition is called from the session goroutine after every state
	// change.
	OnTransition func(from, to State)
}

// Snapshot is a consistent copy of the session's observable fields.
type Snapshot struct {
	State     State  `json:"-"`
	StateName string `json:"state"`
	ID        string `json:"id,omitempty"`
	ShotIndex int    `json:"shot_index"`
	Prefix    string `json:"prefix,omitempty"`
}

// Session is the long-lived booth controller.
type Session struct {
	deps   Deps
	params Params

	mu                sync.Mutex
	state             State
	shotIndex         int
	filenamePrefix    string
	introBlinkCounter int
	id                string
	startedAt         time.Time

	shots    []capture.Shot
	intro    overlay.Handle
	introTop overlay.Handle
}

// New returns a Session in the Idle state.
func New(d Deps, p Params) *Session {
	if d.Now == nil {
		d.Now = time.Now
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 100 * time.Millisecond
	}
	if p.BlinkInterval < p.PollInterval {
		p.BlinkInterval = p.PollInterval
	}
	return &Session{deps: d, params: p}
}

// Snapshot returns the current state, session id, shot index and prefix.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:     s.state,
		StateName: s.state.String(),
		ID:        s.id,
		ShotIndex: s.shotIndex,
		Prefix:    s.filenamePrefix,
	}
}

// Run waits for the warm-up delay, then cycles through sessions until ctx
// is cancelled (returns nil) or a fatal fault occurs (returns it). Overlays
// are cleared and the button disarmed on every exit path.
func (s *Session) Run(ctx context.Context) error {
	defer s.release()

	debug.Info("Warming up camera (%v)", s.params.WarmUp)
	if err := overlay.Sleep(ctx, s.params.WarmUp); err != nil {
		return nil
	}

	for {
		if err := s.idle(ctx); err != nil {
			if ctx.Err() != nil || fault.Fatal(err) {
				return s.exitErr(ctx, err)
			}
			s.recoverIdle(ctx, err)
			continue
		}

		err := s.cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if fault.Fatal(err) {
				return err
			}
			s.abort(ctx, err)
		}
	}
}

func (s *Session) exitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// idle shows the intro overlays, arms the button and blinks the top overlay
// until a press is received.
func (s *Session) idle(ctx context.Context) error {
	var err error
	if s.intro, err = s.deps.Overlays.Show(ctx, s.deps.Assets.Intro, LayerIntro, 255, 0); err != nil {
		return err
	}
	if s.introTop, err = s.deps.Overlays.Show(ctx, s.deps.Assets.IntroTop, LayerIntroTop, 255, 0); err != nil {
		return err
	}
	s.deps.Trigger.Arm()

	s.mu.Lock()
	s.introBlinkCounter = 0
	s.shotIndex = 0
	s.mu.Unlock()
	s.setState(Idle)
	debug.Info("Ready")

	ticksPerBlink := int(s.params.BlinkInterval / s.params.PollInterval)
	ticker := time.NewTicker(s.params.PollInterval)
	defer ticker.Stop()

	var opacity uint8 = 255
	for ticks := 1; ; ticks++ {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.deps.Trigger.Pressed():
			s.deps.Trigger.Disarm()
			return nil

		case <-ticker.C:
			if ticks%ticksPerBlink != 0 {
				continue
			}
			opacity = 255 - opacity
			if err := s.deps.Overlays.SetOpacity(s.introTop, opacity); err != nil {
				return err
			}
			s.mu.Lock()
			s.introBlinkCounter++
			s.mu.Unlock()
		}
	}
}

// cycle runs one session from Armed to the end of Playback.
func (s *Session) cycle(ctx context.Context) error {
	s.arm()

	s.setState(Capturing)
	if err := s.captureAll(ctx); err != nil {
		return err
	}

	s.setState(Printing)
	s.print()

	s.setState(Playback)
	if err := s.playback(ctx); err != nil {
		return err
	}

	if err := s.deps.Layout.ClearWorking(); err != nil {
		debug.Error(fmt.Errorf("clear working directory: %w", err))
	}
	s.record(ctx, store.StatusComplete, nil)
	return nil
}

func (s *Session) arm() {
	now := s.deps.Now()

	s.mu.Lock()
	s.startedAt = now
	s.filenamePrefix = s.deps.Layout.Prefix(now)
	s.id = uuid.NewString()
	s.shotIndex = 0
	s.mu.Unlock()
	s.shots = s.shots[:0]

	s.setState(Armed)
	debug.Value("Session", s.id)
	debug.Value("Prefix", s.filenamePrefix)

	// Hiding can only fail on a broken surface; the next overlay operation
	// reports that as a hardware fault.
	if err := s.deps.Overlays.Hide(s.introTop); err != nil {
		debug.Error(err)
	}
	if err := s.deps.Overlays.Hide(s.intro); err != nil {
		debug.Error(err)
	}
	s.intro, s.introTop = overlay.None, overlay.None
}

func (s *Session) captureAll(ctx context.Context) error {
	for i := 1; i <= s.params.PhotoCount; i++ {
		s.mu.Lock()
		s.shotIndex = i
		prefix := s.filenamePrefix
		s.mu.Unlock()

		if _, err := s.deps.Overlays.Show(ctx, s.deps.Assets.GetReady, LayerPrompt, 255, s.params.PrepDelay); err != nil {
			return err
		}
		shot, err := s.deps.Shooter.CaptureShot(ctx, i, prefix)
		if err != nil {
			return fmt.Errorf("shot %d: %w", i, err)
		}
		s.shots = append(s.shots, shot)
	}
	return nil
}

// print writes name.txt and submits the working copies. Failures are
// reported but never stop the session.
func (s *Session) print() {
	if _, err := s.deps.Layout.WriteMetadata(s.startedAt); err != nil {
		debug.Error(err)
	}
	files := make([]string, 0, len(s.shots))
	for _, shot := range s.shots {
		files = append(files, shot.CurrentPath)
	}
	if err := s.deps.Printer.Submit(files); err != nil {
		debug.Error(fmt.Errorf("print: %w", err))
	}
}

// playback shows each archived shot in order. The next shot is shown before
// the previous one is hidden so the screen never goes blank.
func (s *Session) playback(ctx context.Context) error {
	prev := overlay.None
	for _, shot := range s.shots {
		debug.Live("Playback %d/%d", shot.Index, len(s.shots))
		h, err := s.deps.Overlays.Show(ctx, shot.ArchivePath, LayerPlayback, 255, 0)
		if err != nil {
			if fault.Is(err, fault.Resource) {
				// An archived shot is not a packaged asset; losing one only
				// ends this session.
				err = fault.HardwareErr("playback", err)
			}
			return err
		}
		if err := s.deps.Overlays.Hide(prev); err != nil {
			return err
		}
		prev = h
		if err := overlay.Sleep(ctx, s.params.PlaybackDwell); err != nil {
			return err
		}
	}
	return s.deps.Overlays.Hide(prev)
}

// recoverIdle resets the display after a hardware fault in Idle and waits
// one blink interval before Idle is entered again.
func (s *Session) recoverIdle(ctx context.Context, err error) {
	s.deps.Trigger.Disarm()
	debug.Info("Display fault while idle, restarting intro: %v", err)
	if cerr := s.deps.Overlays.Clear(); cerr != nil {
		debug.Error(cerr)
	}
	overlay.Sleep(ctx, s.params.BlinkInterval)
}

// abort ends a session after a hardware fault: overlays are cleared, the
// working directory emptied and the failure recorded. Shots archived before
// the failure are kept.
func (s *Session) abort(ctx context.Context, err error) {
	debug.Info("Session aborted: %v", err)
	if cerr := s.deps.Overlays.Clear(); cerr != nil {
		debug.Error(cerr)
	}
	if cerr := s.deps.Layout.ClearWorking(); cerr != nil {
		debug.Error(cerr)
	}
	s.record(ctx, store.StatusAborted, err)
}

func (s *Session) record(ctx context.Context, status store.Status, cause error) {
	if s.deps.Ledger == nil {
		return
	}
	rec := store.Session{
		ID:        s.id,
		StartedAt: s.startedAt,
		EndedAt:   s.deps.Now(),
		Prefix:    s.filenamePrefix,
		Status:    status,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	for _, shot := range s.shots {
		rec.Shots = append(rec.Shots, shot.ArchivePath)
	}
	if err := s.deps.Ledger.RecordSession(ctx, rec); err != nil {
		debug.Error(fmt.Errorf("record session: %w", err))
	}
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	debug.State(from.String(), to.String())
	if s.deps.OnTransition != nil {
		s.deps.OnTransition(from, to)
	}
}

// release clears the display and disarms the button when Run exits.
func (s *Session) release() {
	s.deps.Trigger.Disarm()
	if err := s.deps.Overlays.Clear(); err != nil {
		debug.Error(err)
	}
}
