package session

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jameshope87/selfiebot/internal/archive"
	"github.com/jameshope87/selfiebot/internal/fault"
	"github.com/jameshope87/selfiebot/internal/hw/button"
	"github.com/jameshope87/selfiebot/internal/hw/camera"
	"github.com/jameshope87/selfiebot/internal/imaging"
	"github.com/jameshope87/selfiebot/internal/logic/capture"
	"github.com/jameshope87/selfiebot/internal/overlay"
	"github.com/jameshope87/selfiebot/internal/store"
)

const waitTimeout = 5 * time.Second

// fakePrinter records submitted jobs and the name.txt present at submit time.
type fakePrinter struct {
	mu       sync.Mutex
	jobs     [][]string
	metadata []string
	layout   archive.Layout
}

func (p *fakePrinter) Submit(files []string) error {
	data, _ := os.ReadFile(filepath.Join(p.layout.WorkingDir, archive.MetadataFile))
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, append([]string(nil), files...))
	p.metadata = append(p.metadata, string(data))
	return nil
}

func (p *fakePrinter) Jobs() ([][]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs, p.metadata
}

type fakeLedger struct {
	mu       sync.Mutex
	sessions []store.Session
}

func (l *fakeLedger) RecordSession(ctx context.Context, rec store.Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = append(l.sessions, rec)
	return nil
}

func (l *fakeLedger) Sessions() []store.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]store.Session(nil), l.sessions...)
}

// stepClock advances one minute per call so archive prefixes never collide.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type transition struct {
	from, to State
	events   int // recorder events logged at the time of the transition
	snap     Snapshot
}

type harness struct {
	layout  archive.Layout
	rec     *overlay.Recorder
	mgr     *overlay.Manager
	cam     *camera.Mock
	latch   *button.Latch
	printer *fakePrinter
	ledger  *fakeLedger
	steps   chan transition
	sess    *Session
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{G: 180, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func testParams() Params {
	return Params{
		PhotoCount:    3,
		PrepDelay:     2 * time.Millisecond,
		PlaybackDwell: 2 * time.Millisecond,
		BlinkInterval: 10 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}
}

func newHarness(t *testing.T, cam *camera.Mock, p Params) *harness {
	t.Helper()
	return newHarnessOn(t, cam, p, nil)
}

// newHarnessOn builds a harness whose overlays are rendered through wrap(rec)
// when wrap is not nil.
func newHarnessOn(t *testing.T, cam *camera.Mock, p Params, wrap func(overlay.Surface) overlay.Surface) *harness {
	t.Helper()
	root := t.TempDir()
	layout := archive.Layout{
		WorkingDir: filepath.Join(root, "current"),
		ArchiveDir: filepath.Join(root, "archive"),
	}
	assetsDir := filepath.Join(root, "assets")
	for _, dir := range []string{layout.WorkingDir, layout.ArchiveDir, assetsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	assets := Assets{
		Intro:    filepath.Join(assetsDir, "intro.png"),
		IntroTop: filepath.Join(assetsDir, "intro_blink.png"),
		GetReady: filepath.Join(assetsDir, "get_ready.png"),
	}
	writePNG(t, assets.Intro, 64, 32)
	writePNG(t, assets.IntroTop, 32, 16)
	writePNG(t, assets.GetReady, 48, 16)

	h := &harness{
		layout:  layout,
		rec:     overlay.NewRecorder(overlay.WithEventLog()),
		cam:     cam,
		latch:   button.NewLatch(),
		printer: &fakePrinter{layout: layout},
		ledger:  &fakeLedger{},
		steps:   make(chan transition, 64),
	}
	var surface overlay.Surface = h.rec
	if wrap != nil {
		surface = wrap(h.rec)
	}
	h.mgr = overlay.NewManager(surface, 800)
	seq := capture.NewSequencer(cam, h.mgr, layout, imaging.Enhance,
		capture.Params{Countdown: 3, Tick: time.Millisecond, Total: p.PhotoCount})
	clock := &stepClock{now: time.Date(2026, 10, 19, 14, 0, 0, 0, time.Local)}

	h.sess = New(Deps{
		Overlays: h.mgr,
		Shooter:  seq,
		Trigger:  h.latch,
		Printer:  h.printer,
		Layout:   layout,
		Ledger:   h.ledger,
		Assets:   assets,
		Now:      clock.Now,
		OnTransition: func(from, to State) {
			h.steps <- transition{from: from, to: to, events: len(h.rec.Events()), snap: h.sess.Snapshot()}
		},
	}, p)
	return h
}

func (h *harness) start(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sess.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func (h *harness) next(t *testing.T) transition {
	t.Helper()
	select {
	case tr := <-h.steps:
		return tr
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a state transition")
		return transition{}
	}
}

// waitIdle consumes transitions until the machine is Idle.
func (h *harness) waitIdle(t *testing.T) transition {
	t.Helper()
	for {
		if tr := h.next(t); tr.to == Idle {
			return tr
		}
	}
}

// cycle presses the button and returns every transition up to the next Idle.
func (h *harness) cycle(t *testing.T) []transition {
	t.Helper()
	if !h.latch.Set() {
		t.Fatal("button press dropped while idle")
	}
	var out []transition
	for {
		tr := h.next(t)
		out = append(out, tr)
		if tr.to == Idle {
			return out
		}
	}
}

func states(trs []transition) []State {
	out := make([]State, 0, len(trs))
	for _, tr := range trs {
		out = append(out, tr.to)
	}
	return out
}

func archived(t *testing.T, l archive.Layout) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(l.ArchiveDir, "*.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func workingEntries(t *testing.T, l archive.Layout) int {
	t.Helper()
	entries, err := os.ReadDir(l.WorkingDir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func stop(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on cancellation", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

// ---------- full session ----------

func TestSession_EndToEnd(t *testing.T) {
	h := newHarness(t, &camera.Mock{Width: 64, Height: 48}, testParams())
	cancel, done := h.start(t)

	h.waitIdle(t)
	if !h.latch.Armed() {
		t.Fatal("button not armed in Idle")
	}

	trs := h.cycle(t)
	want := []State{Armed, Capturing, Printing, Playback, Idle}
	if got := states(trs); !reflect.DeepEqual(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}

	armed := trs[0].snap
	if _, err := uuid.Parse(armed.ID); err != nil {
		t.Errorf("session id %q is not a UUID: %v", armed.ID, err)
	}
	if filepath.Dir(armed.Prefix) != h.layout.ArchiveDir {
		t.Errorf("prefix %q not under archive dir", armed.Prefix)
	}

	files := archived(t, h.layout)
	if len(files) != 3 {
		t.Fatalf("archive has %d files, want 3: %v", len(files), files)
	}
	for i, f := range files {
		if want := archive.ArchivePath(armed.Prefix, i+1); f != want {
			t.Errorf("archive[%d] = %q, want %q", i, f, want)
		}
	}

	jobs, metadata := h.printer.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("print jobs = %d, want 1", len(jobs))
	}
	if !reflect.DeepEqual(jobs[0], h.layout.CurrentImages(3)) {
		t.Errorf("printed %v, want %v", jobs[0], h.layout.CurrentImages(3))
	}
	ts := filepath.Base(armed.Prefix)
	if metadata[0] != "Name: "+ts {
		t.Errorf("name.txt = %q, want %q", metadata[0], "Name: "+ts)
	}

	if n := workingEntries(t, h.layout); n != 0 {
		t.Errorf("working dir has %d entries after playback, want 0", n)
	}
	if !h.latch.Armed() {
		t.Error("button not re-armed after playback")
	}

	sessions := h.ledger.Sessions()
	if len(sessions) != 1 || sessions[0].Status != store.StatusComplete || len(sessions[0].Shots) != 3 {
		t.Errorf("ledger = %+v, want one complete session with 3 shots", sessions)
	}
	if sessions[0].ID != armed.ID {
		t.Errorf("ledger id = %q, want %q", sessions[0].ID, armed.ID)
	}

	stop(t, cancel, done)
	if v := h.rec.Visible(); len(v) != 0 {
		t.Errorf("overlays visible after exit: %+v", v)
	}
	if h.latch.Armed() {
		t.Error("button still armed after exit")
	}
}

func TestSession_TwoSessionsDoNotCollide(t *testing.T) {
	h := newHarness(t, &camera.Mock{Width: 32, Height: 16}, testParams())
	cancel, done := h.start(t)

	h.waitIdle(t)
	first := h.cycle(t)[0].snap
	second := h.cycle(t)[0].snap

	if first.Prefix == second.Prefix || first.ID == second.ID {
		t.Errorf("sessions share identity: %+v / %+v", first, second)
	}
	if files := archived(t, h.layout); len(files) != 6 {
		t.Errorf("archive has %d files, want 6", len(files))
	}
	stop(t, cancel, done)
}

// ---------- failures ----------

func TestSession_CaptureFailureAbortsSession(t *testing.T) {
	h := newHarness(t, &camera.Mock{Width: 32, Height: 16, FailOn: 2}, testParams())
	cancel, done := h.start(t)

	h.waitIdle(t)
	trs := h.cycle(t)
	want := []State{Armed, Capturing, Idle}
	if got := states(trs); !reflect.DeepEqual(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}

	if files := archived(t, h.layout); len(files) != 1 {
		t.Errorf("archive has %d files, want 1 (shots before the failure)", len(files))
	}
	if jobs, _ := h.printer.Jobs(); len(jobs) != 0 {
		t.Errorf("printed %d jobs after a failed session", len(jobs))
	}
	if n := workingEntries(t, h.layout); n != 0 {
		t.Errorf("working dir has %d entries after abort, want 0", n)
	}
	if !h.latch.Armed() {
		t.Error("button not re-armed after abort")
	}

	sessions := h.ledger.Sessions()
	if len(sessions) != 1 || sessions[0].Status != store.StatusAborted {
		t.Fatalf("ledger = %+v, want one aborted session", sessions)
	}
	if len(sessions[0].Shots) != 1 || sessions[0].Error == "" {
		t.Errorf("aborted record = %+v", sessions[0])
	}

	// The booth keeps serving after a hardware fault.
	trs = h.cycle(t)
	if got := states(trs); !reflect.DeepEqual(got, []State{Armed, Capturing, Printing, Playback, Idle}) {
		t.Errorf("second session transitions = %v", got)
	}
	stop(t, cancel, done)
}

func TestSession_MissingAssetIsFatal(t *testing.T) {
	h := newHarness(t, camera.NewMock(), testParams())
	os.Remove(h.sess.deps.Assets.IntroTop)

	if err := h.sess.deps.Assets.Check(); !fault.Is(err, fault.Resource) {
		t.Errorf("Check() = %v, want resource fault", err)
	}

	_, done := h.start(t)
	select {
	case err := <-done:
		if !fault.Is(err, fault.Resource) {
			t.Errorf("Run() = %v, want resource fault", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not stop on a missing asset")
	}
	if v := h.rec.Visible(); len(v) != 0 {
		t.Errorf("overlays left visible: %+v", v)
	}
}

// ---------- playback ----------

func TestSession_PlaybackOrder(t *testing.T) {
	h := newHarness(t, &camera.Mock{Width: 32, Height: 16}, testParams())
	cancel, done := h.start(t)

	h.waitIdle(t)
	trs := h.cycle(t)
	stop(t, cancel, done)

	var start int
	for _, tr := range trs {
		if tr.to == Playback {
			start = tr.events
		}
	}
	events := h.rec.Events()[start:]
	if len(events) < 6 {
		t.Fatalf("only %d events after playback started", len(events))
	}
	events = events[:6]

	var ops []string
	for _, ev := range events {
		ops = append(ops, ev.Op)
	}
	if want := []string{"add", "add", "remove", "add", "remove", "remove"}; !reflect.DeepEqual(ops, want) {
		t.Fatalf("playback ops = %v, want %v", ops, want)
	}
	a, b, c := events[0].Handle, events[1].Handle, events[3].Handle
	if events[2].Handle != a || events[4].Handle != b || events[5].Handle != c {
		t.Errorf("playback hid overlays out of order: %+v", events)
	}

	// Never zero and never more than two playback overlays between the
	// first show and the last hide.
	live := 0
	for i, ev := range events {
		switch ev.Op {
		case "add":
			live++
		case "remove":
			live--
		}
		if i < len(events)-1 && (live < 1 || live > 2) {
			t.Errorf("after event %d: %d playback overlays visible", i, live)
		}
	}
}

// ---------- idle ----------

// flakySurface fails the first failOpacity SetOpacity calls.
type flakySurface struct {
	overlay.Surface
	mu          sync.Mutex
	failOpacity int
}

func (f *flakySurface) SetOpacity(h overlay.Handle, opacity uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpacity > 0 {
		f.failOpacity--
		return errors.New("renderer hiccup")
	}
	return f.Surface.SetOpacity(h, opacity)
}

func TestSession_IdleSurfaceFaultRestartsIdle(t *testing.T) {
	h := newHarnessOn(t, &camera.Mock{Width: 32, Height: 16}, testParams(), func(s overlay.Surface) overlay.Surface {
		return &flakySurface{Surface: s, failOpacity: 1}
	})
	cancel, done := h.start(t)

	first := h.waitIdle(t)
	second := h.waitIdle(t)
	select {
	case err := <-done:
		t.Fatalf("Run returned %v after a display fault in Idle", err)
	default:
	}

	// The intro is shown again from a cleared display.
	var removes, adds int
	for _, ev := range h.rec.Events()[first.events:second.events] {
		switch ev.Op {
		case "remove":
			removes++
		case "add":
			adds++
		}
	}
	if removes != 2 || adds != 2 {
		t.Errorf("restart removed %d and added %d overlays, want 2 and 2", removes, adds)
	}
	if n := len(h.rec.Visible()); n != 2 {
		t.Errorf("%d overlays visible after restart, want 2", n)
	}

	trs := h.cycle(t)
	if got := states(trs); !reflect.DeepEqual(got, []State{Armed, Capturing, Printing, Playback, Idle}) {
		t.Errorf("transitions after restart = %v", got)
	}
	if n := len(h.ledger.Sessions()); n != 1 {
		t.Errorf("ledger has %d sessions, want 1", n)
	}
	stop(t, cancel, done)
}

func TestSession_IdleBlinkAndPressLatency(t *testing.T) {
	p := testParams()
	h := newHarness(t, &camera.Mock{Width: 32, Height: 16}, p)
	cancel, done := h.start(t)

	idle := h.waitIdle(t)
	time.Sleep(12 * p.BlinkInterval)

	var top overlay.Handle
	for _, ev := range h.rec.Events()[:idle.events] {
		if ev.Op == "add" && ev.Layer == LayerIntroTop {
			top = ev.Handle
		}
	}
	if top == overlay.None {
		t.Fatal("no blink overlay shown in Idle")
	}

	var opacities []uint8
	for _, ev := range h.rec.Events() {
		if ev.Op == "opacity" && ev.Handle == top {
			opacities = append(opacities, ev.Opacity)
		}
	}
	if len(opacities) < 3 {
		t.Fatalf("blink toggled %d times, want at least 3", len(opacities))
	}
	for i, o := range opacities {
		want := uint8(0)
		if i%2 == 1 {
			want = 255
		}
		if o != want {
			t.Errorf("toggle %d opacity = %d, want %d", i, o, want)
		}
	}

	trs := h.cycle(t)
	if trs[0].to != Armed {
		t.Fatalf("first transition after press = %v, want armed", trs[0].to)
	}
	for _, ev := range h.rec.Events()[trs[0].events:trs[1].events] {
		if ev.Op == "opacity" {
			t.Errorf("blink continued after press: %+v", ev)
		}
	}
	stop(t, cancel, done)
}

func TestSession_PressSeenWithinOneTick(t *testing.T) {
	p := testParams()
	p.PollInterval = 20 * time.Millisecond
	p.BlinkInterval = time.Second
	h := newHarness(t, &camera.Mock{Width: 32, Height: 16}, p)
	cancel, done := h.start(t)

	h.waitIdle(t)
	pressed := time.Now()
	h.latch.Set()
	tr := h.next(t)
	elapsed := time.Since(pressed)
	if tr.to != Armed {
		t.Fatalf("transition = %v, want armed", tr.to)
	}
	if elapsed > 5*p.PollInterval {
		t.Errorf("press took %v to reach Armed, poll interval is %v", elapsed, p.PollInterval)
	}
	stop(t, cancel, done)
}

func TestSession_PressIgnoredOutsideIdle(t *testing.T) {
	h := newHarness(t, &camera.Mock{Width: 32, Height: 16}, testParams())
	cancel, done := h.start(t)

	h.waitIdle(t)
	h.latch.Set()
	if tr := h.next(t); tr.to != Armed {
		t.Fatalf("transition = %v, want armed", tr.to)
	}
	// Disarmed until the session ends: extra presses are dropped.
	if h.latch.Set() {
		t.Error("press accepted while a session is running")
	}
	h.waitIdle(t)

	// The dropped press must not start another session.
	select {
	case tr := <-h.steps:
		t.Errorf("unexpected transition %v -> %v", tr.from, tr.to)
	case <-time.After(50 * time.Millisecond):
	}
	stop(t, cancel, done)
}

func TestSession_CancelDuringWarmUp(t *testing.T) {
	p := testParams()
	p.WarmUp = time.Hour
	h := newHarness(t, camera.NewMock(), p)
	cancel, done := h.start(t)
	stop(t, cancel, done)

	if n := len(h.rec.Events()); n != 0 {
		t.Errorf("%d overlay events during warm-up", n)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Idle:      "idle",
		Armed:     "armed",
		Capturing: "capturing",
		Printing:  "printing",
		Playback:  "playback",
		State(9):  "state(9)",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
