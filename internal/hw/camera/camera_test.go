package camera

import (
	"context"
	"image/jpeg"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jameshope87/selfiebot/internal/fault"
)

func TestRpicam_ImplementsCamera(t *testing.T) {
	cam, err := NewRpicam(RpicamConfig{StillCommand: "rpicam-still -o"})
	if err != nil {
		t.Fatalf("NewRpicam: %v", err)
	}
	var _ Camera = cam // compile-time check
}

func TestNewRpicam_Transform(t *testing.T) {
	cam, err := NewRpicam(RpicamConfig{
		StillCommand: `rpicam-still --nopreview -o`,
		HFlip:        true,
		Rotation:     180,
	})
	if err != nil {
		t.Fatalf("NewRpicam: %v", err)
	}
	want := []string{"--hflip", "--rotation", "180"}
	if !reflect.DeepEqual(cam.transform, want) {
		t.Errorf("transform = %v, want %v", cam.transform, want)
	}
	if !reflect.DeepEqual(cam.stillArgs, []string{"rpicam-still", "--nopreview", "-o"}) {
		t.Errorf("stillArgs = %v", cam.stillArgs)
	}
}

func TestNewRpicam_InvalidTemplates(t *testing.T) {
	cases := []RpicamConfig{
		{StillCommand: ""},
		{StillCommand: `rpicam-still "unterminated`},
		{StillCommand: "rpicam-still -o", PreviewCommand: `rpicam-hello 'oops`},
	}
	for _, cfg := range cases {
		_, err := NewRpicam(cfg)
		if err == nil {
			t.Errorf("NewRpicam(%+v) should fail", cfg)
			continue
		}
		if !fault.Is(err, fault.Configuration) {
			t.Errorf("expected configuration fault, got %v", err)
		}
	}
}

func TestRpicam_CaptureRunsStillCommand(t *testing.T) {
	// "touch <path>" stands in for the still command.
	cam, err := NewRpicam(RpicamConfig{StillCommand: "touch"})
	if err != nil {
		t.Fatalf("NewRpicam: %v", err)
	}
	path := filepath.Join(t.TempDir(), "1.jpg")
	if err := cam.Capture(context.Background(), path); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected %s to exist: %v", path, err)
	}
}

func TestRpicam_CaptureFailureIsHardwareFault(t *testing.T) {
	cam, err := NewRpicam(RpicamConfig{StillCommand: "false"})
	if err != nil {
		t.Fatalf("NewRpicam: %v", err)
	}
	err = cam.Capture(context.Background(), filepath.Join(t.TempDir(), "1.jpg"))
	if !fault.Is(err, fault.Hardware) {
		t.Errorf("expected hardware fault, got %v", err)
	}
}

func TestRpicam_CaptureWithoutOutputFails(t *testing.T) {
	// "true" exits 0 but writes nothing.
	cam, err := NewRpicam(RpicamConfig{StillCommand: "true"})
	if err != nil {
		t.Fatalf("NewRpicam: %v", err)
	}
	err = cam.Capture(context.Background(), filepath.Join(t.TempDir(), "1.jpg"))
	if !fault.Is(err, fault.Hardware) {
		t.Errorf("expected hardware fault for missing output, got %v", err)
	}
}

func TestRpicam_PreviewLifecycle(t *testing.T) {
	cam, err := NewRpicam(RpicamConfig{PreviewCommand: "sleep 30", StillCommand: "touch"})
	if err != nil {
		t.Fatalf("NewRpicam: %v", err)
	}
	ctx := context.Background()
	if err := cam.StartPreview(ctx); err != nil {
		t.Fatalf("StartPreview: %v", err)
	}
	first := cam.preview
	if first == nil {
		t.Fatal("preview process should be running")
	}

	if err := cam.Capture(ctx, filepath.Join(t.TempDir(), "1.jpg")); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if cam.preview == nil || cam.preview == first {
		t.Error("preview should be restarted after capture")
	}

	if err := cam.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if cam.preview != nil {
		t.Error("preview should be stopped after Close")
	}
}

func TestMock_CaptureWritesJPEG(t *testing.T) {
	cam := &Mock{Width: 64, Height: 48}
	path := filepath.Join(t.TempDir(), "1.jpg")
	if err := cam.Capture(context.Background(), path); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 48 {
		t.Errorf("size = %dx%d, want 64x48", cfg.Width, cfg.Height)
	}
}

func TestMock_FailOn(t *testing.T) {
	cam := &Mock{Width: 8, Height: 8, FailOn: 2}
	dir := t.TempDir()
	ctx := context.Background()
	if err := cam.Capture(ctx, filepath.Join(dir, "1.jpg")); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if err := cam.Capture(ctx, filepath.Join(dir, "2.jpg")); !fault.Is(err, fault.Hardware) {
		t.Errorf("second capture should fail with a hardware fault, got %v", err)
	}
	if cam.Captures() != 2 {
		t.Errorf("Captures() = %d, want 2", cam.Captures())
	}
}

func TestMock_Preview(t *testing.T) {
	cam := NewMock()
	_ = cam.StartPreview(context.Background())
	if !cam.Previewing() {
		t.Error("expected preview running")
	}
	_ = cam.Close()
	if cam.Previewing() {
		t.Error("expected preview stopped after Close")
	}
}
