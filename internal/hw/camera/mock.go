package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"

	"github.com/jameshope87/selfiebot/internal/debug"
	"github.com/jameshope87/selfiebot/internal/fault"
)

// Mock is a Camera that writes a synthetic gradient JPEG instead of talking
// to hardware. Used for development on PC or testing.
type Mock struct {
	Width, Height int
	// FailOn makes the n-th capture (1-based) fail; 0 never fails.
	FailOn int

	mu       sync.Mutex
	captures int
	preview  bool
}

// NewMock returns a 640x480 mock camera.
func NewMock() *Mock {
	return &Mock{Width: 640, Height: 480}
}

func (m *Mock) StartPreview(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preview = true
	debug.Verbose("Camera: mock preview started")
	return nil
}

// Previewing reports whether the preview is running.
func (m *Mock) Previewing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preview
}

// Captures returns how many captures were attempted.
func (m *Mock) Captures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures
}

func (m *Mock) Capture(ctx context.Context, path string) error {
	m.mu.Lock()
	m.captures++
	n := m.captures
	m.mu.Unlock()

	if m.FailOn > 0 && n == m.FailOn {
		return fault.HardwareErr("capture", fmt.Errorf("mock camera failure on capture %d", n))
	}

	w, h := m.Width, m.Height
	if w <= 0 || h <= 0 {
		w, h = 640, 480
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8(n * 60),
				A: 255,
			})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fault.HardwareErr("capture", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 85}); err != nil {
		return fault.HardwareErr("capture", err)
	}
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preview = false
	debug.Trace("Camera Close (mock)")
	return nil
}
