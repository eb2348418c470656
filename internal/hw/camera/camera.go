package camera

import "context"

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera" with a live preview and still capture,
// regardless of how it's controlled (rpicam-apps, USB, mock, etc.).
type Camera interface {
	// StartPreview shows the live preview on the booth display.
	StartPreview(ctx context.Context) error
	// Capture writes a still frame to path (JPEG).
	Capture(ctx context.Context, path string) error
	// Close stops the preview and releases the device.
	Close() error
}
