package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jameshope87/selfiebot/internal/fault"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 64 * 1024

// PathsConfig holds the booth's directory layout.
type PathsConfig struct {
	WorkingDir string `yaml:"working_dir" toml:"working_dir"` // current session images + name.txt
	ArchiveDir string `yaml:"archive_dir" toml:"archive_dir"` // permanent timestamped copies
	AssetsDir  string `yaml:"assets_dir" toml:"assets_dir"`   // static overlay images
	LedgerPath string `yaml:"ledger_path" toml:"ledger_path"` // SQLite session ledger
}

// ButtonConfig describes the physical trigger button.
type ButtonConfig struct {
	Pin        int  `yaml:"pin" toml:"pin"`                 // BCM pin number
	ActiveHigh bool `yaml:"active_high" toml:"active_high"` // false = pull-up, pressed pulls LOW
	DebounceMs int  `yaml:"debounce_ms" toml:"debounce_ms"` // settle time before a press is latched
	PollMs     int  `yaml:"poll_ms" toml:"poll_ms"`         // pin sampling period
	LampPin    int  `yaml:"lamp_pin" toml:"lamp_pin"`       // BCM pin of the "ready" light, 0 = none
}

// CameraConfig selects and tunes the camera implementation.
// Type is "rpicam" (rpicam-apps commands) or "mock".
type CameraConfig struct {
	Type           string `yaml:"type" toml:"type"`
	PreviewCommand string `yaml:"preview_command" toml:"preview_command"` // long-running preview, empty = none
	StillCommand   string `yaml:"still_command" toml:"still_command"`     // output path is appended
	HFlip          bool   `yaml:"hflip" toml:"hflip"`
	Rotation       int    `yaml:"rotation" toml:"rotation"` // 0, 90, 180 or 270
}

// DisplayConfig is the screen resolution used to scale overlays.
type DisplayConfig struct {
	Width  int `yaml:"width" toml:"width"`
	Height int `yaml:"height" toml:"height"`
}

// SessionConfig controls the capture sequence timing. Delays expressed in
// "units" are multiplied by TimeUnitMs.
type SessionConfig struct {
	PhotoCount      int `yaml:"photo_count" toml:"photo_count"`
	PrepDelay       int `yaml:"prep_delay" toml:"prep_delay"`         // units the "get ready" prompt is shown
	Countdown       int `yaml:"countdown" toml:"countdown"`           // countdown ticks per shot
	PlaybackDwell   int `yaml:"playback_dwell" toml:"playback_dwell"` // units each shot is reviewed
	TimeUnitMs      int `yaml:"time_unit_ms" toml:"time_unit_ms"`
	BlinkIntervalMs int `yaml:"blink_interval_ms" toml:"blink_interval_ms"`
	PollIntervalMs  int `yaml:"poll_interval_ms" toml:"poll_interval_ms"` // idle loop tick
	WarmUpMs        int `yaml:"warm_up_ms" toml:"warm_up_ms"`             // camera stabilisation at startup
}

// PrintConfig describes the spooler invocation.
type PrintConfig struct {
	Command string `yaml:"command" toml:"command"` // image paths are appended; empty disables printing
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level" toml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio" toml:"mock_gpio"`     // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths" toml:"paths"`
	Button   ButtonConfig   `yaml:"button" toml:"button"`
	Camera   CameraConfig   `yaml:"camera" toml:"camera"`
	Display  DisplayConfig  `yaml:"display" toml:"display"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Print    PrintConfig    `yaml:"print" toml:"print"`
	Defaults DefaultsConfig `yaml:"defaults" toml:"defaults"`
}

// Load reads a YAML (or, for *.toml, TOML) file and returns the validated
// configuration with defaults applied.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal toml: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, suitable for
// mock runs without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Paths.WorkingDir == "" {
		c.Paths.WorkingDir = filepath.Join(XDGDataHome(), "selfiebot", "current")
	}
	if c.Paths.ArchiveDir == "" {
		c.Paths.ArchiveDir = filepath.Join(XDGDataHome(), "selfiebot", "archive")
	}
	if c.Paths.AssetsDir == "" {
		c.Paths.AssetsDir = "assets"
	}
	if c.Paths.LedgerPath == "" {
		c.Paths.LedgerPath = DefaultLedgerPath()
	}

	if c.Button.Pin == 0 {
		c.Button.Pin = 2
	}
	if c.Button.DebounceMs <= 0 {
		c.Button.DebounceMs = 50
	}
	if c.Button.PollMs <= 0 {
		c.Button.PollMs = 5
	}

	if c.Camera.Type == "" {
		c.Camera.Type = "rpicam"
	}
	if c.Camera.StillCommand == "" {
		c.Camera.StillCommand = "rpicam-still --nopreview --immediate -o"
	}

	if c.Display.Width <= 0 {
		c.Display.Width = 800
	}
	if c.Display.Height <= 0 {
		c.Display.Height = 480
	}

	if c.Session.PhotoCount == 0 {
		c.Session.PhotoCount = 3
	}
	if c.Session.PrepDelay == 0 {
		c.Session.PrepDelay = 2
	}
	if c.Session.Countdown == 0 {
		c.Session.Countdown = 3
	}
	if c.Session.PlaybackDwell <= 0 {
		c.Session.PlaybackDwell = 3
	}
	if c.Session.TimeUnitMs <= 0 {
		c.Session.TimeUnitMs = 1000
	}
	if c.Session.BlinkIntervalMs <= 0 {
		c.Session.BlinkIntervalMs = 500
	}
	if c.Session.PollIntervalMs <= 0 {
		c.Session.PollIntervalMs = 100
	}
	if c.Session.WarmUpMs == 0 {
		c.Session.WarmUpMs = 2000
	}
}

// Validate checks value ranges and the directory layout. Directory problems
// are reported as configuration faults.
func (c *Config) Validate() error {
	if c.Session.PhotoCount < 1 {
		return fault.Configf("session.photo_count must be >= 1, got %d", c.Session.PhotoCount)
	}
	if c.Session.Countdown < 0 {
		return fault.Configf("session.countdown must be >= 0, got %d", c.Session.Countdown)
	}
	if c.Session.PrepDelay < 0 {
		return fault.Configf("session.prep_delay must be >= 0, got %d", c.Session.PrepDelay)
	}
	if c.Session.WarmUpMs < 0 {
		return fault.Configf("session.warm_up_ms must be >= 0, got %d", c.Session.WarmUpMs)
	}
	if c.Button.LampPin < 0 || c.Button.LampPin > 27 {
		return fault.Configf("button.lamp_pin must be a BCM pin 1-27 or 0 for none, got %d", c.Button.LampPin)
	}
	if c.Button.LampPin != 0 && c.Button.LampPin == c.Button.Pin {
		return fault.Configf("button.lamp_pin and button.pin are both %d", c.Button.Pin)
	}
	if c.Display.Width < 32 || c.Display.Height < 16 {
		return fault.Configf("display must be at least 32x16, got %dx%d", c.Display.Width, c.Display.Height)
	}
	switch c.Camera.Type {
	case "rpicam", "mock":
	default:
		return fault.Configf("unsupported camera type: %s", c.Camera.Type)
	}
	switch c.Camera.Rotation {
	case 0, 90, 180, 270:
	default:
		return fault.Configf("camera.rotation must be 0, 90, 180 or 270, got %d", c.Camera.Rotation)
	}
	return c.checkFolders()
}

// checkFolders rejects two configured directories that resolve to the same
// path.
func (c *Config) checkFolders() error {
	folders := []struct {
		key  string
		path string
	}{
		{"paths.working_dir", c.Paths.WorkingDir},
		{"paths.archive_dir", c.Paths.ArchiveDir},
		{"paths.assets_dir", c.Paths.AssetsDir},
	}
	seen := make(map[string]string, len(folders))
	for _, f := range folders {
		if f.path == "" {
			return fault.Configf("%s is required", f.key)
		}
		abs, err := filepath.Abs(f.path)
		if err != nil {
			return fault.Configf("resolve %s: %v", f.key, err)
		}
		if prev, ok := seen[abs]; ok {
			return fault.Configf("cannot use same folder path (%s) for %s and %s", abs, prev, f.key)
		}
		seen[abs] = f.key
	}
	return nil
}

// EnsureDirs creates the working and archive directories if absent.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Paths.WorkingDir, c.Paths.ArchiveDir} {
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fault.Configf("create folder %s: %v", dir, err)
		}
	}
	return nil
}

// ValidateConfigPath checks that path names a .yaml or .toml file directly
// inside a configs/ directory and contains no traversal segments.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	switch filepath.Ext(path) {
	case ".yaml", ".toml":
	default:
		return fmt.Errorf("config path %q must end in .yaml or .toml", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// TimeUnit is the base unit for prep, countdown and playback delays.
func (c *Config) TimeUnit() time.Duration {
	return time.Duration(c.Session.TimeUnitMs) * time.Millisecond
}

// PrepDelay returns how long the "get ready" prompt is shown before each shot.
func (c *Config) PrepDelay() time.Duration {
	return time.Duration(c.Session.PrepDelay) * c.TimeUnit()
}

// PlaybackDwell returns how long each shot is shown during playback.
func (c *Config) PlaybackDwell() time.Duration {
	return time.Duration(c.Session.PlaybackDwell) * c.TimeUnit()
}

// BlinkInterval returns the idle-screen blink period.
func (c *Config) BlinkInterval() time.Duration {
	return time.Duration(c.Session.BlinkIntervalMs) * time.Millisecond
}

// PollInterval returns the idle loop tick.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Session.PollIntervalMs) * time.Millisecond
}

// WarmUp returns the camera stabilisation delay before the first idle state.
func (c *Config) WarmUp() time.Duration {
	return time.Duration(c.Session.WarmUpMs) * time.Millisecond
}

// Debounce returns the button settle time.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Button.DebounceMs) * time.Millisecond
}

// ButtonPoll returns the button sampling period.
func (c *Config) ButtonPoll() time.Duration {
	return time.Duration(c.Button.PollMs) * time.Millisecond
}
