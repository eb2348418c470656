package button

import (
	"context"
	"time"

	"github.com/bep/debounce"

	"github.com/jameshope87/selfiebot/internal/debug"
	"github.com/jameshope87/selfiebot/internal/hw/gpio"
)

// Config holds the hardware configuration for the trigger button.
type Config struct {
	Pin        int
	ActiveHigh bool          // false: pull-up enabled, a press pulls the pin LOW
	Debounce   time.Duration // the level must be stable this long before it counts
	Poll       time.Duration // pin sampling period
}

// Source turns raw pin samples into debounced press edges and records them
// in a Latch. Run is the only goroutine that writes to the latch.
type Source struct {
	gpio     gpio.Driver
	cfg      Config
	latch    *Latch
	pressed  gpio.Level
	debounce func(f func())
	settled  chan struct{}
	simulate chan struct{}
}

// NewSource configures the button pin and returns a Source feeding latch.
func NewSource(g gpio.Driver, cfg Config, latch *Latch) (*Source, error) {
	mode := gpio.InputPullUp
	pressed := gpio.Low
	if cfg.ActiveHigh {
		mode = gpio.InputPullDown
		pressed = gpio.High
	}
	if err := g.SetupPin(cfg.Pin, mode); err != nil {
		return nil, err
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 5 * time.Millisecond
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	return &Source{
		gpio:     g,
		cfg:      cfg,
		latch:    latch,
		pressed:  pressed,
		debounce: debounce.New(cfg.Debounce),
		settled:  make(chan struct{}, 1),
		simulate: make(chan struct{}, 1),
	}, nil
}

// Simulate injects a virtual press, e.g. from the web display. The press is
// delivered by Run so the latch keeps a single writer.
func (s *Source) Simulate() {
	select {
	case s.simulate <- struct{}{}:
	default:
	}
}

// Run samples the pin until ctx is cancelled. Every raw level change restarts
// the debounce timer; once the level has settled, a transition into the
// pressed level is latched as one press.
func (s *Source) Run(ctx context.Context) error {
	raw, err := s.gpio.ReadPin(s.cfg.Pin)
	if err != nil {
		return err
	}
	stable := raw

	ticker := time.NewTicker(s.cfg.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			lvl, err := s.gpio.ReadPin(s.cfg.Pin)
			if err != nil {
				debug.Error(err)
				continue
			}
			if lvl != raw {
				raw = lvl
				s.debounce(s.markSettled)
			}

		case <-s.settled:
			lvl, err := s.gpio.ReadPin(s.cfg.Pin)
			if err != nil {
				debug.Error(err)
				continue
			}
			if lvl == stable {
				continue
			}
			stable = lvl
			if lvl == s.pressed {
				s.fire("button")
			}

		case <-s.simulate:
			s.fire("simulated")
		}
	}
}

func (s *Source) markSettled() {
	select {
	case s.settled <- struct{}{}:
	default:
	}
}

func (s *Source) fire(origin string) {
	if s.latch.Set() {
		debug.Live("Button pressed (%s)", origin)
		return
	}
	debug.Verbose("Button press ignored (%s): disarmed or already pending", origin)
}
