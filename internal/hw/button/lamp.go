package button

import (
	"github.com/jameshope87/selfiebot/internal/debug"
	"github.com/jameshope87/selfiebot/internal/hw/gpio"
)

// Lamp drives the "ready" light inside the button. It is lit while the
// booth waits for a press.
type Lamp struct {
	gpio gpio.Driver
	pin  int
	on   bool
}

// NewLamp configures pin as an output and switches the lamp off.
func NewLamp(g gpio.Driver, pin int) (*Lamp, error) {
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	l := &Lamp{gpio: g, pin: pin, on: true}
	if err := l.Set(false); err != nil {
		return nil, err
	}
	return l, nil
}

// Set switches the lamp. Writes are skipped when the level is unchanged.
func (l *Lamp) Set(on bool) error {
	if on == l.on {
		return nil
	}
	if err := l.gpio.WritePin(l.pin, gpio.Level(on)); err != nil {
		return err
	}
	l.on = on
	debug.Verbose("Button lamp on=%v", on)
	return nil
}

// On reports the last level written.
func (l *Lamp) On() bool {
	return l.on
}
