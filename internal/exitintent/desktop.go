package exitintent

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/videofunnel/internal/clock"
)

// DesktopDetector fires when the pointer leaves the viewport through its top
// edge. Leave events pass a throttle gate first: after an event is evaluated,
// further events are dropped until the throttle interval has elapsed.
type DesktopDetector struct {
	oneShot

	clock    clock.Clock
	throttle time.Duration
	band     float64

	gateOpen bool
	lastPass time.Time
}

func installDesktop(src Source, clk clock.Clock, store *SuppressionStore, s Settings, onFire func(), logger zerolog.Logger) (*DesktopDetector, error) {
	d := &DesktopDetector{
		oneShot: oneShot{
			store:  store,
			window: s.SuppressionWindow,
			onFire: onFire,
			logger: logger.With().Str("detector", string(ModeDesktop)).Logger(),
		},
		clock:    clk,
		throttle: s.ThrottleInterval,
		band:     s.TopBand(),
		gateOpen: true,
	}

	cancel, err := src.Listen(SignalPointerLeave, d.handleLeave)
	if err != nil {
		return nil, fmt.Errorf("listen for %s: %w", SignalPointerLeave, err)
	}
	d.setRelease(cancel)
	return d, nil
}

// Mode implements detector.
func (d *DesktopDetector) Mode() Mode { return ModeDesktop }

func (d *DesktopDetector) handleLeave(sig Signal) {
	if !d.admit() {
		return
	}
	if sig.ClientY > d.band {
		return
	}
	d.fire("pointer left through top edge")
}

// admit applies the throttle gate.
func (d *DesktopDetector) admit() bool {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return false
	}
	if !d.gateOpen && now.Sub(d.lastPass) < d.throttle {
		return false
	}
	d.gateOpen = false
	d.lastPass = now
	return true
}
