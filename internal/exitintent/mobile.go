package exitintent

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/videofunnel/internal/clock"
)

// MobileDetector fires after a full inactivity window passes with no
// activity signal. Every activity signal restarts the window.
type MobileDetector struct {
	oneShot

	clock      clock.Clock
	inactivity time.Duration

	timer clock.Timer
	gen   uint64
}

func installMobile(src Source, clk clock.Clock, store *SuppressionStore, s Settings, onFire func(), logger zerolog.Logger) (*MobileDetector, error) {
	d := &MobileDetector{
		oneShot: oneShot{
			store:  store,
			window: s.SuppressionWindow,
			onFire: onFire,
			logger: logger.With().Str("detector", string(ModeMobile)).Logger(),
		},
		clock:      clk,
		inactivity: s.InactivityWindow,
	}

	cancels := make([]func(), 0, len(ActivitySignals))
	for _, kind := range ActivitySignals {
		cancel, err := src.Listen(kind, d.handleActivity)
		if err != nil {
			for _, c := range cancels {
				c()
			}
			return nil, fmt.Errorf("listen for %s: %w", kind, err)
		}
		cancels = append(cancels, cancel)
	}

	d.mu.Lock()
	d.restartLocked()
	d.mu.Unlock()

	d.setRelease(func() {
		d.mu.Lock()
		t := d.timer
		d.timer = nil
		d.gen++
		d.mu.Unlock()
		if t != nil {
			t.Stop()
		}
		for _, c := range cancels {
			c()
		}
	})
	return d, nil
}

// Mode implements detector.
func (d *MobileDetector) Mode() Mode { return ModeMobile }

func (d *MobileDetector) handleActivity(Signal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return
	}
	d.restartLocked()
}

func (d *MobileDetector) restartLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.inactivity, func() { d.expire(gen) })
}

func (d *MobileDetector) expire(gen uint64) {
	d.mu.Lock()
	if d.done || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.fire("inactivity window elapsed")
}
