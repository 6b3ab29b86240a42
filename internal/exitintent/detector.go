package exitintent

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// detector is an installed detection strategy owned by a Coordinator.
type detector interface {
	Mode() Mode
	// Stop releases every listener and timer. Idempotent.
	Stop()
}

// oneShot is the fire-once core shared by both detectors: re-check the
// store, mark it, run the callback, release resources.
type oneShot struct {
	mu      sync.Mutex
	done    bool
	release func()

	store  *SuppressionStore
	window time.Duration
	onFire func()
	logger zerolog.Logger
}

// fire reports whether the callback ran. A detector that is already done, or
// a store that another path marked first, makes it a no-op.
func (o *oneShot) fire(reason string) bool {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return false
	}
	if o.store.HasFiredRecently() {
		o.mu.Unlock()
		o.logger.Debug().Str("reason", reason).Msg("exit intent already suppressed, ignoring trigger")
		return false
	}
	if err := o.store.MarkFired(o.window); err != nil {
		// Fail open: the visitor still sees the popup, it just may see it again.
		o.logger.Warn().Err(err).Msg("failed to persist suppression record")
	}
	o.done = true
	o.mu.Unlock()

	o.logger.Info().Str("reason", reason).Msg("exit intent detected")
	o.onFire()
	o.teardown()
	return true
}

// Stop implements detector.
func (o *oneShot) Stop() {
	o.mu.Lock()
	o.done = true
	o.mu.Unlock()
	o.teardown()
}

// setRelease installs the release hook once resources are acquired. If the
// detector finished in the meantime the resources are released immediately.
func (o *oneShot) setRelease(release func()) {
	o.mu.Lock()
	if !o.done {
		o.release = release
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	release()
}

func (o *oneShot) teardown() {
	o.mu.Lock()
	rel := o.release
	o.release = nil
	o.mu.Unlock()
	if rel != nil {
		rel()
	}
}

func (o *oneShot) finished() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}
