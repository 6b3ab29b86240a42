package exitintent

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/videofunnel/internal/clock"
)

// State is the coordinator lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StatePendingDelay State = "pending_delay"
	StateArmed        State = "armed"
	StateFired        State = "fired"
)

// DeviceProbe reports the client's user agent and viewport width. It is
// consulted once, when detection arms.
type DeviceProbe func() (userAgent string, viewportWidth int)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for the initial delay and detector timing.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithSettings overrides the default heuristics. Unset fields keep defaults.
func WithSettings(s Settings) Option {
	return func(co *Coordinator) { co.settings = s.WithDefaults() }
}

// WithDeviceProbe sets how the client is classified at arm time.
func WithDeviceProbe(p DeviceProbe) Option {
	return func(co *Coordinator) { co.probe = p }
}

// Coordinator owns the initial delay timer and at most one active detector.
// All methods are safe for concurrent use.
type Coordinator struct {
	store    *SuppressionStore
	source   Source
	clock    clock.Clock
	settings Settings
	probe    DeviceProbe
	logger   zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	state   State
	mode    Mode
	pending clock.Timer
	active  detector
	onFire  func()
}

// NewCoordinator creates an idle coordinator that marks store and listens on
// source. Without a device probe every client is classified as desktop.
func NewCoordinator(store *SuppressionStore, source Source, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		source:   source,
		clock:    clock.New(),
		settings: DefaultSettings(),
		probe:    func() (string, int) { return "", 0 },
		logger:   zerolog.Nop(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "exit_intent").Logger()
	return c
}

// Initialize tears down any previous run, then schedules detection to arm
// after the initial delay. It returns false, leaving the coordinator idle,
// when exit intent already fired inside the suppression window.
func (c *Coordinator) Initialize(onFire func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()

	if onFire == nil {
		c.logger.Warn().Msg("initialize called without a callback")
		return false
	}
	if c.store.HasFiredRecently() {
		c.logger.Debug().Msg("exit intent already shown this session")
		return false
	}

	gen := c.gen
	c.onFire = onFire
	c.state = StatePendingDelay
	c.pending = c.clock.AfterFunc(c.settings.InitialDelay, func() { c.arm(gen) })

	c.logger.Debug().Dur("delay", c.settings.InitialDelay).Msg("exit intent detection scheduled")
	return true
}

// Cleanup cancels the pending delay and stops the active detector. It may be
// called from any state, any number of times.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode returns the armed detection mode, or "" before arming.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// resetLocked releases every owned resource and invalidates in-flight timer
// and detector callbacks from the previous generation.
func (c *Coordinator) resetLocked() {
	c.gen++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	if c.active != nil {
		c.active.Stop()
		c.active = nil
	}
	c.onFire = nil
	c.mode = ""
	c.state = StateIdle
}

func (c *Coordinator) arm(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != StatePendingDelay {
		return
	}
	c.pending = nil

	ua, width := c.probe()
	mode := c.settings.Classifier().Classify(ua, width)
	fire := c.fireFunc(gen, c.onFire)

	var (
		det detector
		err error
	)
	switch mode {
	case ModeMobile:
		det, err = installMobile(c.source, c.clock, c.store, c.settings, fire, c.logger)
	default:
		det, err = installDesktop(c.source, c.clock, c.store, c.settings, fire, c.logger)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("mode", string(mode)).Msg("exit intent detection not armed")
		c.onFire = nil
		c.state = StateIdle
		return
	}

	c.active = det
	c.mode = mode
	c.state = StateArmed
	c.logger.Info().Str("mode", string(mode)).Msg("exit intent detection enabled")
}

// fireFunc wraps the caller's callback so the coordinator drops its detector
// reference first. A detector that fires after Cleanup started a new
// generation does not reach the caller.
func (c *Coordinator) fireFunc(gen uint64, cb func()) func() {
	return func() {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			c.logger.Debug().Msg("dropping exit intent from a cleaned up run")
			return
		}
		c.active = nil
		c.onFire = nil
		c.state = StateFired
		c.mu.Unlock()

		cb()
	}
}
