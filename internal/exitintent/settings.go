package exitintent

import (
	"fmt"
	"time"
)

// Defaults for the detection heuristics.
const (
	DefaultInitialDelay      = 10 * time.Second
	DefaultSuppressionWindow = 30 * time.Minute
	DefaultThrottleInterval  = 200 * time.Millisecond
	DefaultTopEdgeBand       = 5.0
	DefaultInactivityWindow  = 30 * time.Second
	DefaultMobileMaxWidth    = 768
)

// Settings tunes the coordinator and its detectors. Zero fields fall back to
// the package defaults. TopEdgeBand is a pointer because 0px is a valid band;
// only a nil band takes the default.
type Settings struct {
	InitialDelay      time.Duration `yaml:"initial_delay"`
	SuppressionWindow time.Duration `yaml:"suppression_window"`
	ThrottleInterval  time.Duration `yaml:"throttle_interval"`
	TopEdgeBand       *float64      `yaml:"top_edge_band"`
	InactivityWindow  time.Duration `yaml:"inactivity_window"`
	MobileTokens      []string      `yaml:"mobile_tokens"`
	MobileMaxWidth    int           `yaml:"mobile_max_width"`
}

// DefaultSettings returns the stock heuristics.
func DefaultSettings() Settings {
	return Settings{
		InitialDelay:      DefaultInitialDelay,
		SuppressionWindow: DefaultSuppressionWindow,
		ThrottleInterval:  DefaultThrottleInterval,
		TopEdgeBand:       EdgeBand(DefaultTopEdgeBand),
		InactivityWindow:  DefaultInactivityWindow,
		MobileTokens:      append([]string(nil), DefaultMobileTokens...),
		MobileMaxWidth:    DefaultMobileMaxWidth,
	}
}

// EdgeBand returns a band value for Settings.TopEdgeBand.
func EdgeBand(px float64) *float64 { return &px }

// TopBand returns the configured top edge band, or the default when unset.
func (s Settings) TopBand() float64 {
	if s.TopEdgeBand == nil {
		return DefaultTopEdgeBand
	}
	return *s.TopEdgeBand
}

// WithDefaults fills unset fields from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.InitialDelay == 0 {
		s.InitialDelay = d.InitialDelay
	}
	if s.SuppressionWindow == 0 {
		s.SuppressionWindow = d.SuppressionWindow
	}
	if s.ThrottleInterval == 0 {
		s.ThrottleInterval = d.ThrottleInterval
	}
	if s.TopEdgeBand == nil {
		s.TopEdgeBand = d.TopEdgeBand
	}
	if s.InactivityWindow == 0 {
		s.InactivityWindow = d.InactivityWindow
	}
	if len(s.MobileTokens) == 0 {
		s.MobileTokens = d.MobileTokens
	}
	if s.MobileMaxWidth == 0 {
		s.MobileMaxWidth = d.MobileMaxWidth
	}
	return s
}

// Validate rejects negative durations and bands.
func (s Settings) Validate() error {
	switch {
	case s.InitialDelay < 0:
		return fmt.Errorf("initial_delay must not be negative, got %s", s.InitialDelay)
	case s.SuppressionWindow < 0:
		return fmt.Errorf("suppression_window must not be negative, got %s", s.SuppressionWindow)
	case s.ThrottleInterval < 0:
		return fmt.Errorf("throttle_interval must not be negative, got %s", s.ThrottleInterval)
	case s.TopEdgeBand != nil && *s.TopEdgeBand < 0:
		return fmt.Errorf("top_edge_band must not be negative, got %v", *s.TopEdgeBand)
	case s.InactivityWindow < 0:
		return fmt.Errorf("inactivity_window must not be negative, got %s", s.InactivityWindow)
	case s.MobileMaxWidth < 0:
		return fmt.Errorf("mobile_max_width must not be negative, got %d", s.MobileMaxWidth)
	}
	return nil
}

// Classifier builds the device classifier these settings describe.
func (s Settings) Classifier() Classifier {
	s = s.WithDefaults()
	return Classifier{Tokens: s.MobileTokens, MaxWidth: s.MobileMaxWidth}
}
