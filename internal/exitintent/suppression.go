package exitintent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/videofunnel/internal/clock"
)

// DefaultSuppressionKey is the storage key used when no scope is given.
const DefaultSuppressionKey = "exitIntentShown"

// ErrInvalidWindow is returned by MarkFired for a non-positive window.
var ErrInvalidWindow = errors.New("suppression window must be positive")

// KV is the durable key/value storage the suppression record lives in.
// Get reports ok=false for an absent key.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// SuppressionRecord is the stored marker that exit intent already fired.
type SuppressionRecord struct {
	Fired       bool  `json:"value"`
	ExpiresAtMs int64 `json:"expiry"`
}

// ExpiresAt returns the expiry as a time.
func (r SuppressionRecord) ExpiresAt() time.Time {
	return time.UnixMilli(r.ExpiresAtMs)
}

// SuppressionStore tracks whether exit intent fired inside the current
// window. Read failures fail open: a record that cannot be read or parsed
// counts as absent and is purged.
type SuppressionStore struct {
	kv     KV
	key    string
	clock  clock.Clock
	logger zerolog.Logger
}

// NewSuppressionStore wraps kv. An empty key selects DefaultSuppressionKey
// and a nil clock selects the wall clock.
func NewSuppressionStore(kv KV, key string, clk clock.Clock, logger zerolog.Logger) *SuppressionStore {
	if key == "" {
		key = DefaultSuppressionKey
	}
	if clk == nil {
		clk = clock.New()
	}
	return &SuppressionStore{
		kv:     kv,
		key:    key,
		clock:  clk,
		logger: logger.With().Str("component", "suppression").Str("key", key).Logger(),
	}
}

// Key returns the storage key of the record.
func (s *SuppressionStore) Key() string { return s.key }

// HasFiredRecently reports whether a live record exists. Absent, corrupt and
// expired records are removed and reported as false. A record expires at
// exactly its expiry instant.
func (s *SuppressionStore) HasFiredRecently() bool {
	rec, ok, err := s.read()
	if err != nil {
		s.logger.Warn().Err(err).Msg("discarding unreadable suppression record")
		s.purge()
		return false
	}
	if !ok {
		return false
	}
	if !s.clock.Now().Before(rec.ExpiresAt()) {
		s.logger.Debug().Time("expired_at", rec.ExpiresAt()).Msg("suppression record expired")
		s.purge()
		return false
	}
	return true
}

// MarkFired writes a record expiring window from now, replacing any prior
// record. The expiry is rounded up to the next millisecond so a record never
// lapses before the full window has passed.
func (s *SuppressionStore) MarkFired(window time.Duration) error {
	if window <= 0 {
		return fmt.Errorf("mark fired: %w: %s", ErrInvalidWindow, window)
	}
	rec := SuppressionRecord{
		Fired:       true,
		ExpiresAtMs: ceilMilli(s.clock.Now().Add(window)),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("mark fired: encode record: %w", err)
	}
	if err := s.kv.Set(s.key, string(raw)); err != nil {
		return fmt.Errorf("mark fired: %w", err)
	}
	return nil
}

// Peek returns the stored record without checking expiry or purging.
func (s *SuppressionStore) Peek() (SuppressionRecord, bool) {
	rec, ok, err := s.read()
	if err != nil {
		return SuppressionRecord{}, false
	}
	return rec, ok
}

// Clear removes the record.
func (s *SuppressionStore) Clear() error {
	if err := s.kv.Remove(s.key); err != nil {
		return fmt.Errorf("clear suppression: %w", err)
	}
	return nil
}

func (s *SuppressionStore) read() (SuppressionRecord, bool, error) {
	raw, ok, err := s.kv.Get(s.key)
	if err != nil {
		return SuppressionRecord{}, false, fmt.Errorf("read record: %w", err)
	}
	if !ok {
		return SuppressionRecord{}, false, nil
	}
	if raw == "" {
		return SuppressionRecord{}, false, errors.New("empty record")
	}
	var rec SuppressionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return SuppressionRecord{}, false, fmt.Errorf("parse record: %w", err)
	}
	if !rec.Fired || rec.ExpiresAtMs <= 0 {
		return SuppressionRecord{}, false, fmt.Errorf("malformed record %q", raw)
	}
	return rec, true, nil
}

func ceilMilli(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.After(time.UnixMilli(ms)) {
		ms++
	}
	return ms
}

func (s *SuppressionStore) purge() {
	if err := s.kv.Remove(s.key); err != nil {
		s.logger.Warn().Err(err).Msg("failed to purge suppression record")
	}
}
