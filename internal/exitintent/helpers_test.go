package exitintent

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/videofunnel/internal/clock"
	"github.com/p-blackswan/videofunnel/internal/kv"
)

const (
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"
)

var epoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

type harness struct {
	clk   *clock.Fake
	kv    *kv.Memory
	store *SuppressionStore
	src   *Dispatcher
	coord *Coordinator
	fired int
}

func newHarness(t *testing.T, userAgent string, width int) *harness {
	t.Helper()
	h := &harness{
		clk: clock.NewFake(epoch),
		kv:  kv.NewMemory(16),
		src: NewDispatcher(),
	}
	h.store = NewSuppressionStore(h.kv, "", h.clk, zerolog.Nop())
	h.coord = NewCoordinator(h.store, h.src,
		WithClock(h.clk),
		WithDeviceProbe(func() (string, int) { return userAgent, width }),
	)
	return h
}

func (h *harness) callback() func() {
	return func() { h.fired++ }
}

// at advances the fake clock to epoch+d.
func (h *harness) at(d time.Duration) {
	h.clk.Set(epoch.Add(d))
}

func (h *harness) leave(clientY float64) int {
	return h.src.Dispatch(Signal{Kind: SignalPointerLeave, ClientY: clientY})
}

func (h *harness) activity(kind SignalKind) int {
	return h.src.Dispatch(Signal{Kind: kind})
}

// brokenKV fails the operations it has errors for.
type brokenKV struct {
	getErr  error
	setErr  error
	value   string
	removes int
}

var errBackend = errors.New("backend unavailable")

func (b *brokenKV) Get(string) (string, bool, error) {
	if b.getErr != nil {
		return "", false, b.getErr
	}
	return b.value, b.value != "", nil
}

func (b *brokenKV) Set(_ string, v string) error {
	if b.setErr != nil {
		return b.setErr
	}
	b.value = v
	return nil
}

func (b *brokenKV) Remove(string) error {
	b.removes++
	b.value = ""
	return nil
}
