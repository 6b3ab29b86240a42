package exitintent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// SignalKind names a client-side event the detectors listen for.
type SignalKind string

const (
	SignalPointerLeave SignalKind = "mouseleave"
	SignalTouchStart   SignalKind = "touchstart"
	SignalTouchMove    SignalKind = "touchmove"
	SignalScroll       SignalKind = "scroll"
	SignalClick        SignalKind = "click"
	SignalKeyPress     SignalKind = "keypress"
)

// ActivitySignals reset the mobile inactivity window.
var ActivitySignals = []SignalKind{
	SignalTouchStart, SignalTouchMove, SignalScroll, SignalClick, SignalKeyPress,
}

// ParseSignalKind validates a kind received from a client.
func ParseSignalKind(s string) (SignalKind, error) {
	k := SignalKind(s)
	if k == SignalPointerLeave {
		return k, nil
	}
	for _, a := range ActivitySignals {
		if k == a {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown signal kind %q", s)
}

// Signal is one dispatched client event.
type Signal struct {
	Kind SignalKind
	// ClientY is the vertical pointer coordinate, relative to the top of the
	// viewport, at the time of the event. Only meaningful for pointer events.
	ClientY float64
}

// Handler receives signals of the kind it was registered for.
type Handler func(Signal)

// Source registers listeners for client signals. The returned cancel
// function removes the listener and is safe to call more than once.
type Source interface {
	Listen(kind SignalKind, h Handler) (cancel func(), err error)
}

// ErrSourceClosed is returned by Listen once the Dispatcher has been closed.
var ErrSourceClosed = errors.New("signal source closed")

// Dispatcher is an in-process Source. Handlers run on the goroutine calling
// Dispatch, in registration order, without the dispatcher lock held.
type Dispatcher struct {
	mu       sync.Mutex
	closed   bool
	next     uint64
	handlers map[SignalKind]map[uint64]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[SignalKind]map[uint64]Handler)}
}

// Listen implements Source.
func (d *Dispatcher) Listen(kind SignalKind, h Handler) (func(), error) {
	if h == nil {
		return nil, errors.New("nil signal handler")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrSourceClosed
	}

	d.next++
	id := d.next
	byID, ok := d.handlers[kind]
	if !ok {
		byID = make(map[uint64]Handler)
		d.handlers[kind] = byID
	}
	byID[id] = h

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if m, ok := d.handlers[kind]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(d.handlers, kind)
			}
		}
	}, nil
}

// Dispatch delivers s to every listener of its kind and returns how many
// handlers ran.
func (d *Dispatcher) Dispatch(s Signal) int {
	d.mu.Lock()
	byID := d.handlers[s.Kind]
	ids := make([]uint64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, byID[id])
	}
	d.mu.Unlock()

	for _, h := range hs {
		h(s)
	}
	return len(hs)
}

// Listeners returns the number of registered handlers across all kinds.
func (d *Dispatcher) Listeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, m := range d.handlers {
		n += len(m)
	}
	return n
}

// Close drops every listener and makes further Listen calls fail.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.handlers = make(map[SignalKind]map[uint64]Handler)
}
