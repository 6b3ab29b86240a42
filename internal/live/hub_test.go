package live

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/videofunnel/internal/clock"
	"github.com/p-blackswan/videofunnel/internal/exitintent"
	"github.com/p-blackswan/videofunnel/internal/kv"
	"github.com/p-blackswan/videofunnel/internal/metrics"
)

const (
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0"
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15"
)

type testHub struct {
	hub    *Hub
	clock  *clock.Fake
	kv     *kv.Memory
	server *httptest.Server
}

func newTestHub(t *testing.T, cfg Config) *testHub {
	t.Helper()
	th := &testHub{
		clock: clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)),
		kv:    kv.NewMemory(64),
	}
	th.hub = NewHub(th.kv, cfg,
		WithClock(th.clock),
		WithMetrics(metrics.New()),
		WithLogger(zerolog.Nop()),
	)
	mux := http.NewServeMux()
	mux.Handle("/ws/exit-intent", th.hub)
	th.server = httptest.NewServer(mux)
	t.Cleanup(func() {
		th.hub.Close()
		th.server.Close()
	})
	return th
}

func (th *testHub) url() string {
	return "ws" + strings.TrimPrefix(th.server.URL, "http") + "/ws/exit-intent"
}

func (th *testHub) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(th.url(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f ClientFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
}

func recv(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f ServerFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func hello(t *testing.T, conn *websocket.Conn, visitor, ua string, width int) ServerFrame {
	t.Helper()
	send(t, conn, ClientFrame{Type: FrameHello, VisitorID: visitor, UserAgent: ua, ViewportWidth: width})
	f := recv(t, conn)
	require.Equal(t, FrameReady, f.Type)
	return f
}

// barrier round-trips an invalid frame so every earlier frame is known to
// have been handled.
func barrier(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, ClientFrame{Type: "barrier"})
	f := recv(t, conn)
	require.Equal(t, FrameError, f.Type)
}

func TestHub_DesktopExitIntent(t *testing.T) {
	th := newTestHub(t, Config{})
	conn := th.dial(t)

	ready := hello(t, conn, "visitor-1", desktopUA, 1280)
	assert.Equal(t, string(exitintent.StatePendingDelay), ready.State)
	assert.Equal(t, "visitor-1", ready.VisitorID)

	th.clock.Advance(exitintent.DefaultInitialDelay)

	// Below the band is ignored.
	send(t, conn, ClientFrame{Type: FrameSignal, Kind: "mouseleave", ClientY: 200})
	barrier(t, conn)
	th.clock.Advance(exitintent.DefaultThrottleInterval)

	send(t, conn, ClientFrame{Type: FrameSignal, Kind: "mouseleave", ClientY: 2})
	popup := recv(t, conn)
	assert.Equal(t, FrameShowPopup, popup.Type)
	assert.Equal(t, string(exitintent.ModeDesktop), popup.Mode)

	_, ok, err := th.kv.Get(SuppressionKey("visitor-1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHub_MobileExitIntent(t *testing.T) {
	th := newTestHub(t, Config{})
	conn := th.dial(t)
	hello(t, conn, "visitor-m", iphoneUA, 390)

	th.clock.Advance(exitintent.DefaultInitialDelay)
	th.clock.Advance(exitintent.DefaultInactivityWindow)

	popup := recv(t, conn)
	assert.Equal(t, FrameShowPopup, popup.Type)
	assert.Equal(t, string(exitintent.ModeMobile), popup.Mode)
}

func TestHub_MobileActivityPostponesPopup(t *testing.T) {
	th := newTestHub(t, Config{})
	conn := th.dial(t)
	hello(t, conn, "visitor-m", iphoneUA, 390)

	th.clock.Advance(exitintent.DefaultInitialDelay)
	th.clock.Advance(20 * time.Second)
	send(t, conn, ClientFrame{Type: FrameSignal, Kind: "scroll"})
	barrier(t, conn)

	th.clock.Advance(20 * time.Second)
	_, ok, err := th.kv.Get(SuppressionKey("visitor-m"))
	require.NoError(t, err)
	assert.False(t, ok, "activity should have restarted the inactivity window")

	th.clock.Advance(10 * time.Second)
	assert.Equal(t, FrameShowPopup, recv(t, conn).Type)
}

func TestHub_ResizeBeforeArmChangesMode(t *testing.T) {
	th := newTestHub(t, Config{})
	conn := th.dial(t)
	hello(t, conn, "visitor-r", desktopUA, 1280)

	send(t, conn, ClientFrame{Type: FrameResize, ViewportWidth: 375})
	barrier(t, conn)

	th.clock.Advance(exitintent.DefaultInitialDelay)
	th.clock.Advance(exitintent.DefaultInactivityWindow)

	popup := recv(t, conn)
	assert.Equal(t, string(exitintent.ModeMobile), popup.Mode)
}

func TestHub_SuppressedVisitorStaysIdle(t *testing.T) {
	th := newTestHub(t, Config{})

	first := th.dial(t)
	hello(t, first, "returning", iphoneUA, 390)
	th.clock.Advance(exitintent.DefaultInitialDelay + exitintent.DefaultInactivityWindow)
	require.Equal(t, FrameShowPopup, recv(t, first).Type)
	first.Close()

	second := th.dial(t)
	ready := hello(t, second, "returning", iphoneUA, 390)
	assert.Equal(t, string(exitintent.StateIdle), ready.State)

	other := th.dial(t)
	ready = hello(t, other, "someone-else", iphoneUA, 390)
	assert.Equal(t, string(exitintent.StatePendingDelay), ready.State)
}

func TestHub_GeneratesVisitorID(t *testing.T) {
	th := newTestHub(t, Config{})
	conn := th.dial(t)
	ready := hello(t, conn, "", desktopUA, 1280)
	assert.NotEmpty(t, ready.VisitorID)
}

func TestHub_ProtocolErrors(t *testing.T) {
	th := newTestHub(t, Config{})
	conn := th.dial(t)

	send(t, conn, ClientFrame{Type: FrameSignal, Kind: "mouseleave"})
	f := recv(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Contains(t, f.Message, "hello required")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "malformed frame", recv(t, conn).Message)

	send(t, conn, ClientFrame{Type: FrameHello, VisitorID: "has space"})
	assert.Equal(t, "invalid visitorId", recv(t, conn).Message)

	hello(t, conn, "v1", desktopUA, 1280)

	send(t, conn, ClientFrame{Type: FrameHello, VisitorID: "v1"})
	assert.Contains(t, recv(t, conn).Message, "already started")

	send(t, conn, ClientFrame{Type: FrameSignal, Kind: "wheel"})
	assert.Equal(t, FrameError, recv(t, conn).Type)
}

func TestHub_DisconnectCleansUp(t *testing.T) {
	th := newTestHub(t, Config{})
	conn := th.dial(t)
	hello(t, conn, "leaver", desktopUA, 1280)

	assert.Equal(t, 1, th.hub.Sessions())
	assert.Equal(t, 1, th.clock.Pending())

	conn.Close()
	assert.Eventually(t, func() bool {
		return th.hub.Sessions() == 0 && th.clock.Pending() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// The cancelled delay never arms or fires.
	th.clock.Advance(time.Hour)
	_, ok, err := th.kv.Get(SuppressionKey("leaver"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHub_CloseDisconnectsSessions(t *testing.T) {
	th := newTestHub(t, Config{})
	conn := th.dial(t)
	hello(t, conn, "v1", desktopUA, 1280)

	th.hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	_, resp, err := websocket.DefaultDialer.Dial(th.url(), nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	th := newTestHub(t, Config{AllowedOrigins: []string{"https://funnel.example"}})

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(th.url(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://funnel.example")
	conn, _, err := websocket.DefaultDialer.Dial(th.url(), header)
	require.NoError(t, err)
	conn.Close()
}

func TestHub_CustomSettings(t *testing.T) {
	th := newTestHub(t, Config{Settings: exitintent.Settings{InitialDelay: time.Second, InactivityWindow: 5 * time.Second}})
	conn := th.dial(t)
	hello(t, conn, "fast", iphoneUA, 390)

	th.clock.Advance(time.Second)
	th.clock.Advance(5 * time.Second)
	assert.Equal(t, FrameShowPopup, recv(t, conn).Type)
}

func TestHub_DefaultOriginPolicyIsSameHost(t *testing.T) {
	th := newTestHub(t, Config{})

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(th.url(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", th.server.URL)
	conn, _, err := websocket.DefaultDialer.Dial(th.url(), header)
	require.NoError(t, err)
	conn.Close()
}
