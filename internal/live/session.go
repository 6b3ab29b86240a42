package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/videofunnel/internal/exitintent"
)

const maxVisitorIDLen = 128

// SuppressionKey returns the storage key holding a visitor's suppression record.
func SuppressionKey(visitorID string) string {
	return exitintent.DefaultSuppressionKey + ":" + visitorID
}

type session struct {
	hub      *Hub
	conn     *websocket.Conn
	headerUA string
	logger   zerolog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	userAgent string
	width     int

	// Owned by the read loop.
	visitorID string
	coord     *exitintent.Coordinator
	signals   *exitintent.Dispatcher

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(h *Hub, conn *websocket.Conn, headerUA string) *session {
	return &session{
		hub:      h,
		conn:     conn,
		headerUA: headerUA,
		logger:   h.logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		done:     make(chan struct{}),
	}
}

func (s *session) run() {
	defer s.teardown()

	cfg := s.hub.cfg
	s.conn.SetReadLimit(cfg.MaxMessageBytes)
	s.conn.SetReadDeadline(time.Now().Add(cfg.HelloTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout()))
	})
	go s.pingLoop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("session read failed")
			}
			return
		}
		if s.coord != nil {
			s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout()))
		}

		var f ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.sendError("malformed frame")
			continue
		}
		if err := s.handle(f); err != nil {
			s.sendError(err.Error())
		}
	}
}

func (s *session) idleTimeout() time.Duration {
	return 2 * s.hub.cfg.PingInterval
}

func (s *session) handle(f ClientFrame) error {
	switch f.Type {
	case FrameHello:
		return s.start(f)
	case FrameSignal:
		if s.coord == nil {
			return errors.New("hello required before signals")
		}
		kind, err := exitintent.ParseSignalKind(f.Kind)
		if err != nil {
			return err
		}
		s.signals.Dispatch(exitintent.Signal{Kind: kind, ClientY: f.ClientY})
		return nil
	case FrameResize:
		s.mu.Lock()
		s.width = f.ViewportWidth
		s.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
}

func (s *session) start(f ClientFrame) error {
	if s.coord != nil {
		return errors.New("session already started")
	}

	visitorID := strings.TrimSpace(f.VisitorID)
	if visitorID == "" {
		visitorID = uuid.New().String()
	}
	if len(visitorID) > maxVisitorIDLen || strings.ContainsAny(visitorID, " \t\r\n") {
		return errors.New("invalid visitorId")
	}

	ua := strings.TrimSpace(f.UserAgent)
	if ua == "" {
		ua = s.headerUA
	}
	s.mu.Lock()
	s.userAgent = ua
	s.width = f.ViewportWidth
	s.mu.Unlock()

	h := s.hub
	s.visitorID = visitorID
	s.logger = s.logger.With().Str("visitor_id", visitorID).Logger()
	s.signals = exitintent.NewDispatcher()
	store := exitintent.NewSuppressionStore(h.kv, SuppressionKey(visitorID), h.clock, s.logger)
	coord := exitintent.NewCoordinator(store, s.signals,
		exitintent.WithClock(h.clock),
		exitintent.WithLogger(s.logger),
		exitintent.WithSettings(h.cfg.Settings),
		exitintent.WithDeviceProbe(s.probe),
	)
	s.coord = coord

	coord.Initialize(func() { s.fired(coord) })
	s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout()))

	s.send(ServerFrame{Type: FrameReady, State: string(coord.State()), VisitorID: visitorID})
	return nil
}

func (s *session) probe() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userAgent, s.width
}

// fired runs on whichever goroutine delivered the triggering signal or timer.
func (s *session) fired(coord *exitintent.Coordinator) {
	mode := coord.Mode()
	if s.hub.metrics != nil {
		s.hub.metrics.RecordExitIntent(string(mode))
	}
	s.logger.Info().Str("mode", string(mode)).Msg("exit intent popup sent")
	s.send(ServerFrame{Type: FrameShowPopup, Mode: string(mode)})
}

func (s *session) send(f ServerFrame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.hub.cfg.WriteTimeout))
	if err := s.conn.WriteJSON(f); err != nil {
		s.logger.Debug().Err(err).Str("frame", f.Type).Msg("session write failed")
	}
}

func (s *session) sendError(msg string) {
	s.send(ServerFrame{Type: FrameError, Message: msg})
}

func (s *session) pingLoop() {
	ticker := time.NewTicker(s.hub.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(s.hub.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// close asks the peer to go away and unblocks the read loop.
func (s *session) close(code int, reason string) {
	deadline := time.Now().Add(s.hub.cfg.WriteTimeout)
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	s.conn.Close()
}

func (s *session) teardown() {
	s.closeOnce.Do(func() {
		if s.coord != nil {
			s.coord.Cleanup()
		}
		if s.signals != nil {
			s.signals.Close()
		}
		close(s.done)
		s.conn.Close()
		s.logger.Debug().Msg("session closed")
	})
}
