package live

// Client frame types.
const (
	FrameHello  = "hello"
	FrameSignal = "signal"
	FrameResize = "resize"
)

// Server frame types.
const (
	FrameReady     = "ready"
	FrameShowPopup = "show_popup"
	FrameError     = "error"
)

// ClientFrame is any message a page sends. Only the fields of its Type are set.
type ClientFrame struct {
	Type          string  `json:"type"`
	VisitorID     string  `json:"visitorId,omitempty"`
	UserAgent     string  `json:"userAgent,omitempty"`
	ViewportWidth int     `json:"viewportWidth,omitempty"`
	Kind          string  `json:"kind,omitempty"`
	ClientY       float64 `json:"clientY,omitempty"`
}

// ServerFrame is any message the hub sends.
type ServerFrame struct {
	Type      string `json:"type"`
	State     string `json:"state,omitempty"`
	VisitorID string `json:"visitorId,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Message   string `json:"message,omitempty"`
}
