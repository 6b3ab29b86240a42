package exitintent

import "strings"

// Mode is the detection strategy chosen for a client.
type Mode string

const (
	ModeDesktop Mode = "desktop"
	ModeMobile  Mode = "mobile"
)

// DefaultMobileTokens are user-agent substrings that mark a mobile platform.
var DefaultMobileTokens = []string{
	"Android", "webOS", "iPhone", "iPad", "iPod", "BlackBerry", "IEMobile", "Opera Mini",
}

// Classifier maps client signals to a Mode. It is stateless; the zero value
// never reports mobile.
type Classifier struct {
	// Tokens are matched case-insensitively against the user agent.
	Tokens []string
	// MaxWidth is the widest viewport, in CSS pixels, still treated as mobile.
	MaxWidth int
}

// DefaultClassifier uses DefaultMobileTokens and a 768px breakpoint.
func DefaultClassifier() Classifier {
	return Classifier{Tokens: DefaultMobileTokens, MaxWidth: DefaultMobileMaxWidth}
}

// Classify reports ModeMobile if userAgent contains a mobile token or the
// viewport is at most MaxWidth wide. A width <= 0 means unknown and is
// ignored, so a client with no agent and no width is a desktop.
func (c Classifier) Classify(userAgent string, viewportWidth int) Mode {
	if viewportWidth > 0 && viewportWidth <= c.MaxWidth {
		return ModeMobile
	}
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return ModeDesktop
	}
	for _, tok := range c.Tokens {
		if tok != "" && strings.Contains(ua, strings.ToLower(tok)) {
			return ModeMobile
		}
	}
	return ModeDesktop
}

// Classify runs the default classifier.
func Classify(userAgent string, viewportWidth int) Mode {
	return DefaultClassifier().Classify(userAgent, viewportWidth)
}
