package exitintent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		ua    string
		width int
		want  Mode
	}{
		{"iphone on wide viewport", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", 1024, ModeMobile},
		{"windows desktop", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", 1920, ModeDesktop},
		{"narrow window overrides agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", 600, ModeMobile},
		{"breakpoint is inclusive", desktopUA, 768, ModeMobile},
		{"just above breakpoint", desktopUA, 769, ModeDesktop},
		{"android lower case", "mozilla/5.0 (linux; android 14)", 1200, ModeMobile},
		{"opera mini", "Opera/9.80 (J2ME/MIDP; Opera Mini/9.80)", 0, ModeMobile},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X)", 1366, ModeMobile},
		{"missing agent and width", "", 0, ModeDesktop},
		{"missing agent, narrow width", "", 400, ModeMobile},
		{"negative width ignored", desktopUA, -1, ModeDesktop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ua, tt.width))
		})
	}
}

func TestClassifier_CustomTokens(t *testing.T) {
	c := Classifier{Tokens: []string{"SmartTV"}, MaxWidth: 320}

	assert.Equal(t, ModeMobile, c.Classify("Mozilla/5.0 (SMARTTV; Linux)", 1920))
	assert.Equal(t, ModeDesktop, c.Classify(iphoneUA, 1024), "default tokens are replaced")
	assert.Equal(t, ModeMobile, c.Classify(desktopUA, 320))
}

func TestClassifier_ZeroValue(t *testing.T) {
	var c Classifier
	assert.Equal(t, ModeDesktop, c.Classify(iphoneUA, 300))
}

func TestSettings_Classifier(t *testing.T) {
	s := Settings{MobileMaxWidth: 1000}
	c := s.Classifier()
	assert.Equal(t, ModeMobile, c.Classify(desktopUA, 1000))
	assert.Equal(t, ModeMobile, c.Classify(iphoneUA, 1920))
}
