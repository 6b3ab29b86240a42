package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/videofunnel/internal/exitintent"
)

// Tunables is the optional YAML file that adjusts the exit-intent heuristics
// and live session limits without a redeploy.
type Tunables struct {
	ExitIntent exitintent.Settings `yaml:"exit_intent"`
	Live       LiveSettings        `yaml:"live"`
}

// LiveSettings bounds each WebSocket session.
type LiveSettings struct {
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	HelloTimeout    time.Duration `yaml:"hello_timeout"`
}

// DefaultTunables returns the built-in heuristics.
func DefaultTunables() *Tunables {
	t := &Tunables{ExitIntent: exitintent.DefaultSettings()}
	applyDefaults(t)
	return t
}

// LoadTunables reads a YAML tunables file. An empty path returns defaults.
func LoadTunables(path string) (*Tunables, error) {
	if path == "" {
		return DefaultTunables(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tunables: read %s: %w", path, err)
	}
	t, err := LoadTunablesBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("tunables: %s: %w", path, err)
	}
	return t, nil
}

// LoadTunablesBytes parses tunables from bytes, expanding env vars.
func LoadTunablesBytes(data []byte) (*Tunables, error) {
	var t Tunables
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &t); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := t.ExitIntent.Validate(); err != nil {
		return nil, err
	}
	applyDefaults(&t)
	return &t, nil
}

func applyDefaults(t *Tunables) {
	t.ExitIntent = t.ExitIntent.WithDefaults()
	if t.Live.MaxMessageBytes <= 0 {
		t.Live.MaxMessageBytes = 4096
	}
	if t.Live.WriteTimeout <= 0 {
		t.Live.WriteTimeout = 10 * time.Second
	}
	if t.Live.PingInterval <= 0 {
		t.Live.PingInterval = 30 * time.Second
	}
	if t.Live.HelloTimeout <= 0 {
		t.Live.HelloTimeout = 15 * time.Second
	}
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the environment value. Missing
// vars become empty strings.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
