package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind selects how a monitor's liveness is checked.
type Kind string

const (
	// KindHeartbeat monitors expect the target to contact the engine.
	KindHeartbeat Kind = "Heartbeat"
	// KindPing monitors are polled by the engine.
	KindPing Kind = "Ping"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindHeartbeat, KindPing:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects unknown kinds at decode time.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: kind must be a string", ErrInvalidMonitor)
	}
	parsed := Kind(raw)
	if !parsed.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMonitor, raw)
	}
	*k = parsed
	return nil
}

// ErrInvalidMonitor marks a monitor definition the engine cannot run.
var ErrInvalidMonitor = errors.New("invalid monitor")

// Monitor is a user-registered definition of a target and how its liveness is checked.
type Monitor struct {
	ID       string  `json:"id" yaml:"id"`
	Kind     Kind    `json:"kind" yaml:"kind"`
	Schedule string  `json:"schedule" yaml:"schedule"`
	URL      *string `json:"url" yaml:"url"`
	Secret   *string `json:"secret" yaml:"secret"`
}

// Validate checks the fields required for the monitor's kind.
func (m Monitor) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: id required", ErrInvalidMonitor)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMonitor, m.Kind)
	}
	if m.Kind == KindPing && (m.URL == nil || strings.TrimSpace(*m.URL) == "") {
		return fmt.Errorf("%w: url required for ping monitor %q", ErrInvalidMonitor, m.ID)
	}
	return nil
}

// Clone returns a deep copy so callers never share the optional fields.
func (m Monitor) Clone() Monitor {
	out := m
	if m.URL != nil {
		url := *m.URL
		out.URL = &url
	}
	if m.Secret != nil {
		secret := *m.Secret
		out.Secret = &secret
	}
	return out
}

// SecretMatches applies the heartbeat secret rule: both absent or both present and equal.
func (m Monitor) SecretMatches(supplied *string) bool {
	switch {
	case m.Secret == nil && supplied == nil:
		return true
	case m.Secret != nil && supplied != nil:
		return *m.Secret == *supplied
	default:
		return false
	}
}

// String returns a pointer to s, for building monitors in code.
func String(s string) *string {
	return &s
}
