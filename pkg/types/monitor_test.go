package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMonitorJSONContract(t *testing.T) {
	payload := []byte(`{
        "id": "mon-web",
        "kind": "Ping",
        "schedule": "*/5 * * * *",
        "url": "https://status.example.com/health",
        "secret": null
    }`)

	var m Monitor
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("unmarshal monitor: %v", err)
	}
	if m.ID != "mon-web" || m.Kind != KindPing {
		t.Fatalf("unexpected monitor: %+v", m)
	}
	if m.Schedule != "*/5 * * * *" {
		t.Fatalf("schedule should be kept verbatim, got %q", m.Schedule)
	}
	if m.URL == nil || *m.URL != "https://status.example.com/health" {
		t.Fatalf("unexpected url: %v", m.URL)
	}
	if m.Secret != nil {
		t.Fatalf("expected absent secret, got %q", *m.Secret)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestMonitorRejectsUnknownKind(t *testing.T) {
	var m Monitor
	err := json.Unmarshal([]byte(`{"id":"x","kind":"Carrier"}`), &m)
	if !errors.Is(err, ErrInvalidMonitor) {
		t.Fatalf("expected ErrInvalidMonitor, got %v", err)
	}
}

func TestMonitorValidate(t *testing.T) {
	cases := []struct {
		name    string
		monitor Monitor
		wantErr bool
	}{
		{name: "heartbeat without url", monitor: Monitor{ID: "hb", Kind: KindHeartbeat}},
		{name: "ping with url", monitor: Monitor{ID: "p", Kind: KindPing, URL: String("http://localhost")}},
		{name: "ping without url", monitor: Monitor{ID: "p", Kind: KindPing}, wantErr: true},
		{name: "ping blank url", monitor: Monitor{ID: "p", Kind: KindPing, URL: String("  ")}, wantErr: true},
		{name: "missing id", monitor: Monitor{Kind: KindHeartbeat}, wantErr: true},
		{name: "zero kind", monitor: Monitor{ID: "z"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.monitor.Validate()
			if tc.wantErr && !errors.Is(err, ErrInvalidMonitor) {
				t.Fatalf("expected ErrInvalidMonitor, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSecretMatches(t *testing.T) {
	cases := []struct {
		name     string
		stored   *string
		supplied *string
		want     bool
	}{
		{name: "both absent", want: true},
		{name: "both equal", stored: String("x"), supplied: String("x"), want: true},
		{name: "both different", stored: String("x"), supplied: String("y")},
		{name: "stored only", stored: String("x")},
		{name: "supplied only", supplied: String("x")},
		{name: "empty vs absent", stored: String(""), supplied: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := Monitor{ID: "m", Kind: KindHeartbeat, Secret: tc.stored}
			if got := m.SecretMatches(tc.supplied); got != tc.want {
				t.Fatalf("SecretMatches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMonitorCloneDoesNotAlias(t *testing.T) {
	original := Monitor{ID: "m", Kind: KindPing, URL: String("http://a"), Secret: String("s")}
	clone := original.Clone()
	*clone.URL = "http://b"
	*clone.Secret = "t"
	if *original.URL != "http://a" || *original.Secret != "s" {
		t.Fatalf("clone aliases original: %+v", original)
	}
}
