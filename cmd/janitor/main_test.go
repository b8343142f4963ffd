package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pingsantohq/janitor/internal/config"
	"github.com/pingsantohq/janitor/internal/engine"
	"github.com/pingsantohq/janitor/internal/metrics"
	"github.com/pingsantohq/janitor/internal/server"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "janitor "+server.Version {
		t.Fatalf("unexpected version output %q", got)
	}
}

func TestServeRejectsMissingConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"serve", "--config", t.TempDir() + "/missing.yaml"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestServerConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AllowedOrigins = []string{"https://status.example.com"}
	cfg.Events.SinkBuffer = 8

	got := serverConfig(cfg)
	if got.Addr != cfg.Server.Addr || got.ReadTimeout != cfg.Server.ReadTimeout {
		t.Fatalf("server settings not mapped: %+v", got)
	}
	if got.SinkBuffer != 8 || got.KeepAlive != cfg.Events.KeepAlive || got.WSPingInterval != cfg.Events.WSPingInterval {
		t.Fatalf("event settings not mapped: %+v", got)
	}
	if len(got.AllowedOrigins) != 1 || got.AllowedOrigins[0] != "https://status.example.com" {
		t.Fatalf("origins not mapped: %+v", got.AllowedOrigins)
	}
}

func TestEngineOptionsApplyOperatorSecret(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.OperatorSecret = "admin"
	cfg.Engine.RateGovernance = config.RateGovernance{Enabled: true, PingsPerSec: 5}

	eng := engine.New(engineOptions(cfg, metrics.NewStore())...)
	if !eng.Authorized("admin") {
		t.Fatalf("expected operator secret to be accepted")
	}
	if eng.Authorized("") {
		t.Fatalf("expected empty token to be rejected")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, log.New(io.Discard, "", 0))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("serve did not stop after cancel")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestServeStopsWithOpenEventStream(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = freeAddr(t)
	cfg.Server.ShutdownTimeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, log.New(io.Discard, "", 0))
	}()

	streamCtx, cancelStream := context.WithCancel(context.Background())
	defer cancelStream()
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, "http://"+cfg.Server.Addr+"/events/all", nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		resp, err = http.DefaultClient.Do(req)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never accepted the stream: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status %d", resp.StatusCode)
	}

	start := time.Now()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
		if elapsed := time.Since(start); elapsed >= cfg.Server.ShutdownTimeout {
			t.Fatalf("shutdown waited out the timeout (%s)", elapsed)
		}
	case <-time.After(cfg.Server.ShutdownTimeout):
		t.Fatalf("serve did not stop while a stream was open")
	}
}
