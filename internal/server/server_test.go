package server

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/nodewatch/internal/store"
	"github.com/jpalmerr/nodewatch/registry"
	"github.com/jpalmerr/nodewatch/token"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func TestHandleStatus(t *testing.T) {
	st := store.NewMemoryStore()
	st.Update(store.Sample{
		Subscription: "cpu",
		Endpoint:     "/v1/monitor/cpu",
		Status:       "connected",
		Payload:      json.RawMessage(`{"load":0.3}`),
		CheckedAt:    time.Now(),
	})

	srv := NewServer(st, nil, 0, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var samples []store.Sample
	if err := json.Unmarshal(rec.Body.Bytes(), &samples); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if len(samples) != 1 || samples[0].Subscription != "cpu" {
		t.Errorf("unexpected samples: %+v", samples)
	}
}

func TestHandleStatus_MethodNotAllowed(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), nil, 0, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.handleStatus(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleNodes_OmitsSecrets(t *testing.T) {
	reg := registry.New()
	secret := base64.StdEncoding.EncodeToString(make([]byte, token.SecretSize))
	node, err := reg.Add("home", "https://10.0.0.4:7070", secret)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	srv := NewServer(store.NewMemoryStore(), reg, 0, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/nodes", nil)
	rec := httptest.NewRecorder()
	srv.handleNodes(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	if strings.Contains(body, secret) {
		t.Error("response leaked a node secret")
	}

	var resp nodesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp.Active != node.ID {
		t.Errorf("active = %q, want %q", resp.Active, node.ID)
	}
	if len(resp.Nodes) != 1 || resp.Nodes[0].Name != "home" {
		t.Errorf("unexpected nodes: %+v", resp.Nodes)
	}
}

func TestHandleNodes_NilLister(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), nil, 0, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/nodes", nil)
	rec := httptest.NewRecorder()
	srv.handleNodes(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"nodes":[]`) {
		t.Errorf("expected empty node list, got %s", rec.Body.String())
	}
}

func TestSSE_StreamsUpdates(t *testing.T) {
	st := store.NewMemoryStore()
	srv := NewServer(st, nil, 0, testLogger())

	ts := httptest.NewServer(http.HandlerFunc(srv.handleSSE))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// publish after the subscription is live
	go func() {
		time.Sleep(50 * time.Millisecond)
		st.Update(store.Sample{Subscription: "cpu", Status: "connected"})
	}()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading SSE stream: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") {
		t.Fatalf("SSE line = %q, want data: prefix", line)
	}
	var sample store.Sample
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &sample); err != nil {
		t.Fatalf("SSE payload is not valid JSON: %v", err)
	}
	if sample.Subscription != "cpu" {
		t.Errorf("streamed subscription = %q, want cpu", sample.Subscription)
	}
}

func TestStart_BindFailure(t *testing.T) {
	st := store.NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// probe the kernel for an unused port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to probe for a free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	first := NewServer(st, nil, port, testLogger())
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}

	second := NewServer(st, nil, port, testLogger())
	if err := second.Start(ctx); err == nil {
		t.Error("second Start() on the same port expected error, got nil")
	}

	// sanity: the first server actually answers
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/status", port))
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	_ = resp.Body.Close()
}
