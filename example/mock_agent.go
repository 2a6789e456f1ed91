package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jpalmerr/nodewatch/token"
)

// envelope is the response shape the polling client expects.
type envelope struct {
	Status    string `json:"status"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// StartMockAgent runs a mock management agent serving live host metrics.
// Every endpoint requires a bearer token derived from the shared secret.
// Call this in a goroutine before starting the watcher.
func StartMockAgent(addr, secret string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/monitor/cpu", requireToken(secret, handleCPU))
	mux.HandleFunc("/v1/monitor/memory", requireToken(secret, handleMemory))
	mux.HandleFunc("/v1/monitor/disks", requireToken(secret, handleDisks))
	mux.HandleFunc("/v1/monitor/host", requireToken(secret, handleHost))

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock agent error", "error", err)
	}
}

// requireToken rejects requests whose Authorization header does not carry a
// bearer token valid for the current time window.
func requireToken(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		tok, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || !token.Verify(secret, tok, time.Now()) {
			slog.Warn("rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	resp := envelope{
		Status:    "ok",
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func handleCPU(w http.ResponseWriter, r *http.Request) {
	percents, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil || len(percents) == 0 {
		http.Error(w, "cpu metrics unavailable", http.StatusInternalServerError)
		return
	}
	counts, _ := cpu.Counts(true)

	writeEnvelope(w, map[string]any{
		"used_percent": percents[0],
		"cores":        counts,
	})
}

func handleMemory(w http.ResponseWriter, r *http.Request) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		http.Error(w, "memory metrics unavailable", http.StatusInternalServerError)
		return
	}

	writeEnvelope(w, map[string]any{
		"total_bytes":  vm.Total,
		"used_bytes":   vm.Used,
		"used_percent": vm.UsedPercent,
	})
}

func handleDisks(w http.ResponseWriter, r *http.Request) {
	usage, err := disk.Usage("/")
	if err != nil {
		http.Error(w, "disk metrics unavailable", http.StatusInternalServerError)
		return
	}

	writeEnvelope(w, map[string]any{
		"path":         usage.Path,
		"total_bytes":  usage.Total,
		"used_bytes":   usage.Used,
		"used_percent": usage.UsedPercent,
	})
}

func handleHost(w http.ResponseWriter, r *http.Request) {
	info, err := host.Info()
	if err != nil {
		http.Error(w, "host info unavailable", http.StatusInternalServerError)
		return
	}

	writeEnvelope(w, map[string]any{
		"hostname":       info.Hostname,
		"os":             info.OS,
		"platform":       info.Platform,
		"uptime_seconds": info.Uptime,
	})
}
