// Standalone mock management agent for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockagent
//
// The agent prints its shared secret on startup. Register it, then serve:
//
//	nodewatch nodes add --name local --address http://localhost:7070 --secret <printed secret>
//	nodewatch serve -c example/config.yaml
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jpalmerr/nodewatch/token"
)

func main() {
	secret := os.Getenv("NODEWATCH_SECRET")
	if secret == "" {
		raw := make([]byte, token.SecretSize)
		if _, err := rand.Read(raw); err != nil {
			slog.Error("failed to generate secret", "error", err)
			os.Exit(1)
		}
		secret = base64.StdEncoding.EncodeToString(raw)
	}

	fmt.Println("Mock management agent starting on :7070")
	fmt.Println("Shared secret (register with 'nodewatch nodes add --secret ...'):")
	fmt.Println()
	fmt.Println(secret)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !token.Verify(secret, tok, time.Now()) {
				slog.Warn("rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
				http.Error(w, "invalid token", http.StatusForbidden)
				return
			}
			next(w, r)
		}
	}

	respond := func(w http.ResponseWriter, data any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"data":      data,
			"timestamp": time.Now().Unix(),
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/monitor/cpu", authed(func(w http.ResponseWriter, r *http.Request) {
		percents, err := cpu.Percent(200*time.Millisecond, false)
		if err != nil || len(percents) == 0 {
			http.Error(w, "cpu metrics unavailable", http.StatusInternalServerError)
			return
		}
		respond(w, map[string]any{"used_percent": percents[0]})
	}))
	mux.HandleFunc("/v1/monitor/memory", authed(func(w http.ResponseWriter, r *http.Request) {
		vm, err := mem.VirtualMemory()
		if err != nil {
			http.Error(w, "memory metrics unavailable", http.StatusInternalServerError)
			return
		}
		respond(w, map[string]any{
			"total_bytes":  vm.Total,
			"used_bytes":   vm.Used,
			"used_percent": vm.UsedPercent,
		})
	}))

	if err := http.ListenAndServe(":7070", mux); err != nil {
		slog.Error("agent error", "error", err)
		os.Exit(1)
	}
}
