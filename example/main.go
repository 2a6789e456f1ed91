package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/nodewatch"
	"github.com/jpalmerr/nodewatch/registry"
	"github.com/jpalmerr/nodewatch/token"
)

func main() {
	// generate a fresh shared secret for this demo run
	raw := make([]byte, token.SecretSize)
	if _, err := rand.Read(raw); err != nil {
		slog.Error("failed to generate secret", "error", err)
		os.Exit(1)
	}
	secret := base64.StdEncoding.EncodeToString(raw)

	// start the mock agent (see mock_agent.go)
	go StartMockAgent(":7070", secret)
	time.Sleep(100 * time.Millisecond)

	// register the agent as the active node
	reg := registry.New()
	if _, err := reg.Add("local", "http://localhost:7070", secret); err != nil {
		slog.Error("failed to register node", "error", err)
		os.Exit(1)
	}

	cpuSub, _ := nodewatch.NewSubscription("cpu", "/v1/monitor/cpu",
		nodewatch.WithInterval(1*time.Second),
	)
	memSub, _ := nodewatch.NewSubscription("memory", "/v1/monitor/memory",
		nodewatch.WithInterval(2*time.Second),
	)
	diskSub, _ := nodewatch.NewSubscription("disks", "/v1/monitor/disks",
		nodewatch.WithInterval(5*time.Second),
	)

	nw, err := nodewatch.New(
		nodewatch.WithRegistry(reg),
		nodewatch.WithSubscription(cpuSub),
		nodewatch.WithSubscription(memSub),
		nodewatch.WithSubscription(diskSub),
		nodewatch.WithPort(8080),
		nodewatch.WithSampleCallback(func(s nodewatch.Sample) {
			if s.Status == nodewatch.StatusConnected {
				fmt.Printf("  [%s] %s: %s\n", s.Subscription, s.Status, s.Payload)
			} else {
				fmt.Printf("  [%s] %s (failures: %d)\n", s.Subscription, s.Status, s.Failures)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  Nodewatch Demo")
	fmt.Println()
	fmt.Println("  Polling a local mock agent on :7070 with rotating bearer tokens.")
	fmt.Println("  Diagnostic API: http://localhost:8080/api/status")
	fmt.Println("  Live stream:    http://localhost:8080/api/sse")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := nw.Start(ctx); err != nil {
		slog.Error("nodewatch error", "error", err)
		os.Exit(1)
	}
}
