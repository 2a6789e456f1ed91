package main

import (
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/nodewatch/registry"
	"github.com/jpalmerr/nodewatch/token"
)

// testSecret returns a valid base64-encoded secret of the right size.
func testSecret(t *testing.T) string {
	t.Helper()
	raw := make([]byte, token.SecretSize)
	for i := range raw {
		raw[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestRunToken_FromSecretFlag(t *testing.T) {
	secret := testSecret(t)

	output, err := executeCmd(t, "token", "--secret", secret)
	if err != nil {
		t.Fatalf("token command error = %v", err)
	}

	got := strings.TrimSpace(output)
	if !token.Verify(secret, got, time.Now()) {
		t.Errorf("printed token %q does not verify against the secret", got)
	}
}

func TestRunToken_FromActiveNode(t *testing.T) {
	secret := testSecret(t)
	nodesPath := filepath.Join(t.TempDir(), "nodes.yaml")

	reg, err := registry.Load(nodesPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := reg.Add("lab", "https://10.0.0.4:7070", secret); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := reg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	output, err := executeCmd(t, "token", "-f", nodesPath, "--secret", "")
	if err != nil {
		t.Fatalf("token command error = %v", err)
	}

	got := strings.TrimSpace(output)
	if !token.Verify(secret, got, time.Now()) {
		t.Errorf("printed token %q does not verify against the active node's secret", got)
	}
}

func TestRunToken_NoActiveNode(t *testing.T) {
	nodesPath := filepath.Join(t.TempDir(), "nodes.yaml")

	output, err := executeCmd(t, "token", "-f", nodesPath, "--secret", "")
	if err != nil {
		t.Fatalf("token command should never fail, got error = %v", err)
	}

	if got := strings.TrimSpace(output); got != token.Invalid {
		t.Errorf("token without an active node = %q, want the sentinel %q", got, token.Invalid)
	}
}
