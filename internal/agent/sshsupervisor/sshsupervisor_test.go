package sshsupervisor

import (
	"os"
	"testing"
	"time"
)

func TestFailureDelayCapsAtSixtySeconds(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, time.Second},
		{30, 30 * time.Second},
		{60, 60 * time.Second},
		{61, 60 * time.Second},
		{1000, 60 * time.Second},
	}
	for _, c := range cases {
		if got := failureDelay(c.failures); got != c.want {
			t.Errorf("failureDelay(%d) = %v, want %v", c.failures, got, c.want)
		}
	}
}

func TestForwardSpecGatewayPrefix(t *testing.T) {
	cfg := Config{ForwardHost: "localhost", ForwardPort: 22, RemotePort: 10005}

	if got := forwardSpec(cfg); got != "10005:localhost:22" {
		t.Fatalf("forwardSpec() = %q", got)
	}

	cfg.GatewayPort = true
	if got := forwardSpec(cfg); got != "*:10005:localhost:22" {
		t.Fatalf("forwardSpec() with gateway = %q", got)
	}
}

func TestWritePrivateKeyIsRestrictedAndCleanedUp(t *testing.T) {
	path, cleanup, err := writePrivateKey("forward-1", "fake-key-material")
	if err != nil {
		t.Fatalf("writePrivateKey: %v", err)
	}
	defer cleanup()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected mode 0600, got %o", perm)
	}

	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected key file removed after cleanup, stat err = %v", err)
	}
}
