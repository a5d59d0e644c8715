package systemd

import (
	"context"
	"testing"
)

func TestNotifyWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	sent, err := Ready()
	if err != nil || sent {
		t.Fatalf("Ready sent=%v err=%v", sent, err)
	}
	if sent, err := Status("ok"); err != nil || sent {
		t.Fatalf("Status sent=%v err=%v", sent, err)
	}
	if err := Watchdog(context.Background()); err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
}
