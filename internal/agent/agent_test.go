package agent

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/session"
)

func testConfig(t *testing.T, redisAddr string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Identity: config.IdentityConfig{UserID: "u1"},
		Gateway: config.GatewayConfig{
			URL:     "ws://127.0.0.1:1/ws",
			AgentID: "agent-1",
		},
		Store:   config.StoreConfig{Addr: redisAddr},
		Billing: config.BillingConfig{BaseURL: "http://127.0.0.1:1"},
		Metering: config.MeteringConfig{
			FreeTrialSeconds: 1200,
			TickInterval:     config.Duration{Duration: time.Millisecond},
		},
		Agent: config.AgentConfig{
			SocketPath:  filepath.Join(dir, "agent.sock"),
			HistoryPath: filepath.Join(dir, "history.db"),
		},
	}
}

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	mr := miniredis.RunT(t)
	a, err := New(context.Background(), testConfig(t, mr.Addr()), "test", slog.New(slog.DiscardHandler), nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	t.Cleanup(func() {
		a.controller.Close()
		a.journal.Close()
		a.store.Close()
	})
	return a
}

func TestStatus_FreshUserGetsTrialBalance(t *testing.T) {
	a := newTestAgent(t)
	a.loadBalance(context.Background())

	status := a.Status()
	if !status.BalanceKnown {
		t.Fatal("balance unknown after load")
	}
	if status.RemainingSeconds != 1200 || status.RemainingDisplay != "20:00" {
		t.Fatalf("status = %+v", status)
	}
	if status.Phase != "idle" {
		t.Fatalf("phase = %s", status.Phase)
	}
}

func TestStartCall_UnreachableGatewayLeavesIdle(t *testing.T) {
	a := newTestAgent(t)
	a.loadBalance(context.Background())

	err := a.StartCall(context.Background())
	if !errors.Is(err, session.ErrStartFailed) {
		t.Fatalf("expected ErrStartFailed, got %v", err)
	}
	if got := a.Status().Phase; got != "idle" {
		t.Fatalf("phase = %s, want idle", got)
	}
}

func TestOffers_DefaultCatalog(t *testing.T) {
	a := newTestAgent(t)
	offers := a.Offers()
	if len(offers) != 3 {
		t.Fatalf("offers = %d, want 3", len(offers))
	}
}

func TestHistory_EmptyForFreshUser(t *testing.T) {
	a := newTestAgent(t)
	calls, err := a.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("calls = %d, want 0", len(calls))
	}
}
