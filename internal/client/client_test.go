package client

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/boardsync/internal/config"
	"github.com/haasonsaas/boardsync/internal/observability"
	"github.com/haasonsaas/boardsync/internal/server"
	"github.com/haasonsaas/boardsync/pkg/models"
)

func startServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text", Output: &bytes.Buffer{}})
	s, err := server.New(cfg, logger)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func tokenFor(t *testing.T, s *server.Server, userID string) string {
	t.Helper()
	_, access, err := s.Sessions().CreateSession(userID, userID+"@example.com", userID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return access
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func TestClient_OperationsReachPeers(t *testing.T) {
	s, url := startServer(t)

	received := make(chan []models.Operation, 8)
	peers := make(chan models.Member, 8)

	alice := New(Config{
		URL: url, Token: tokenFor(t, s, "alice"), BoardID: "b1", DisplayName: "alice",
	}, Callbacks{})
	if err := alice.Connect(context.Background()); err != nil {
		t.Fatalf("alice connect: %v", err)
	}
	defer alice.Disconnect()

	bob := New(Config{
		URL: url, Token: tokenFor(t, s, "bob"), BoardID: "b1", DisplayName: "bob",
	}, Callbacks{
		OnOperations: func(ops []models.Operation) { received <- ops },
		OnUserJoined: func(m models.Member) { peers <- m },
	})
	if err := bob.Connect(context.Background()); err != nil {
		t.Fatalf("bob connect: %v", err)
	}
	defer bob.Disconnect()

	// Bob's join snapshot includes both members.
	seen := map[string]bool{}
	for len(seen) < 2 {
		m := waitFor(t, peers, "presence snapshot")
		seen[m.UserID] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Fatalf("presence = %v", seen)
	}

	sent, err := alice.SendOperation(models.OpCreate, "el-1", map[string]any{"x": 10.0})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	ops := waitFor(t, received, "operation broadcast")
	if len(ops) != 1 || ops[0].ID != sent.ID || ops[0].Version != 1 || ops[0].UserID != "alice" {
		t.Fatalf("received = %+v", ops)
	}
	if v := bob.Version(); v != 1 {
		t.Errorf("bob version = %d, want 1", v)
	}
}

func TestClient_AuthFailureIsFatal(t *testing.T) {
	_, url := startServer(t)

	c := New(Config{URL: url, Token: "garbage", BoardID: "b1"}, Callbacks{})
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Connect error = %v, want ErrAuthFailed", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", c.State())
	}
}

func TestClient_CursorUpdatesCoalesce(t *testing.T) {
	s, url := startServer(t)

	cursors := make(chan models.CursorUpdatePayload, 64)

	alice := New(Config{
		URL: url, Token: tokenFor(t, s, "alice"), BoardID: "b2",
		PresenceThrottle: 20 * time.Millisecond,
	}, Callbacks{})
	if err := alice.Connect(context.Background()); err != nil {
		t.Fatalf("alice connect: %v", err)
	}
	defer alice.Disconnect()

	bob := New(Config{
		URL: url, Token: tokenFor(t, s, "bob"), BoardID: "b2",
	}, Callbacks{
		OnCursor: func(p models.CursorUpdatePayload) { cursors <- p },
	})
	if err := bob.Connect(context.Background()); err != nil {
		t.Fatalf("bob connect: %v", err)
	}
	defer bob.Disconnect()

	// A burst of moves inside one window yields the final position.
	for i := 0; i <= 50; i++ {
		alice.UpdateCursor(models.Point{X: float64(i), Y: float64(i * 2)})
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case p := <-cursors:
			if p.Position.X == 50 && p.Position.Y == 100 {
				if p.UserID != "alice" {
					t.Errorf("cursor from %q, want alice", p.UserID)
				}
				return
			}
		case <-deadline:
			t.Fatal("final cursor position never arrived")
		}
	}
}

func TestClient_QueueAcknowledgeAndExpiry(t *testing.T) {
	c := New(Config{URL: "ws://unused", Token: "t", BoardID: "b", QueueTTL: 5 * time.Second}, Callbacks{})

	base := time.Now()
	c.nowFunc = func() time.Time { return base }

	op1, err := c.SendOperation(models.OpCreate, "el-1", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	op2, err := c.SendOperation(models.OpMove, "el-2", map[string]any{"x": 1.0, "y": 1.0})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if c.PendingCount() != 2 {
		t.Fatalf("pending = %d, want 2", c.PendingCount())
	}

	// A server echo of op1 (e.g. in a rejoin backfill) acknowledges it.
	c.handleRemoteOps([]models.Operation{{ID: op1.ID, Type: models.OpCreate, ElementID: "el-1", UserID: "me", Version: 1}})
	if c.PendingCount() != 1 {
		t.Fatalf("pending after ack = %d, want 1", c.PendingCount())
	}

	// op2 outlives the TTL and is dropped as lost.
	c.nowFunc = func() time.Time { return base.Add(6 * time.Second) }
	c.expirePending()
	if c.PendingCount() != 0 {
		t.Fatalf("pending after expiry = %d, want 0 (op2 %s should be dropped)", c.PendingCount(), op2.ID)
	}
}

func TestClient_TransformsPendingAgainstRemote(t *testing.T) {
	var delivered []models.Operation
	c := New(Config{URL: "ws://unused", Token: "t", BoardID: "b"}, Callbacks{
		OnOperations: func(ops []models.Operation) { delivered = append(delivered, ops...) },
	})

	local, err := c.SendOperation(models.OpMove, "el-1", map[string]any{
		"x": 120.0, "y": 130.0, "originalX": 100.0, "originalY": 100.0,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	remote := models.Operation{
		ID: "remote-1", Type: models.OpMove, ElementID: "el-1", UserID: "peer",
		Version: 1, Data: map[string]any{
			"x": 150.0, "y": 160.0, "originalX": 100.0, "originalY": 100.0,
		},
	}
	c.handleRemoteOps([]models.Operation{remote})

	if len(delivered) != 1 || delivered[0].ID != "remote-1" {
		t.Fatalf("delivered = %+v", delivered)
	}
	if c.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", c.PendingCount())
	}

	// The delivered remote move is folded over the queued local edit: the
	// remote delta (+50,+60) reapplied over the local position (120,130).
	dx, _ := delivered[0].DataNumber("x")
	dy, _ := delivered[0].DataNumber("y")
	if dx != 170 || dy != 190 {
		t.Errorf("delivered position = (%v, %v), want (170, 190)", dx, dy)
	}

	// The queued local move rides on top of the remote position: the local
	// delta (+20,+30) reapplied over (150,160). Both sides land on the same
	// point the server serializes.
	rebased := c.pending[0].op
	if rebased.ID != local.ID {
		t.Fatalf("queue reordered: %+v", rebased)
	}
	x, _ := rebased.DataNumber("x")
	y, _ := rebased.DataNumber("y")
	if x != 170 || y != 190 {
		t.Errorf("rebased position = (%v, %v), want (170, 190)", x, y)
	}
	if c.Version() != 1 {
		t.Errorf("version = %d, want 1", c.Version())
	}
}

func TestClient_ConcurrentMovesConvergeWithServer(t *testing.T) {
	var delivered []models.Operation
	c := New(Config{URL: "ws://unused", Token: "t", BoardID: "b"}, Callbacks{
		OnOperations: func(ops []models.Operation) { delivered = append(delivered, ops...) },
	})

	// Local drag of el-1 from (0,0) to (10,10) is still in the queue when a
	// peer's drag of the same element from (0,0) to (5,5) arrives.
	if _, err := c.SendOperation(models.OpMove, "el-1", map[string]any{
		"x": 10.0, "y": 10.0, "originalX": 0.0, "originalY": 0.0,
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	c.handleRemoteOps([]models.Operation{{
		ID: "peer-move", Type: models.OpMove, ElementID: "el-1", UserID: "peer",
		Version: 6, Data: map[string]any{
			"x": 5.0, "y": 5.0, "originalX": 0.0, "originalY": 0.0,
		},
	}})

	// The server serializes the peer's move first and transforms the local
	// one on top of it, landing the element at (15,15). The locally applied
	// remote must reach the same point.
	if len(delivered) != 1 {
		t.Fatalf("delivered = %+v", delivered)
	}
	x, _ := delivered[0].DataNumber("x")
	y, _ := delivered[0].DataNumber("y")
	if x != 15 || y != 15 {
		t.Errorf("locally applied position = (%v, %v), want (15, 15)", x, y)
	}

	rx, _ := c.pending[0].op.DataNumber("x")
	ry, _ := c.pending[0].op.DataNumber("y")
	if rx != 15 || ry != 15 {
		t.Errorf("queued resend position = (%v, %v), want (15, 15)", rx, ry)
	}
}

func TestClient_ResyncRequiredClearsQueue(t *testing.T) {
	resync := make(chan struct{}, 1)
	c := New(Config{URL: "ws://unused", Token: "t", BoardID: "b"}, Callbacks{
		OnResyncRequired: func() { resync <- struct{}{} },
	})

	if _, err := c.SendOperation(models.OpCreate, "el-1", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	payload, _ := models.EncodeFrame(models.MsgError, models.ErrorPayload{
		Code: models.ErrCodeResyncRequired, Message: "stale",
	})
	frame, _ := models.DecodeFrame(payload)
	c.handleFrame(frame)

	waitFor(t, resync, "resync callback")
	if c.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0 after resync", c.PendingCount())
	}
}
