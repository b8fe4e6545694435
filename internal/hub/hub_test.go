package hub

import (
	"testing"

	"github.com/haasonsaas/boardsync/pkg/models"
)

func TestHub_PublishExcludesOrigin(t *testing.T) {
	h := New()

	chA := make(chan []byte, 4)
	chB := make(chan []byte, 4)
	cancelA := h.Subscribe("b1", "conn-a", chA)
	defer cancelA()
	cancelB := h.Subscribe("b1", "conn-b", chB)
	defer cancelB()

	h.Publish("b1", "conn-a", []byte("hello"))

	select {
	case got := <-chB:
		if string(got) != "hello" {
			t.Errorf("b received %q", got)
		}
	default:
		t.Fatal("b received nothing")
	}
	select {
	case got := <-chA:
		t.Fatalf("origin received its own frame: %q", got)
	default:
	}
}

func TestHub_PublishScopedToBoard(t *testing.T) {
	h := New()
	ch := make(chan []byte, 1)
	cancel := h.Subscribe("b2", "conn", ch)
	defer cancel()

	h.Publish("b1", "", []byte("x"))

	select {
	case <-ch:
		t.Fatal("frame leaked across boards")
	default:
	}
}

func TestHub_SlowConsumerDrops(t *testing.T) {
	h := New()
	drops := 0
	h.OnDrop(func() { drops++ })

	ch := make(chan []byte, 1)
	cancel := h.Subscribe("b1", "conn", ch)
	defer cancel()

	h.Publish("b1", "", []byte("1"))
	h.Publish("b1", "", []byte("2")) // buffer full, must not block

	if drops != 1 {
		t.Errorf("drops = %d, want 1", drops)
	}
}

func TestHub_Membership(t *testing.T) {
	h := New()

	users := h.Join("b1", "conn-a", models.Member{UserID: "u1", DisplayName: "A"})
	if len(users) != 1 {
		t.Fatalf("members after first join = %d", len(users))
	}
	users = h.Join("b1", "conn-b", models.Member{UserID: "u2"})
	if len(users) != 2 {
		t.Fatalf("members after second join = %d", len(users))
	}

	member, ok := h.Leave("b1", "conn-a")
	if !ok || member.UserID != "u1" {
		t.Fatalf("leave = %+v, %v", member, ok)
	}
	// A second leave for the same connection must not report membership;
	// this is what guarantees exactly one user_left broadcast.
	if _, ok := h.Leave("b1", "conn-a"); ok {
		t.Fatal("double leave reported membership")
	}

	if got := h.Members("b1"); len(got) != 1 || got[0].UserID != "u2" {
		t.Errorf("members = %+v", got)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := New()
	ch := make(chan []byte, 1)
	cancel := h.Subscribe("b1", "conn", ch)
	cancel()

	h.Publish("b1", "", []byte("x"))
	select {
	case <-ch:
		t.Fatal("received after unsubscribe")
	default:
	}
	if got := len(h.Boards()); got != 0 {
		t.Errorf("boards with members = %d, want 0", got)
	}
}
