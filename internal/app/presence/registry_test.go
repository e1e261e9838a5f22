package presence

import (
	"math"
	"testing"

	"voteboard/internal/app/identity"
)

var testIdentity = identity.Identity{
	Token:        "user_0000000000000000000001",
	DisplayName:  "Happy Cat",
	DisplayColor: "#112233",
}

func TestRegistryOpenIsUnidentified(t *testing.T) {
	r := NewRegistry()
	s := r.Open("c1")

	if s.Identified {
		t.Fatal("new session is identified")
	}
	if len(r.Snapshot()) != 0 {
		t.Fatal("unidentified session in snapshot")
	}
	if r.Len() != 1 || r.IdentifiedLen() != 0 {
		t.Fatalf("Len = %d, IdentifiedLen = %d", r.Len(), r.IdentifiedLen())
	}
}

func TestRegistryIdentifyDefaults(t *testing.T) {
	r := NewRegistry()
	r.Open("c1")

	s, ok := r.Identify("c1", testIdentity)
	if !ok {
		t.Fatal("Identify failed")
	}
	if s.Cursor != (Cursor{X: 50, Y: 50}) || s.TypingText != "" || s.IsTyping {
		t.Errorf("defaults = %+v", s)
	}

	if _, ok := r.Identify("missing", testIdentity); ok {
		t.Error("Identify succeeded without Open")
	}
}

func TestRegistryUpdateCursorClamps(t *testing.T) {
	tests := []struct {
		name       string
		x, y       float64
		wantX      float64
		wantY      float64
		wantUpdate bool
	}{
		{"inside", 12.5, 80, 12.5, 80, true},
		{"below", -5, -0.1, 0, 0, true},
		{"above", 500, 100.01, 100, 100, true},
		{"nan", math.NaN(), 10, 50, 50, false},
		{"inf", 10, math.Inf(1), 50, 50, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.Open("c1")
			r.Identify("c1", testIdentity)

			_, updated := r.UpdateCursor("c1", tt.x, tt.y)
			if updated != tt.wantUpdate {
				t.Fatalf("updated = %v, want %v", updated, tt.wantUpdate)
			}

			s := r.Snapshot()[0]
			if s.Cursor.X != tt.wantX || s.Cursor.Y != tt.wantY {
				t.Errorf("cursor = %+v, want (%v, %v)", s.Cursor, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestRegistryIgnoresUnidentifiedInput(t *testing.T) {
	r := NewRegistry()
	r.Open("c1")

	if _, ok := r.UpdateCursor("c1", 10, 10); ok {
		t.Error("cursor accepted before identify")
	}
	if _, ok := r.UpdateTyping("c1", "hi", true); ok {
		t.Error("typing accepted before identify")
	}
	if _, ok := r.UpdateCursor("ghost", 10, 10); ok {
		t.Error("cursor accepted for unknown connection")
	}
}

func TestRegistryUpdateTyping(t *testing.T) {
	r := NewRegistry()
	r.Open("c1")
	r.Identify("c1", testIdentity)

	s, ok := r.UpdateTyping("c1", "hello", true)
	if !ok || s.TypingText != "hello" || !s.IsTyping {
		t.Fatalf("UpdateTyping = %+v, %v", s, ok)
	}

	s, _ = r.UpdateTyping("c1", "", false)
	if s.TypingText != "" || s.IsTyping {
		t.Errorf("typing not cleared: %+v", s)
	}
}

func TestRegistryCloseIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Open("c1")
	r.Identify("c1", testIdentity)

	if _, ok := r.Close("c1"); !ok {
		t.Fatal("first close reported false")
	}
	if _, ok := r.Close("c1"); ok {
		t.Fatal("second close reported true")
	}
	if len(r.Snapshot()) != 0 {
		t.Error("closed session still in snapshot")
	}
}

func TestRegistrySnapshotOrderAndSameToken(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c1", "c2", "c3"} {
		r.Open(id)
	}
	r.Identify("c3", testIdentity)
	r.Identify("c1", testIdentity)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}
	if snap[0].ConnectionID != "c1" || snap[1].ConnectionID != "c3" {
		t.Errorf("snapshot order = %s, %s", snap[0].ConnectionID, snap[1].ConnectionID)
	}
}

func TestSessionPeerHidesPrivateFields(t *testing.T) {
	r := NewRegistry()
	r.Open("c1")
	id := testIdentity
	id.PayoutAddress = "secret-addr"
	s, _ := r.Identify("c1", id)

	p := s.Peer()
	if p.ConnectionID != "c1" || p.DisplayName != id.DisplayName || p.DisplayColor != id.DisplayColor {
		t.Errorf("peer = %+v", p)
	}
}
