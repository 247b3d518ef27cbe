package rooms

import (
	"context"
	"errors"
	"sync"
	"testing"

	"realtime-service/domain"
)

type fakeGate struct {
	mu      sync.Mutex
	allowed map[string]bool // userID + "|" + room key
	err     error
	calls   int
}

func (g *fakeGate) IsAuthorized(_ context.Context, userID string, key domain.RoomKey) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return false, g.err
	}
	return g.allowed[userID+"|"+key.String()], nil
}

func allowAllGate() *fakeGate {
	return &fakeGate{allowed: map[string]bool{}}
}

func (g *fakeGate) allow(userID string, key domain.RoomKey) {
	g.mu.Lock()
	g.allowed[userID+"|"+key.String()] = true
	g.mu.Unlock()
}

type fakeSender struct {
	id     string
	userID string

	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func (s *fakeSender) ID() string     { return s.id }
func (s *fakeSender) UserID() string { return s.userID }

func (s *fakeSender) TrySend(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return errors.New("backpressure")
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSender) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

func TestJoinDeniedNeverAddsMember(t *testing.T) {
	gate := allowAllGate()
	reg := NewRegistry(gate, nil)
	conn := &fakeSender{id: "c1", userID: "u1"}
	room := domain.BoardRoom("42")

	accepted, reason := reg.Join(context.Background(), conn, room)
	if accepted {
		t.Fatal("expected denial")
	}
	if reason == "" {
		t.Fatal("expected a human-readable reason")
	}
	if reg.MemberCount(room) != 0 {
		t.Fatalf("denied join mutated member set: %d", reg.MemberCount(room))
	}
	if reg.Contains("c1", room) {
		t.Fatal("denied connection present in room")
	}
}

func TestJoinApprovedAddsMember(t *testing.T) {
	gate := allowAllGate()
	room := domain.BoardRoom("42")
	gate.allow("u1", room)
	reg := NewRegistry(gate, nil)
	conn := &fakeSender{id: "c1", userID: "u1"}

	accepted, reason := reg.Join(context.Background(), conn, room)
	if !accepted || reason != "" {
		t.Fatalf("expected approval, got accepted=%v reason=%q", accepted, reason)
	}
	if !reg.Contains("c1", room) {
		t.Fatal("approved connection missing from room")
	}
	if gate.calls != 1 {
		t.Fatalf("expected exactly one gate call, got %d", gate.calls)
	}
}

func TestJoinGateErrorIsDenial(t *testing.T) {
	gate := &fakeGate{err: errors.New("authority down")}
	reg := NewRegistry(gate, nil)
	conn := &fakeSender{id: "c1", userID: "u1"}
	room := domain.BoardRoom("42")

	accepted, reason := reg.Join(context.Background(), conn, room)
	if accepted {
		t.Fatal("gate error must not grant access")
	}
	if reason != "authorization unavailable" {
		t.Fatalf("unexpected reason: %q", reason)
	}
	if reg.MemberCount(room) != 0 {
		t.Fatal("gate error mutated member set")
	}
}

func TestGateCheckedPerJoinAttempt(t *testing.T) {
	gate := allowAllGate()
	room := domain.BoardRoom("42")
	gate.allow("u1", room)
	reg := NewRegistry(gate, nil)
	conn := &fakeSender{id: "c1", userID: "u1"}

	reg.Join(context.Background(), conn, room)
	reg.Leave("c1", room)
	reg.Join(context.Background(), conn, room)

	if gate.calls != 2 {
		t.Fatalf("expected gate consulted once per attempt, got %d calls", gate.calls)
	}
}

func TestDisconnectCleansAllMemberships(t *testing.T) {
	gate := allowAllGate()
	rms := []domain.RoomKey{
		domain.BoardRoom("1"),
		domain.BoardRoom("2"),
		domain.WorkspaceRoom("w1"),
	}
	for _, r := range rms {
		gate.allow("u1", r)
	}
	reg := NewRegistry(gate, nil)
	conn := &fakeSender{id: "c1", userID: "u1"}

	for _, r := range rms {
		if ok, reason := reg.Join(context.Background(), conn, r); !ok {
			t.Fatalf("join %s denied: %s", r, reason)
		}
	}

	reg.DropConnection("c1")

	for _, r := range rms {
		if reg.Contains("c1", r) {
			t.Fatalf("connection still member of %s after disconnect", r)
		}
		if reg.MemberCount(r) != 0 {
			t.Fatalf("room %s not garbage-collected", r)
		}
	}
	if got := reg.Rooms("c1"); len(got) != 0 {
		t.Fatalf("registry still tracks dropped connection: %v", got)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	reg := NewRegistry(allowAllGate(), nil)
	room := domain.BoardRoom("42")

	// leaving a never-joined room is a no-op, not an error
	reg.Leave("c1", room)
	reg.Leave("c1", room)
	if reg.MemberCount(room) != 0 {
		t.Fatal("phantom membership after idempotent leave")
	}
}

func TestBroadcastExcludesOrigin(t *testing.T) {
	gate := allowAllGate()
	room := domain.BoardRoom("42")
	a := &fakeSender{id: "a", userID: "ua"}
	b := &fakeSender{id: "b", userID: "ub"}
	c := &fakeSender{id: "c", userID: "uc"}
	for _, s := range []*fakeSender{a, b, c} {
		gate.allow(s.userID, room)
	}
	reg := NewRegistry(gate, nil)
	for _, s := range []*fakeSender{a, b, c} {
		if ok, _ := reg.Join(context.Background(), s, room); !ok {
			t.Fatalf("join failed for %s", s.id)
		}
	}

	res := reg.Broadcast(room, []byte("evt"), "a")
	if res.SentTo != 2 {
		t.Fatalf("expected 2 deliveries, got %d", res.SentTo)
	}
	if len(a.received()) != 0 {
		t.Fatal("origin received its own broadcast")
	}
	if len(b.received()) != 1 || len(c.received()) != 1 {
		t.Fatalf("expected b and c to receive: b=%d c=%d", len(b.received()), len(c.received()))
	}
}

func TestBroadcastSkipsSaturatedMember(t *testing.T) {
	gate := allowAllGate()
	room := domain.BoardRoom("42")
	healthy := &fakeSender{id: "h", userID: "uh"}
	stuck := &fakeSender{id: "s", userID: "us", full: true}
	gate.allow("uh", room)
	gate.allow("us", room)
	reg := NewRegistry(gate, nil)
	reg.Join(context.Background(), healthy, room)
	reg.Join(context.Background(), stuck, room)

	res := reg.Broadcast(room, []byte("evt"), "")
	if res.SentTo != 1 || res.Dropped != 1 {
		t.Fatalf("expected 1 sent 1 dropped, got %+v", res)
	}
	if len(healthy.received()) != 1 {
		t.Fatal("healthy member missed the broadcast")
	}
}

func TestBroadcastToUnknownRoomIsEmpty(t *testing.T) {
	reg := NewRegistry(allowAllGate(), nil)
	res := reg.Broadcast(domain.BoardRoom("nope"), []byte("evt"), "")
	if res.SentTo != 0 || res.Dropped != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestConcurrentJoinLeaveBroadcast(t *testing.T) {
	gate := allowAllGate()
	room := domain.BoardRoom("42")
	reg := NewRegistry(gate, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		s := &fakeSender{id: string(rune('A' + i)), userID: "u"}
		gate.allow("u", room)
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Join(context.Background(), s, room)
			reg.Broadcast(room, []byte("evt"), "")
			reg.DropConnection(s.id)
		}()
	}
	wg.Wait()

	if reg.MemberCount(room) != 0 {
		t.Fatalf("expected empty room after churn, got %d members", reg.MemberCount(room))
	}
}
