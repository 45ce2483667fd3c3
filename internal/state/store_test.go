package state

import (
	"regexp"
	"sync"
	"testing"
	"time"
)

func testStore() *Store {
	s := NewStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	return s
}

func TestGenerateRequestID(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9a-f]{8}$`)
	seen := make(map[string]struct{})
	for range 100 {
		id := generateRequestID()
		if !pattern.MatchString(id) {
			t.Fatalf("request id %q does not match 8-hex format", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestRegisterAgentResetsAutoApprove(t *testing.T) {
	s := testStore()

	s.RegisterAgent("worker-1", "Worker")
	if s.AutoApprove("worker-1") {
		t.Fatal("fresh session must not auto-approve")
	}

	s.EnableAutoApprove("worker-1", "Worker")
	if !s.AutoApprove("worker-1") {
		t.Fatal("auto-approve not set")
	}

	// Re-registration marks a new lifecycle and resets the flag.
	s.RegisterAgent("worker-1", "Worker v2")
	if s.AutoApprove("worker-1") {
		t.Fatal("re-registration must reset auto-approve")
	}

	sessions := s.Sessions()
	if len(sessions) != 1 || sessions[0].Name != "Worker v2" {
		t.Fatalf("latest name must win, got %+v", sessions)
	}
}

func TestUnregisterAgentClearsSessionAndQueue(t *testing.T) {
	s := testStore()
	s.RegisterAgent("main", "CC")
	s.Enqueue("main", "hello")

	s.UnregisterAgent("main")

	if s.AutoApprove("main") {
		t.Fatal("session should be gone")
	}
	if got := s.Drain("main"); got != nil {
		t.Fatalf("queue should be gone, got %v", got)
	}
	if len(s.Sessions()) != 0 {
		t.Fatal("no sessions expected")
	}
}

func TestResolveSignalsLatchOnce(t *testing.T) {
	s := testStore()
	a := s.CreateApproval(ApprovalRequest{AgentID: "main", ToolName: "bash"})

	select {
	case <-a.Done():
		t.Fatal("latch must not be signaled before resolution")
	default:
	}

	if !s.Resolve(a.ID, Resolution{Decision: DecisionApprove, Reason: "user approved"}) {
		t.Fatal("first resolve must succeed")
	}
	if s.Resolve(a.ID, Resolution{Decision: DecisionDeny, Reason: "user denied"}) {
		t.Fatal("second resolve must be a no-op")
	}

	select {
	case <-a.Done():
	default:
		t.Fatal("latch must be signaled after resolution")
	}

	if got := a.Resolution(); got.Decision != DecisionApprove || got.Reason != "user approved" {
		t.Fatalf("first resolution must win, got %+v", got)
	}
}

func TestResolveUnknownID(t *testing.T) {
	s := testStore()
	if s.Resolve("deadbeef", Resolution{Decision: DecisionApprove}) {
		t.Fatal("resolving an unknown id must fail")
	}
}

func TestExpireLosesAgainstResolution(t *testing.T) {
	s := testStore()
	a := s.CreateApproval(ApprovalRequest{AgentID: "main", ToolName: "bash"})

	s.Resolve(a.ID, Resolution{Decision: DecisionApprove, Reason: "user approved"})
	if s.Expire(a.ID) {
		t.Fatal("expire must lose when the record is already resolved")
	}

	// The resolved record is still takeable.
	taken, _ := s.Take(a.ID)
	if taken == nil {
		t.Fatal("resolved record must remain until taken")
	}
}

func TestExpireRemovesRecordAndMapping(t *testing.T) {
	s := testStore()
	a := s.CreateApproval(ApprovalRequest{AgentID: "main", ToolName: "bash"})
	s.MapPrompt(42, a.ID)

	if !s.Expire(a.ID) {
		t.Fatal("expire on pending record must succeed")
	}
	if _, ok := s.RequestForPrompt(42); ok {
		t.Fatal("prompt mapping must be removed on expiry")
	}
	if s.Resolve(a.ID, Resolution{Decision: DecisionApprove}) {
		t.Fatal("expired record must not be resolvable")
	}
}

func TestTakeDrainsQueueAtomically(t *testing.T) {
	s := testStore()
	s.Enqueue("main", "focus tests")
	s.Enqueue("main", "then docs")

	a := s.CreateApproval(ApprovalRequest{AgentID: "main", ToolName: "bash"})
	s.MapPrompt(7, a.ID)
	s.Resolve(a.ID, Resolution{Decision: DecisionApprove, Reason: "user approved"})

	taken, msgs := s.Take(a.ID)
	if taken == nil {
		t.Fatal("take must return the record")
	}
	if len(msgs) != 2 || msgs[0] != "focus tests" || msgs[1] != "then docs" {
		t.Fatalf("queue must drain in FIFO order, got %v", msgs)
	}
	if _, ok := s.RequestForPrompt(7); ok {
		t.Fatal("prompt mapping must be removed on take")
	}
	if snap := s.Snapshot(); snap.MessageQueues["main"] != 0 {
		t.Fatalf("queue depth after take = %d, want 0", snap.MessageQueues["main"])
	}
	if again, _ := s.Take(a.ID); again != nil {
		t.Fatal("double take must return nil")
	}
}

func TestResolveAll(t *testing.T) {
	s := testStore()
	a1 := s.CreateApproval(ApprovalRequest{AgentID: "main", ToolName: "bash"})
	a2 := s.CreateApproval(ApprovalRequest{AgentID: "worker-1", ToolName: "write"})
	s.Resolve(a1.ID, Resolution{Decision: DecisionApprove, Reason: "user approved"})

	n := s.ResolveAll(Resolution{Decision: DecisionDeny, Reason: "bulk denied"})
	if n != 1 {
		t.Fatalf("ResolveAll resolved %d, want 1 (a1 was already resolved)", n)
	}
	if got := a2.Resolution(); got.Reason != "bulk denied" {
		t.Fatalf("a2 resolution = %+v", got)
	}
	if got := a1.Resolution(); got.Reason != "user approved" {
		t.Fatalf("a1 must keep its earlier resolution, got %+v", got)
	}
}

func TestQueueOrderAndPeek(t *testing.T) {
	s := testStore()
	for _, m := range []string{"one", "two", "three", "four"} {
		s.Enqueue("main", m)
	}

	peeked := s.Peek("main", 3)
	if len(peeked) != 3 || peeked[0] != "two" || peeked[2] != "four" {
		t.Fatalf("peek must return the last 3 in order, got %v", peeked)
	}

	// Peek must not drain.
	if got := s.Drain("main"); len(got) != 4 || got[0] != "one" {
		t.Fatalf("drain after peek = %v", got)
	}
	if got := s.Drain("main"); got != nil {
		t.Fatalf("second drain must be empty, got %v", got)
	}
}

func TestQueueSoftCapDropsOldest(t *testing.T) {
	s := testStore()
	for i := range maxQueuedMessages + 5 {
		s.Enqueue("main", string(rune('a'+i%26)))
	}
	depth := s.Enqueue("main", "last")
	if depth != maxQueuedMessages {
		t.Fatalf("depth = %d, want cap %d", depth, maxQueuedMessages)
	}
	msgs := s.Drain("main")
	if msgs[len(msgs)-1] != "last" {
		t.Fatal("newest message must survive the cap")
	}
}

func TestPauseFlag(t *testing.T) {
	s := testStore()
	if s.Paused() {
		t.Fatal("store must start unpaused")
	}
	s.SetPaused(true)
	if !s.Paused() {
		t.Fatal("pause flag not set")
	}
	s.SetPaused(false)
	if s.Paused() {
		t.Fatal("pause flag not cleared")
	}
}

func TestMapPromptSkipsRemovedApproval(t *testing.T) {
	s := testStore()
	a := s.CreateApproval(ApprovalRequest{AgentID: "main", ToolName: "bash"})
	s.Resolve(a.ID, Resolution{Decision: DecisionApprove})
	s.Take(a.ID)

	// Send returned after the approval was already taken: the mapping
	// must not outlive the record.
	s.MapPrompt(99, a.ID)
	if _, ok := s.RequestForPrompt(99); ok {
		t.Fatal("mapping for a removed approval must be dropped")
	}
}

func TestSnapshot(t *testing.T) {
	s := testStore()
	s.RegisterAgent("main", "CC")
	s.RegisterAgent("worker-1", "Worker")
	s.Enqueue("main", "msg")
	s.CreateApproval(ApprovalRequest{AgentID: "main", ToolName: "bash"})
	s.SetPaused(true)

	snap := s.Snapshot()
	if !snap.Paused {
		t.Fatal("snapshot must report paused")
	}
	if snap.PendingApprovals != 1 {
		t.Fatalf("pending = %d, want 1", snap.PendingApprovals)
	}
	if len(snap.ActiveSessions) != 2 || snap.ActiveSessions[0] != "main" {
		t.Fatalf("sessions = %v", snap.ActiveSessions)
	}
	if snap.MessageQueues["main"] != 1 {
		t.Fatalf("queue depth = %d, want 1", snap.MessageQueues["main"])
	}
}

func TestConcurrentResolveRace(t *testing.T) {
	s := testStore()
	a := s.CreateApproval(ApprovalRequest{AgentID: "main", ToolName: "bash"})

	var wg sync.WaitGroup
	wins := make(chan Resolution, 3)
	for _, res := range []Resolution{
		{Decision: DecisionApprove, Reason: "user approved"},
		{Decision: DecisionDeny, Reason: "user denied"},
		{Decision: DecisionApprove, Reason: "bulk approved"},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Resolve(a.ID, res) {
				wins <- res
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []Resolution
	for r := range wins {
		winners = append(winners, r)
	}
	if len(winners) != 1 {
		t.Fatalf("exactly one resolver must win, got %d", len(winners))
	}
	if got := a.Resolution(); got != winners[0] {
		t.Fatalf("stored resolution %+v does not match winner %+v", got, winners[0])
	}
}
