// Package state holds the bridge's shared mutable state: pending
// approvals, active agent sessions, per-agent message queues, the
// prompt-message index, and the global pause flag. All of it lives
// behind a single mutex; every exported operation is linearizable.
package state

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

// maxQueuedMessages is the soft cap on a per-agent message queue.
// When exceeded, the oldest message is dropped.
const maxQueuedMessages = 100

// Decision is the outcome returned to a blocked /approve caller.
type Decision string

const (
	DecisionApprove     Decision = "approve"
	DecisionDeny        Decision = "deny"
	DecisionPassthrough Decision = "passthrough"
)

// Resolution is the result slot of an approval record. Exactly one
// resolution source (button, reply, bulk command) ever fills it.
type Resolution struct {
	Decision    Decision
	Reason      string
	UserMessage string
}

// Approval is a pending approval record. The done channel is the
// one-shot latch: closed exactly once, when the record is resolved.
// The resolution must only be read after the latch fires.
type Approval struct {
	ID          string
	AgentID     string
	AgentName   string
	ToolName    string
	ToolInput   string
	Description string
	CreatedAt   time.Time
	Timeout     time.Duration

	resolved bool
	res      Resolution
	done     chan struct{}
}

// Done returns the latch channel, closed when the approval is resolved.
func (a *Approval) Done() <-chan struct{} { return a.done }

// Resolution returns the result slot. Valid only after Done() fired.
func (a *Approval) Resolution() Resolution { return a.res }

// Session is an active agent session.
type Session struct {
	AgentID      string
	Name         string
	RegisteredAt time.Time
	AutoApprove  bool
}

// Store is the bridge's single synchronization domain.
type Store struct {
	mu        sync.Mutex
	approvals map[string]*Approval
	sessions  map[string]*Session
	queues    map[string][]string
	prompts   map[int]string // chat message id → request id
	paused    bool

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		approvals: make(map[string]*Approval),
		sessions:  make(map[string]*Session),
		queues:    make(map[string][]string),
		prompts:   make(map[int]string),
		now:       time.Now,
	}
}

// RegisterAgent creates or replaces the session for agentID.
// Re-registration resets auto_approve: a new registration marks a fresh
// hook lifecycle, and sticky auto-approval across it would silently
// widen what the operator agreed to.
func (s *Store) RegisterAgent(agentID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[agentID] = &Session{
		AgentID:      agentID,
		Name:         name,
		RegisteredAt: s.now(),
	}
	if _, ok := s.queues[agentID]; !ok {
		s.queues[agentID] = nil
	}
}

// EnsureAgent creates a session for agentID when none exists, leaving
// an existing session (and its auto_approve flag) untouched. Used for
// implicit registration on first notification.
func (s *Store) EnsureAgent(agentID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[agentID]; ok {
		return
	}
	s.sessions[agentID] = &Session{
		AgentID:      agentID,
		Name:         name,
		RegisteredAt: s.now(),
	}
}

// UnregisterAgent removes the session and any queued messages.
func (s *Store) UnregisterAgent(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, agentID)
	delete(s.queues, agentID)
}

// AutoApprove reports whether the agent's session has auto-approve set.
func (s *Store) AutoApprove(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[agentID]
	return ok && sess.AutoApprove
}

// EnableAutoApprove sets the sticky auto-approve flag on the agent's
// session, creating the session if the agent never registered.
func (s *Store) EnableAutoApprove(agentID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[agentID]
	if !ok {
		sess = &Session{AgentID: agentID, RegisteredAt: s.now()}
		s.sessions[agentID] = sess
	}
	if name != "" {
		sess.Name = name
	}
	sess.AutoApprove = true
}

// Sessions returns a snapshot of active sessions, ordered by agent id.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ApprovalRequest carries the fields needed to create an approval record.
type ApprovalRequest struct {
	AgentID     string
	AgentName   string
	ToolName    string
	ToolInput   string
	Description string
	Timeout     time.Duration
}

// CreateApproval creates a pending approval with a fresh request id and
// an unsignaled latch.
func (s *Store) CreateApproval(req ApprovalRequest) *Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &Approval{
		ID:          generateRequestID(),
		AgentID:     req.AgentID,
		AgentName:   req.AgentName,
		ToolName:    req.ToolName,
		ToolInput:   req.ToolInput,
		Description: req.Description,
		CreatedAt:   s.now(),
		Timeout:     req.Timeout,
		done:        make(chan struct{}),
	}
	s.approvals[a.ID] = a
	return a
}

// Resolve fills the result slot of a pending approval and signals its
// latch. It reports false when the id is unknown or the record was
// already resolved; losers of the resolution race are no-ops.
func (s *Store) Resolve(requestID string, res Resolution) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[requestID]
	if !ok || a.resolved {
		return false
	}
	a.resolved = true
	a.res = res
	close(a.done)
	return true
}

// ResolveAll resolves every unresolved approval with the same result
// and returns how many were resolved.
func (s *Store) ResolveAll(res Resolution) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.approvals {
		if a.resolved {
			continue
		}
		a.resolved = true
		a.res = res
		close(a.done)
		n++
	}
	return n
}

// Expire removes an approval whose deadline fired. It reports false
// when the record was already resolved (the resolution won the race and
// the caller must honor it) or no longer exists.
func (s *Store) Expire(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[requestID]
	if !ok || a.resolved {
		return false
	}
	delete(s.approvals, requestID)
	s.unmapPromptLocked(requestID)
	return true
}

// Take removes a resolved approval, unmaps its prompt message, and
// atomically drains the agent's message queue. The drained messages are
// the side channel delivered alongside the approval result.
func (s *Store) Take(requestID string) (*Approval, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[requestID]
	if !ok {
		return nil, nil
	}
	delete(s.approvals, requestID)
	s.unmapPromptLocked(requestID)
	msgs := s.queues[a.AgentID]
	s.queues[a.AgentID] = nil
	return a, msgs
}

// PendingApprovals returns a snapshot of unresolved approvals ordered
// by creation time.
func (s *Store) PendingApprovals() []Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Approval, 0, len(s.approvals))
	for _, a := range s.approvals {
		out = append(out, Approval{
			ID:          a.ID,
			AgentID:     a.AgentID,
			AgentName:   a.AgentName,
			ToolName:    a.ToolName,
			ToolInput:   a.ToolInput,
			Description: a.Description,
			CreatedAt:   a.CreatedAt,
			Timeout:     a.Timeout,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ApprovalAgent returns the agent id and name behind a pending request.
func (s *Store) ApprovalAgent(requestID string) (agentID, agentName string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, found := s.approvals[requestID]
	if !found {
		return "", "", false
	}
	return a.AgentID, a.AgentName, true
}

// MapPrompt records which chat message carries the approval prompt so
// operator replies can be routed back to the request.
func (s *Store) MapPrompt(messageID int, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[requestID]; !ok {
		// The approval raced to completion before the send returned.
		return
	}
	s.prompts[messageID] = requestID
}

// RequestForPrompt resolves a chat message id to its request id.
func (s *Store) RequestForPrompt(messageID int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.prompts[messageID]
	return id, ok
}

func (s *Store) unmapPromptLocked(requestID string) {
	for msgID, reqID := range s.prompts {
		if reqID == requestID {
			delete(s.prompts, msgID)
		}
	}
}

// Enqueue appends an operator message to the agent's queue and returns
// the new depth. Queues are capped: past maxQueuedMessages the oldest
// entry is dropped.
func (s *Store) Enqueue(agentID, text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := append(s.queues[agentID], text)
	if len(q) > maxQueuedMessages {
		q = q[len(q)-maxQueuedMessages:]
	}
	s.queues[agentID] = q
	return len(q)
}

// Drain removes and returns all queued messages for the agent.
func (s *Store) Drain(agentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.queues[agentID]
	if len(msgs) == 0 {
		return nil
	}
	s.queues[agentID] = nil
	return msgs
}

// Peek returns up to the last n queued messages without draining.
func (s *Store) Peek(agentID string, n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[agentID]
	if len(q) == 0 || n <= 0 {
		return nil
	}
	if len(q) > n {
		q = q[len(q)-n:]
	}
	out := make([]string, len(q))
	copy(out, q)
	return out
}

// SetPaused toggles the global pause flag.
func (s *Store) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

// Paused reports the global pause flag.
func (s *Store) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Snapshot is a consistent view of the store for /status and the
// operator's /status command.
type Snapshot struct {
	Paused           bool
	PendingApprovals int
	ActiveSessions   []string
	MessageQueues    map[string]int
}

// Snapshot captures the whole store state under a single lock hold.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Paused:           s.paused,
		PendingApprovals: len(s.approvals),
		ActiveSessions:   make([]string, 0, len(s.sessions)),
		MessageQueues:    make(map[string]int, len(s.queues)),
	}
	for id := range s.sessions {
		snap.ActiveSessions = append(snap.ActiveSessions, id)
	}
	sort.Strings(snap.ActiveSessions)
	for id, q := range s.queues {
		snap.MessageQueues[id] = len(q)
	}
	return snap
}

// generateRequestID returns 8 hex characters from a CSPRNG.
func generateRequestID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms.
		panic("state: generate request id: " + err.Error())
	}
	return hex.EncodeToString(b)
}
