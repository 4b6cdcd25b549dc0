// Package session holds per-call conversation state.
//
// Each live call is identified by a caller-supplied session ID and owns an
// ordered message history that grows by one exchange per turn. Sessions are
// created lazily on first use and evicted under two policies: a hard LRU
// capacity bound and an idle TTL. A session with an in-flight turn is never
// evicted under either policy.
package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/voxline/voxline/pkg/types"
)

const (
	// DefaultMaxSessions bounds the store when no capacity is configured.
	DefaultMaxSessions = 1000

	// DefaultIdleTTL is how long an untouched session survives before it is
	// eligible for eviction.
	DefaultIdleTTL = 30 * time.Minute
)

// Session is the conversation state of one call. Acquire/Release on the
// owning [Store] serialize turns, so at most one turn mutates a Session at a
// time; History and AppendExchange additionally take an internal lock so
// read-only observers stay safe.
type Session struct {
	id string

	// turnMu is held for the duration of a turn (Acquire to Release).
	turnMu sync.Mutex

	dataMu   sync.Mutex
	messages []types.Message

	// Managed by the Store under its own lock.
	inflight int
	lastUsed time.Time
	elem     *list.Element
}

// ID returns the caller-supplied session identifier.
func (s *Session) ID() string { return s.id }

// History returns a copy of the message history in turn order.
func (s *Session) History() []types.Message {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// AppendExchange records one completed turn: the human input and the
// assistant reply, in that order. Callers append only after the turn
// succeeded, so a failed completion leaves history untouched.
func (s *Session) AppendExchange(input, reply string) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.messages = append(s.messages,
		types.Message{Role: types.RoleUser, Content: input},
		types.Message{Role: types.RoleAssistant, Content: reply},
	)
}

// Len returns the number of stored messages.
func (s *Session) Len() int {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return len(s.messages)
}

// Option is a functional option for configuring a Store.
type Option func(*Store)

// WithMaxSessions sets the LRU capacity bound. Values < 1 keep the default.
func WithMaxSessions(n int) Option {
	return func(st *Store) {
		if n > 0 {
			st.maxSessions = n
		}
	}
}

// WithIdleTTL sets how long an untouched session survives. Values <= 0 keep
// the default.
func WithIdleTTL(d time.Duration) Option {
	return func(st *Store) {
		if d > 0 {
			st.idleTTL = d
		}
	}
}

// WithClock overrides the time source. Tests use this to drive TTL eviction.
func WithClock(now func() time.Time) Option {
	return func(st *Store) {
		st.now = now
	}
}

// Store owns all live sessions. Safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	lru         *list.List // front = most recently used; values are *Session
	maxSessions int
	idleTTL     time.Duration
	now         func() time.Time
}

// NewStore creates an empty Store with the given options applied.
func NewStore(opts ...Option) *Store {
	st := &Store{
		sessions:    make(map[string]*Session),
		lru:         list.New(),
		maxSessions: DefaultMaxSessions,
		idleTTL:     DefaultIdleTTL,
		now:         time.Now,
	}
	for _, o := range opts {
		o(st)
	}
	return st
}

// Acquire returns the session for id, creating it if absent, and locks it for
// one turn. The session is pinned against eviction until Release. Acquire
// blocks while another turn holds the same session.
func (st *Store) Acquire(id string) *Session {
	st.mu.Lock()
	st.evictIdle()
	s, ok := st.sessions[id]
	if !ok {
		s = &Session{id: id, lastUsed: st.now()}
		s.elem = st.lru.PushFront(s)
		st.sessions[id] = s
		st.evictOverflow()
	} else {
		st.lru.MoveToFront(s.elem)
		s.lastUsed = st.now()
	}
	s.inflight++
	st.mu.Unlock()

	s.turnMu.Lock()
	return s
}

// Release ends the turn started by Acquire and refreshes the session's idle
// clock.
func (st *Store) Release(s *Session) {
	s.turnMu.Unlock()
	st.mu.Lock()
	s.inflight--
	s.lastUsed = st.now()
	st.mu.Unlock()
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Remove drops the session for id if it exists and has no in-flight turn.
// It reports whether a session was removed.
func (st *Store) Remove(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok || s.inflight > 0 {
		return false
	}
	st.drop(s)
	return true
}

// evictOverflow removes least-recently-used sessions until the store is at
// capacity, skipping any with an in-flight turn. Caller holds st.mu.
func (st *Store) evictOverflow() {
	for elem := st.lru.Back(); elem != nil && len(st.sessions) > st.maxSessions; {
		prev := elem.Prev()
		s := elem.Value.(*Session)
		if s.inflight == 0 {
			st.drop(s)
		}
		elem = prev
	}
}

// evictIdle removes sessions untouched for longer than the idle TTL. Caller
// holds st.mu.
func (st *Store) evictIdle() {
	cutoff := st.now().Add(-st.idleTTL)
	for elem := st.lru.Back(); elem != nil; {
		prev := elem.Prev()
		s := elem.Value.(*Session)
		if s.lastUsed.After(cutoff) {
			// LRU order means everything in front is fresher.
			break
		}
		if s.inflight == 0 {
			st.drop(s)
		}
		elem = prev
	}
}

// drop removes s from both indexes. Caller holds st.mu.
func (st *Store) drop(s *Session) {
	st.lru.Remove(s.elem)
	delete(st.sessions, s.id)
}
