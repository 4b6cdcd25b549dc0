package session

import (
	"sync"
	"testing"
	"time"

	"github.com/voxline/voxline/pkg/types"
)

func TestAcquire_LazyCreate(t *testing.T) {
	st := NewStore()

	s := st.Acquire("call-1")
	if s.ID() != "call-1" {
		t.Errorf("want id call-1, got %q", s.ID())
	}
	if len(s.History()) != 0 {
		t.Errorf("new session must start empty")
	}
	st.Release(s)

	again := st.Acquire("call-1")
	if again != s {
		t.Error("second acquire must return the same session")
	}
	st.Release(again)

	if st.Len() != 1 {
		t.Errorf("want 1 session, got %d", st.Len())
	}
}

func TestAppendExchange_GrowsByTwo(t *testing.T) {
	st := NewStore()
	s := st.Acquire("call-1")
	defer st.Release(s)

	s.AppendExchange("hello", "hi, this is Karen")
	s.AppendExchange("we need stock", "noted")

	h := s.History()
	if len(h) != 4 {
		t.Fatalf("want 4 messages after 2 turns, got %d", len(h))
	}
	want := []types.Message{
		{Role: types.RoleUser, Content: "hello"},
		{Role: types.RoleAssistant, Content: "hi, this is Karen"},
		{Role: types.RoleUser, Content: "we need stock"},
		{Role: types.RoleAssistant, Content: "noted"},
	}
	for i, m := range want {
		if h[i] != m {
			t.Errorf("message %d: want %+v, got %+v", i, m, h[i])
		}
	}
}

func TestSessions_Isolated(t *testing.T) {
	st := NewStore()
	a := st.Acquire("a")
	a.AppendExchange("order bolts", "done")
	st.Release(a)

	b := st.Acquire("b")
	defer st.Release(b)
	if len(b.History()) != 0 {
		t.Error("histories must not leak across sessions")
	}
}

func TestHistory_ReturnsCopy(t *testing.T) {
	st := NewStore()
	s := st.Acquire("a")
	defer st.Release(s)
	s.AppendExchange("in", "out")

	h := s.History()
	h[0].Content = "mutated"
	if s.History()[0].Content != "in" {
		t.Error("History must return a copy")
	}
}

func TestEviction_LRUCapacity(t *testing.T) {
	st := NewStore(WithMaxSessions(2))

	for _, id := range []string{"a", "b", "c"} {
		s := st.Acquire(id)
		st.Release(s)
	}

	if st.Len() != 2 {
		t.Fatalf("want 2 sessions after overflow, got %d", st.Len())
	}
	// "a" was least recently used; its history must be gone.
	s := st.Acquire("a")
	defer st.Release(s)
	if len(s.History()) != 0 {
		t.Error("evicted session must come back empty")
	}
}

func TestEviction_NeverDropsInFlight(t *testing.T) {
	st := NewStore(WithMaxSessions(1))

	inflight := st.Acquire("busy")
	inflight.AppendExchange("hold", "the line")

	// Overflow the store while "busy" is mid-turn.
	other := st.Acquire("other")
	st.Release(other)
	st.Release(inflight)

	s := st.Acquire("busy")
	defer st.Release(s)
	if len(s.History()) != 2 {
		t.Error("in-flight session must survive capacity eviction")
	}
}

func TestEviction_IdleTTL(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	st := NewStore(WithIdleTTL(time.Minute), WithClock(clock))

	s := st.Acquire("stale")
	st.Release(s)

	now = now.Add(2 * time.Minute)
	fresh := st.Acquire("fresh")
	st.Release(fresh)

	if st.Len() != 1 {
		t.Errorf("want stale session evicted, got %d sessions", st.Len())
	}
	if !st.Remove("fresh") {
		t.Error("fresh session must still exist")
	}
}

func TestAcquire_SerializesTurns(t *testing.T) {
	st := NewStore()
	var order []int
	var mu sync.Mutex

	s := st.Acquire("call")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s2 := st.Acquire("call")
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		st.Release(s2)
	}()

	// The goroutine blocks in Acquire until we release.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	st.Release(s)
	wg.Wait()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("turns must serialize in release order, got %v", order)
	}
}

func TestRemove(t *testing.T) {
	st := NewStore()
	s := st.Acquire("a")

	if st.Remove("a") {
		t.Error("must not remove a session with an in-flight turn")
	}
	st.Release(s)
	if !st.Remove("a") {
		t.Error("want removal after release")
	}
	if st.Remove("a") {
		t.Error("second removal must report false")
	}
}
