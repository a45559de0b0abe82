package search

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/sift-sh/sift/internal/backend"
	"github.com/sift-sh/sift/internal/domain"
	"github.com/sift-sh/sift/internal/finalize"
	"github.com/sift-sh/sift/internal/history"
	"github.com/sift-sh/sift/internal/store"
)

// fakeStreamer yields its configured fragments then ends, or yields err after
// the fragments. With block set it parks until the context is cancelled so
// tests can drive the engine callbacks by hand while the session stays
// streaming.
type fakeStreamer struct {
	fragments []string
	err       error
	block     bool
}

func (f *fakeStreamer) Stream(ctx context.Context, _ backend.Request) iter.Seq2[*backend.Fragment, error] {
	return func(yield func(*backend.Fragment, error) bool) {
		if f.block {
			<-ctx.Done()
			yield(nil, ctx.Err())
			return
		}
		for _, text := range f.fragments {
			if ctx.Err() != nil {
				return
			}
			if !yield(&backend.Fragment{Text: text}, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func newTestEngine(streamer backend.Streamer) *Engine {
	hist := history.New(store.NewMemory(), history.DefaultLimit)
	return New(streamer, finalize.NewPlaceholder(), hist)
}

// waitForState polls until the user's current session reaches the wanted
// state, failing the test after two seconds.
func waitForState(t *testing.T, e *Engine, userID string, want domain.StreamingState) domain.QuerySession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if session, ok := e.Current(userID); ok && session.StreamingState == want {
			return session
		}
		time.Sleep(5 * time.Millisecond)
	}
	session, ok := e.Current(userID)
	t.Fatalf("Session never reached %q (have ok=%v state=%q)", want, ok, session.StreamingState)
	return domain.QuerySession{}
}

func TestSubmit_Validation(t *testing.T) {
	e := newTestEngine(&fakeStreamer{block: true})

	if _, err := e.Submit(context.Background(), "userA", ""); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Expected ErrEmptyQuery for blank query, got %v", err)
	}
	if _, err := e.Submit(context.Background(), "", "What is Go?"); !errors.Is(err, ErrNoUser) {
		t.Errorf("Expected ErrNoUser for missing identity, got %v", err)
	}
}

func TestSubmit_StartsStreaming(t *testing.T) {
	e := newTestEngine(&fakeStreamer{block: true})

	session, err := e.Submit(context.Background(), "userA", "What is Go?")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if session.ID == "" {
		t.Error("Expected a session id")
	}
	if session.StreamingState != domain.StateStreaming {
		t.Errorf("Expected streaming state, got %q", session.StreamingState)
	}
	if session.Response != "" {
		t.Errorf("Expected empty initial response, got %q", session.Response)
	}
	if session.Sources != nil || session.FollowUpQuestions != nil {
		t.Error("Expected no artifacts before finalization")
	}
}

func TestSubmit_RecordsHistory(t *testing.T) {
	hist := history.New(store.NewMemory(), history.DefaultLimit)
	e := New(&fakeStreamer{block: true}, finalize.NewPlaceholder(), hist)

	if _, err := e.Submit(context.Background(), "userA", "What is Go?"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// The history write is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entries := hist.Load(context.Background(), "userA"); len(entries) == 1 {
			if entries[0].Query != "What is Go?" {
				t.Errorf("Expected recorded query, got %q", entries[0].Query)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Query was never recorded in history")
}

func TestOnFragment_Accumulates(t *testing.T) {
	e := newTestEngine(&fakeStreamer{block: true})

	session, err := e.Submit(context.Background(), "userA", "capital of France")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// The response must equal the concatenation so far after every fragment,
	// not only at the end.
	var want string
	for _, frag := range []string{"Paris", " is the capital", " of France."} {
		e.OnFragment(session.ID, frag)
		want += frag

		cur, ok := e.Current("userA")
		if !ok {
			t.Fatal("Expected a current session")
		}
		if cur.Response != want {
			t.Errorf("After %q: expected %q, got %q", frag, want, cur.Response)
		}
		if cur.StreamingState != domain.StateStreaming {
			t.Errorf("Expected still streaming, got %q", cur.StreamingState)
		}
	}
}

func TestOnStreamComplete_Finalizes(t *testing.T) {
	e := newTestEngine(&fakeStreamer{block: true})

	session, err := e.Submit(context.Background(), "userA", "capital of France")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	e.OnFragment(session.ID, "Paris.")
	e.OnStreamComplete(context.Background(), session.ID)

	cur, _ := e.Current("userA")
	if cur.StreamingState != domain.StateFinalized {
		t.Fatalf("Expected finalized, got %q", cur.StreamingState)
	}
	if cur.Response != "Paris." {
		t.Errorf("Finalization must not alter the response, got %q", cur.Response)
	}
	if len(cur.Sources) != 2 {
		t.Errorf("Expected 2 sources, got %d", len(cur.Sources))
	}
	if len(cur.FollowUpQuestions) != 3 {
		t.Errorf("Expected 3 follow-up questions, got %d", len(cur.FollowUpQuestions))
	}
}

func TestOnStreamError_ReplacesPartialContent(t *testing.T) {
	e := newTestEngine(&fakeStreamer{block: true})

	session, err := e.Submit(context.Background(), "userA", "capital of France")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	e.OnFragment(session.ID, "Par")
	e.OnFragment(session.ID, "is is")
	e.OnStreamError(session.ID, errors.New("connection reset"))

	cur, _ := e.Current("userA")
	if cur.StreamingState != domain.StateErrored {
		t.Fatalf("Expected errored, got %q", cur.StreamingState)
	}
	if cur.Response != ErrorMessage {
		t.Errorf("Error message must replace partial content, got %q", cur.Response)
	}
	if cur.Sources != nil || cur.FollowUpQuestions != nil {
		t.Error("Errored session must carry no artifacts")
	}
}

func TestTerminalStateIsImmutable(t *testing.T) {
	e := newTestEngine(&fakeStreamer{block: true})

	session, err := e.Submit(context.Background(), "userA", "capital of France")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	e.OnFragment(session.ID, "Paris.")
	e.OnStreamComplete(context.Background(), session.ID)

	// Late arrivals after the terminal transition are dropped.
	e.OnFragment(session.ID, " More text.")
	e.OnStreamError(session.ID, errors.New("late failure"))

	cur, _ := e.Current("userA")
	if cur.Response != "Paris." {
		t.Errorf("Terminal response changed: %q", cur.Response)
	}
	if cur.StreamingState != domain.StateFinalized {
		t.Errorf("Terminal state changed: %q", cur.StreamingState)
	}
}

func TestResubmission_SupersedesPreviousSession(t *testing.T) {
	e := newTestEngine(&fakeStreamer{block: true})

	first, err := e.Submit(context.Background(), "userA", "first question")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	e.OnFragment(first.ID, "partial answer")

	second, err := e.Submit(context.Background(), "userA", "second question")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("Expected a fresh session id on re-submission")
	}

	// Callbacks for the superseded session are silently dropped.
	e.OnFragment(first.ID, " ghost fragment")
	e.OnStreamComplete(context.Background(), first.ID)
	e.OnStreamError(first.ID, errors.New("ghost error"))

	cur, ok := e.Current("userA")
	if !ok {
		t.Fatal("Expected a current session")
	}
	if cur.ID != second.ID {
		t.Errorf("Expected second session current, got %s", cur.ID)
	}
	if cur.Query != "second question" {
		t.Errorf("Expected second query, got %q", cur.Query)
	}
	if cur.Response != "" {
		t.Errorf("Stale fragments leaked into new session: %q", cur.Response)
	}
	if cur.StreamingState != domain.StateStreaming {
		t.Errorf("Stale terminal transition leaked: %q", cur.StreamingState)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	e := newTestEngine(&fakeStreamer{block: true})

	a, err := e.Submit(context.Background(), "userA", "question A")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	b, err := e.Submit(context.Background(), "userB", "question B")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	e.OnFragment(a.ID, "answer A")
	e.OnFragment(b.ID, "answer B")

	curA, _ := e.Current("userA")
	curB, _ := e.Current("userB")
	if curA.Response != "answer A" {
		t.Errorf("userA response: %q", curA.Response)
	}
	if curB.Response != "answer B" {
		t.Errorf("userB response: %q", curB.Response)
	}
}

func TestEndToEnd_SuccessfulStream(t *testing.T) {
	e := newTestEngine(&fakeStreamer{
		fragments: []string{"Paris", " is the capital", " of France."},
	})

	if _, err := e.Submit(context.Background(), "userA", "capital of France"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	session := waitForState(t, e, "userA", domain.StateFinalized)
	if session.Response != "Paris is the capital of France." {
		t.Errorf("Expected full response, got %q", session.Response)
	}
	if len(session.Sources) != 2 || len(session.FollowUpQuestions) != 3 {
		t.Errorf("Expected placeholder artifacts, got %d sources / %d follow-ups",
			len(session.Sources), len(session.FollowUpQuestions))
	}
}

func TestEndToEnd_BackendFault(t *testing.T) {
	e := newTestEngine(&fakeStreamer{
		fragments: []string{"Par"},
		err:       errors.New("backend unavailable"),
	})

	if _, err := e.Submit(context.Background(), "userA", "capital of France"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	session := waitForState(t, e, "userA", domain.StateErrored)
	if session.Response != ErrorMessage {
		t.Errorf("Expected fixed error message, got %q", session.Response)
	}
}

func TestCurrent_NoSession(t *testing.T) {
	e := newTestEngine(&fakeStreamer{block: true})
	if _, ok := e.Current("userA"); ok {
		t.Error("Expected no current session for fresh user")
	}
}

func TestDrop(t *testing.T) {
	e := newTestEngine(&fakeStreamer{block: true})

	session, err := e.Submit(context.Background(), "userA", "to be dropped")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	e.Drop("userA")

	if _, ok := e.Current("userA"); ok {
		t.Error("Expected no current session after Drop")
	}
	// Events for the dropped session become stale.
	e.OnFragment(session.ID, "late text")
	if _, ok := e.Current("userA"); ok {
		t.Error("Stale fragment resurrected a dropped session")
	}
}

func TestSubscribe_ReceivesSnapshots(t *testing.T) {
	e := newTestEngine(&fakeStreamer{block: true})

	ch, unsubscribe := e.Subscribe()
	defer unsubscribe()

	session, err := e.Submit(context.Background(), "userA", "observed question")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case snap := <-ch:
		if snap.ID != session.ID {
			t.Errorf("Expected submit snapshot for %s, got %s", session.ID, snap.ID)
		}
		if snap.StreamingState != domain.StateStreaming {
			t.Errorf("Expected streaming snapshot, got %q", snap.StreamingState)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No snapshot received after Submit")
	}

	e.OnFragment(session.ID, "Paris")
	select {
	case snap := <-ch:
		if snap.Response != "Paris" {
			t.Errorf("Expected fragment snapshot, got %q", snap.Response)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No snapshot received after fragment")
	}
}

func TestSubscribe_UnsubscribeClosesChannel(t *testing.T) {
	e := newTestEngine(&fakeStreamer{block: true})

	ch, unsubscribe := e.Subscribe()
	unsubscribe()

	if _, open := <-ch; open {
		t.Error("Expected channel closed after unsubscribe")
	}
	// Second call must be a no-op.
	unsubscribe()
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("capital of France")
	if !strings.Contains(prompt, `"capital of France"`) {
		t.Errorf("Prompt must embed the quoted query, got %q", prompt)
	}
	if !strings.Contains(prompt, "expert research assistant") {
		t.Error("Prompt missing research-assistant framing")
	}
	if !strings.Contains(prompt, "conversational but informative tone") {
		t.Error("Prompt missing tone instruction")
	}
}
