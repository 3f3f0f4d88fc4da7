package chat

import (
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"
)

var (
	alice = Author{ID: "a1", Username: "alice", Avatar: "https://example.com/alice.png"}
	bob   = Author{ID: "b1", Username: "bob", Avatar: "https://example.com/bob.png"}
)

func TestAppendAndHistory(t *testing.T) {
	s := NewStore(0)

	s.Append(KindSystem, Author{ID: "c1", Username: "alice"}, Content{Text: JoinedNotice("alice")})
	s.Append(KindSystem, Author{ID: "c2", Username: "bob"}, Content{Text: JoinedNotice("bob")})
	m := s.Append(KindText, alice, Content{Text: "hi"})

	if m.ID != "3" {
		t.Fatalf("expected id 3, got %q", m.ID)
	}
	if m.Kind != KindText || m.User != alice || m.Content != "hi" {
		t.Errorf("unexpected message: %+v", m)
	}

	h := s.History()
	if len(h) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(h))
	}
	if h[0].Content != "alice joined the chat" || h[1].Content != "bob joined the chat" {
		t.Errorf("unexpected system messages: %q, %q", h[0].Content, h[1].Content)
	}
	for i, msg := range h {
		if msg.ID != strconv.Itoa(i+1) {
			t.Errorf("index %d: expected id %d, got %q", i, i+1, msg.ID)
		}
	}
}

func TestHistoryEmptyIsNotNil(t *testing.T) {
	h := NewStore(0).History()
	if h == nil || len(h) != 0 {
		t.Fatalf("expected empty non-nil history, got %#v", h)
	}
}

func TestAppendUsesClock(t *testing.T) {
	s := NewStore(0)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return at })

	m := s.Append(KindText, alice, Content{Text: "x"})
	if !m.Timestamp.Equal(at) {
		t.Errorf("expected timestamp %v, got %v", at, m.Timestamp)
	}
}

func TestFind(t *testing.T) {
	s := NewStore(0)
	s.Append(KindText, alice, Content{Text: "one"})

	if _, ok := s.Find("1"); !ok {
		t.Fatal("expected message 1 to be found")
	}
	if _, ok := s.Find("2"); ok {
		t.Fatal("expected message 2 to be missing")
	}
}

func TestToggleReactionLaw(t *testing.T) {
	s := NewStore(0)
	m := s.Append(KindText, alice, Content{Text: "hi"})

	got, ok := s.ToggleReaction(m.ID, "👍", "bob")
	if !ok || !got.HasReaction("👍", "bob") {
		t.Fatalf("first toggle should add reaction: %+v", got.Reactions)
	}

	got, _ = s.ToggleReaction(m.ID, "👍", "bob")
	if got.HasReaction("👍", "bob") {
		t.Fatalf("second toggle should remove reaction: %+v", got.Reactions)
	}
	users, present := got.Reactions["👍"]
	if !present || len(users) != 0 {
		t.Errorf("emptied set should remain as an empty list, got %#v (present=%v)", users, present)
	}

	got, _ = s.ToggleReaction(m.ID, "👍", "bob")
	if !got.HasReaction("👍", "bob") {
		t.Fatalf("third toggle should add reaction again: %+v", got.Reactions)
	}
}

func TestToggleReactionKeepsOtherUsers(t *testing.T) {
	s := NewStore(0)
	m := s.Append(KindText, alice, Content{Text: "hi"})

	s.ToggleReaction(m.ID, "🔥", "alice")
	s.ToggleReaction(m.ID, "🔥", "bob")
	s.ToggleReaction(m.ID, "🔥", "carol")
	got, _ := s.ToggleReaction(m.ID, "🔥", "bob")

	want := []string{"alice", "carol"}
	if len(got.Reactions["🔥"]) != len(want) {
		t.Fatalf("expected %v, got %v", want, got.Reactions["🔥"])
	}
	for i, u := range want {
		if got.Reactions["🔥"][i] != u {
			t.Errorf("index %d: expected %q, got %q", i, u, got.Reactions["🔥"][i])
		}
	}
}

func TestToggleReactionUnknownMessage(t *testing.T) {
	s := NewStore(0)
	s.Append(KindText, alice, Content{Text: "hi"})

	if _, ok := s.ToggleReaction("42", "👍", "bob"); ok {
		t.Fatal("expected toggle on unknown message to report false")
	}
	h := s.History()
	if len(h[0].Reactions) != 0 {
		t.Errorf("unexpected reaction mutation: %+v", h[0].Reactions)
	}
}

func TestImmutableFieldsAfterReaction(t *testing.T) {
	s := NewStore(0)
	m := s.Append(KindText, alice, Content{Text: "hi"})
	s.ToggleReaction(m.ID, "👍", "bob")

	got, _ := s.Find(m.ID)
	if got.ID != m.ID || got.Kind != m.Kind || got.User != m.User || got.Content != m.Content || !got.Timestamp.Equal(m.Timestamp) {
		t.Errorf("immutable fields changed: before %+v after %+v", m, got)
	}
}

func TestReturnedMessagesAreCopies(t *testing.T) {
	s := NewStore(0)
	m := s.Append(KindText, alice, Content{Text: "hi"})
	s.ToggleReaction(m.ID, "👍", "bob")

	h := s.History()
	h[0].Reactions["👍"][0] = "mallory"
	h[0].Reactions["💀"] = []string{"mallory"}

	got, _ := s.Find(m.ID)
	if got.Reactions["👍"][0] != "bob" || len(got.Reactions) != 1 {
		t.Errorf("store state leaked through History: %+v", got.Reactions)
	}
}

func TestBoundedStoreDropsOldest(t *testing.T) {
	s := NewStore(3)
	for i := 1; i <= 5; i++ {
		s.Append(KindText, bob, Content{Text: fmt.Sprintf("msg-%d", i)})
	}

	h := s.History()
	if len(h) != 3 {
		t.Fatalf("expected 3 retained messages, got %d", len(h))
	}
	for i, m := range h {
		want := fmt.Sprintf("msg-%d", i+3)
		if m.Content != want {
			t.Errorf("index %d: expected %q, got %q", i, want, m.Content)
		}
	}
	if _, ok := s.Find("1"); ok {
		t.Error("trimmed message 1 should no longer be found")
	}
	if _, ok := s.ToggleReaction("5", "👍", "alice"); !ok {
		t.Error("retained message 5 should accept reactions")
	}
}

func TestConcurrentAppendTotalOrder(t *testing.T) {
	s := NewStore(0)
	goroutines := 50
	perGoroutine := 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for m := 0; m < perGoroutine; m++ {
				msg := s.Append(KindText, alice, Content{Text: fmt.Sprintf("g%d-m%d", id, m)})
				// Interleave reads and toggles to stress the lock.
				s.ToggleReaction(msg.ID, "👍", fmt.Sprintf("user-%d", id))
				_ = s.History()
			}
		}(g)
	}
	wg.Wait()

	h := s.History()
	if len(h) != goroutines*perGoroutine {
		t.Fatalf("expected %d messages, got %d", goroutines*perGoroutine, len(h))
	}
	for i, m := range h {
		if m.ID != strconv.Itoa(i+1) {
			t.Fatalf("index %d: expected id %d, got %q", i, i+1, m.ID)
		}
		if len(m.Reactions["👍"]) != 1 {
			t.Fatalf("message %s: expected one reaction, got %v", m.ID, m.Reactions["👍"])
		}
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{"": KindText, "text": KindText, "image": KindImage, "file": KindFile}
	for in, want := range cases {
		got, ok := ParseKind(in)
		if !ok || got != want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseKind("system"); ok {
		t.Error("system must not be accepted from clients")
	}
}
