package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestSubscribeRejectsEmptyToken(t *testing.T) {
	h := NewHub(HubOptions{}, nil)
	if _, err := h.Subscribe(""); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
	if h.Subscribers() != 0 {
		t.Fatal("rejected subscriber was registered")
	}
}

func TestSubscribeVerifier(t *testing.T) {
	h := NewHub(HubOptions{Verify: func(tok string) error {
		if tok != "good" {
			return errors.New("bad signature")
		}
		return nil
	}}, nil)

	if _, err := h.Subscribe("bad"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	s, err := h.Subscribe("good")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
}

func TestPublishFanOut(t *testing.T) {
	h := NewHub(HubOptions{}, nil)
	a, _ := h.Subscribe("a")
	b, _ := h.Subscribe("b")
	defer a.Close()
	defer b.Close()

	ev := Event{Kind: KindNewPost, PostID: "p1"}
	if err := h.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if got := recv(t, a); got.PostID != "p1" || got.Kind != KindNewPost {
		t.Fatalf("a got %+v", got)
	}
	if got := recv(t, b); got.PostID != "p1" {
		t.Fatalf("b got %+v", got)
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	h := NewHub(HubOptions{Buffer: 2}, nil)
	slow, _ := h.Subscribe("slow")
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = h.Publish(context.Background(), Event{Kind: KindUpvoteUpdate, PostID: "p"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	if h.Dropped() != 8 {
		t.Fatalf("dropped = %d, want 8", h.Dropped())
	}
	recv(t, slow)
	recv(t, slow)
}

func TestLateSubscriberGetsNoReplay(t *testing.T) {
	h := NewHub(HubOptions{}, nil)
	_ = h.Publish(context.Background(), Event{Kind: KindNewPost, PostID: "early"})

	s, _ := h.Subscribe("t")
	defer s.Close()
	select {
	case ev := <-s.Events():
		t.Fatalf("late subscriber received %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCloseDisconnectsSubscribers(t *testing.T) {
	h := NewHub(HubOptions{}, nil)
	s, _ := h.Subscribe("t")
	h.Close()

	if _, ok := <-s.Events(); ok {
		t.Fatal("channel still open after hub close")
	}
	s.Close()
	if err := h.Publish(context.Background(), Event{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := h.Subscribe("t"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	h := NewHub(HubOptions{}, nil)
	s, _ := h.Subscribe("t")
	s.Close()
	s.Close()
	if h.Subscribers() != 0 {
		t.Fatal("subscriber not removed")
	}
}
