package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/learnato/forum/models"
	"github.com/learnato/forum/store"
)

func seed(t *testing.T, s *Store, title, body string, tags ...string) string {
	t.Helper()
	id, err := s.Insert(context.Background(), &models.Post{Title: title, Body: body, AuthorID: "u1", Tags: tags})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

func TestFindMany_SearchMatchesTitleBodyAndTags(t *testing.T) {
	s := New()
	seed(t, s, "How do goroutines leak", "stack traces", "go")
	seed(t, s, "Unrelated question here", "about GOROUTINES in prod")
	seed(t, s, "Something else entirely", "nothing", "golang")

	cases := []struct {
		search string
		want   int
	}{
		{"", 3},
		{"goroutines", 2},
		{"GO", 2},
		{"golang", 1},
		{"missing", 0},
	}
	for _, c := range cases {
		got, err := s.FindMany(context.Background(), store.Filter{Search: c.search}, store.DefaultSort, 0, 10)
		if err != nil {
			t.Fatalf("find %q: %v", c.search, err)
		}
		if len(got) != c.want {
			t.Fatalf("search %q: expected %d posts, got %d", c.search, c.want, len(got))
		}
	}
}

func TestFindMany_SortAndPaging(t *testing.T) {
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	for i := 0; i < 5; i++ {
		seed(t, s, fmt.Sprintf("Question number %d", i), "body")
	}

	page, err := s.FindMany(context.Background(), store.Filter{}, store.DefaultSort, 0, 2)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(page) != 2 || page[0].Title != "Question number 4" {
		t.Fatalf("expected newest first, got %+v", page)
	}

	last, _ := s.FindMany(context.Background(), store.Filter{}, store.Sort{Field: "createdAt"}, 4, 2)
	if len(last) != 1 || last[0].Title != "Question number 4" {
		t.Fatalf("expected single trailing post, got %+v", last)
	}

	empty, _ := s.FindMany(context.Background(), store.Filter{}, store.DefaultSort, 10, 2)
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d", len(empty))
	}
}

func TestAtomicUpdate_ToggleUpvoteRoundTrip(t *testing.T) {
	s := New()
	id := seed(t, s, "Toggle me twice please", "body")

	p, err := s.AtomicUpdate(context.Background(), id, store.ToggleUpvote{UserID: "u9"})
	if err != nil || !p.HasUpvote("u9") {
		t.Fatalf("expected upvote added, err=%v", err)
	}
	p, err = s.AtomicUpdate(context.Background(), id, store.ToggleUpvote{UserID: "u9"})
	if err != nil || p.HasUpvote("u9") || p.UpvoteCount() != 0 {
		t.Fatalf("expected upvote removed, got %+v err=%v", p.Upvotes, err)
	}
}

func TestAtomicUpdate_ConcurrentDistinctUpvoters(t *testing.T) {
	s := New()
	id := seed(t, s, "Popular question indeed", "body")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.AtomicUpdate(context.Background(), id, store.ToggleUpvote{UserID: fmt.Sprintf("user-%d", i)})
		}(i)
	}
	wg.Wait()

	p, _ := s.FindByID(context.Background(), id)
	seen := map[string]bool{}
	for _, u := range p.Upvotes {
		if seen[u] {
			t.Fatalf("duplicate upvoter %s", u)
		}
		seen[u] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d upvoters, got %d", n, len(seen))
	}
}

func TestAtomicUpdate_MarkAnsweredRequiresReply(t *testing.T) {
	s := New()
	id := seed(t, s, "Who can answer this one", "body")

	if _, err := s.AtomicUpdate(context.Background(), id, store.MarkAnswered{ReplyID: "nope"}); !errors.Is(err, store.ErrReplyNotFound) {
		t.Fatalf("expected ErrReplyNotFound, got %v", err)
	}

	p, err := s.AtomicUpdate(context.Background(), id, store.AppendReply{Reply: models.Reply{Content: "me", AuthorID: "u2"}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	rid := p.Replies[0].ID
	p, err = s.AtomicUpdate(context.Background(), id, store.MarkAnswered{ReplyID: rid})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !p.IsAnswered || p.AcceptedReplyID == nil || *p.AcceptedReplyID != rid {
		t.Fatalf("expected post answered by %s, got %+v", rid, p)
	}
}

func TestAtomicUpdate_MissingPost(t *testing.T) {
	s := New()
	if _, err := s.AtomicUpdate(context.Background(), "missing", store.ToggleUpvote{UserID: "u"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.IncrementField(context.Background(), "missing", store.FieldViews); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByID_ReturnsCopy(t *testing.T) {
	s := New()
	id := seed(t, s, "Do not alias my state", "body", "a")
	p, _ := s.FindByID(context.Background(), id)
	p.Tags[0] = "mutated"
	again, _ := s.FindByID(context.Background(), id)
	if again.Tags[0] != "a" {
		t.Fatalf("store state was mutated through returned copy")
	}
}

func TestCreateUser_RejectsDuplicates(t *testing.T) {
	s := New()
	u := &models.User{Username: "alice", Email: "a@example.com"}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" || u.Role != models.RoleStudent {
		t.Fatalf("expected id and default role, got %+v", u)
	}
	err := s.CreateUser(context.Background(), &models.User{Username: "ALICE", Email: "b@example.com"})
	if !errors.Is(err, store.ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
}
