package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/learnato/forum/cache"
	"github.com/learnato/forum/models"
	"github.com/learnato/forum/notify"
	"github.com/learnato/forum/store"
	"github.com/learnato/forum/store/memstore"
)

type fixture struct {
	mem   *memstore.Store
	store *journalStore
	cache *fakeCache
	bus   *recordingBus
	log   *journal
	svc   *PostService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := &journal{}
	mem := memstore.New()
	f := &fixture{
		mem:   mem,
		store: &journalStore{PostStore: mem, log: log},
		cache: newFakeCache(log),
		bus:   &recordingBus{log: log},
		log:   log,
	}
	f.svc = NewPostService(f.store, f.cache, f.bus, PostConfig{}, nil)
	return f
}

func (f *fixture) createPost(t *testing.T, title string) *models.Post {
	t.Helper()
	p, err := f.svc.CreatePost(context.Background(), CreatePostInput{
		Title:    title,
		Body:     "Body of " + title,
		Tags:     []string{"go"},
		AuthorID: "author-1",
	})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	return p
}

func decodePage(t *testing.T, snap Snapshot) postPage {
	t.Helper()
	var page postPage
	if err := json.Unmarshal(snap, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	return page
}

func decodePost(t *testing.T, snap Snapshot) models.Post {
	t.Helper()
	var p models.Post
	if err := json.Unmarshal(snap, &p); err != nil {
		t.Fatalf("decode post: %v", err)
	}
	return p
}

func TestCreatePostThenListShowsIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createPost(t, "First question here")

	// Populate the list cache before the second write.
	if _, err := f.svc.ListPosts(ctx, ListQuery{}); err != nil {
		t.Fatal(err)
	}
	created := f.createPost(t, "Second question here")

	snap, err := f.svc.ListPosts(ctx, ListQuery{})
	if err != nil {
		t.Fatal(err)
	}
	page := decodePage(t, snap)
	if len(page.Posts) != 2 || page.Posts[0].ID != created.ID {
		t.Fatalf("new post missing from list: %+v", page.Posts)
	}
}

func TestWriteOrderPersistInvalidateNotify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPost(t, "Ordering of side effects")
	if _, err := f.svc.ToggleUpvote(ctx, p.ID, "u1"); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"persist insert",
		"invalidate " + cache.ListPrefix + "*",
		"publish newPost",
		"persist update",
		"invalidate " + cache.DetailKey(p.ID),
		"publish upvoteUpdate",
	}
	if got := f.log.list(); !reflect.DeepEqual(got, want) {
		t.Fatalf("side effects\n got %q\nwant %q", got, want)
	}
}

func TestPersistFailureAbortsWrite(t *testing.T) {
	f := newFixture(t)
	f.store.failWrites = true

	_, err := f.svc.CreatePost(context.Background(), CreatePostInput{Title: "Will not be stored", Body: "b", AuthorID: "a"})
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if f.cache.mutations() != 0 || len(f.bus.published()) != 0 {
		t.Fatalf("failed write was invalidated or announced: %q", f.log.list())
	}
}

func TestInvalidationAndPublishFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	f.cache.down = true
	f.bus.fail = true

	p, err := f.svc.CreatePost(context.Background(), CreatePostInput{Title: "Survives outages", Body: "b", AuthorID: "a"})
	if err != nil {
		t.Fatalf("write failed because of cache or bus: %v", err)
	}
	if _, err := f.mem.FindByID(context.Background(), p.ID); err != nil {
		t.Fatalf("post not persisted: %v", err)
	}
}

func TestToggleUpvoteRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPost(t, "Toggle me twice please")

	first, err := f.svc.ToggleUpvote(ctx, p.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Upvoted || first.UpvoteCount != 1 {
		t.Fatalf("first toggle: %+v", first)
	}
	second, err := f.svc.ToggleUpvote(ctx, p.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if second.Upvoted || second.UpvoteCount != 0 {
		t.Fatalf("second toggle: %+v", second)
	}
	got, _ := f.mem.FindByID(ctx, p.ID)
	if len(got.Upvotes) != 0 {
		t.Fatalf("upvote set changed after round trip: %v", got.Upvotes)
	}
}

func TestConcurrentUpvotesByDistinctUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPost(t, "Popular question here")

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.svc.ToggleUpvote(ctx, p.ID, fmt.Sprintf("user-%d", i)); err != nil {
				t.Errorf("toggle %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := f.mem.FindByID(ctx, p.ID)
	seen := map[string]bool{}
	for _, u := range got.Upvotes {
		if seen[u] {
			t.Fatalf("duplicate upvoter %s", u)
		}
		seen[u] = true
	}
	if len(seen) != n {
		t.Fatalf("upvotes = %d, want %d", len(seen), n)
	}
}

func TestGetPostCountsEveryView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPost(t, "How many views now?")

	if _, err := f.svc.GetPost(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if f.store.finds != 1 {
		t.Fatalf("first read should miss the cache")
	}
	got, _ := f.mem.FindByID(ctx, p.ID)
	if got.Views != 1 {
		t.Fatalf("views after miss = %d, want 1", got.Views)
	}

	if _, err := f.svc.GetPost(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if f.store.finds != 1 {
		t.Fatalf("second read should hit the cache, store reads = %d", f.store.finds)
	}
	got, _ = f.mem.FindByID(ctx, p.ID)
	if got.Views != 2 {
		t.Fatalf("views after hit = %d, want 2", got.Views)
	}
}

func TestGetPostViewFailureStillReturns(t *testing.T) {
	f := newFixture(t)
	p := f.createPost(t, "Views are best effort")
	f.store.failViews = true

	snap, err := f.svc.GetPost(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("read failed because of view counter: %v", err)
	}
	if decodePost(t, snap).ID != p.ID {
		t.Fatal("wrong post returned")
	}
}

func TestGetPostNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetPost(context.Background(), "missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Resource != "post" {
		t.Fatalf("expected post NotFoundError, got %v", err)
	}
}

func TestMarkAnsweredRequiresInstructor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPost(t, "Who may accept answers?")
	_, reply, err := f.svc.AddReply(ctx, p.ID, ReplyInput{Content: "An answer", AuthorID: "u2"})
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{p.ID, "no-such-post"} {
		_, err := f.svc.MarkAnswered(ctx, id, reply.ID, models.RoleStudent)
		var ae *AuthorizationError
		if !errors.As(err, &ae) {
			t.Fatalf("post %s: expected AuthorizationError, got %v", id, err)
		}
	}
	got, _ := f.mem.FindByID(ctx, p.ID)
	if got.IsAnswered {
		t.Fatal("student marked the post as answered")
	}

	answered, err := f.svc.MarkAnswered(ctx, p.ID, reply.ID, models.RoleInstructor)
	if err != nil {
		t.Fatal(err)
	}
	if !answered.IsAnswered || answered.AcceptedReplyID == nil || *answered.AcceptedReplyID != reply.ID {
		t.Fatalf("unexpected post state %+v", answered)
	}
	evs := f.bus.published()
	if last := evs[len(evs)-1]; last.Kind != notify.KindPostAnswered || last.PostID != p.ID {
		t.Fatalf("unexpected last event %+v", last)
	}
}

func TestMarkAnsweredNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPost(t, "Answer that does not exist")

	tests := []struct {
		name     string
		postID   string
		resource string
	}{
		{name: "unknown post", postID: "nope", resource: "post"},
		{name: "unknown reply", postID: p.ID, resource: "reply"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.MarkAnswered(ctx, tt.postID, "r-missing", models.RoleInstructor)
			var nf *NotFoundError
			if !errors.As(err, &nf) || nf.Resource != tt.resource {
				t.Fatalf("expected %s NotFoundError, got %v", tt.resource, err)
			}
		})
	}
}

func TestListPostsWithCacheDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createPost(t, "Golang channels explained")
	f.createPost(t, "Rust lifetimes explained")
	f.cache.down = true

	snap, err := f.svc.ListPosts(ctx, ListQuery{Search: "GOLANG"})
	if err != nil {
		t.Fatalf("list failed with cache down: %v", err)
	}
	page := decodePage(t, snap)
	if len(page.Posts) != 1 || !strings.Contains(page.Posts[0].Title, "Golang") {
		t.Fatalf("unexpected results %+v", page.Posts)
	}
}

func TestHangingCacheFallsBackWithinTimeout(t *testing.T) {
	mem := memstore.New()
	const cacheTimeout = 50 * time.Millisecond
	svc := NewPostService(mem, hangingCache{}, nil, PostConfig{CacheTimeout: cacheTimeout}, nil)
	ctx := context.Background()

	p, err := svc.CreatePost(ctx, CreatePostInput{Title: "Cache timeouts degrade reads", Body: "body", AuthorID: "u"})
	if err != nil {
		t.Fatal(err)
	}

	// A read pays at most one timed-out Get and one timed-out Set.
	budget := 2*cacheTimeout + 500*time.Millisecond

	start := time.Now()
	snap, err := svc.ListPosts(ctx, ListQuery{})
	if err != nil {
		t.Fatalf("list with hanging cache: %v", err)
	}
	if elapsed := time.Since(start); elapsed > budget {
		t.Fatalf("list took %s, want under %s", elapsed, budget)
	}
	if page := decodePage(t, snap); len(page.Posts) != 1 || page.Posts[0].ID != p.ID {
		t.Fatalf("list page %+v", page)
	}

	start = time.Now()
	snap, err = svc.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("get with hanging cache: %v", err)
	}
	if elapsed := time.Since(start); elapsed > budget {
		t.Fatalf("get took %s, want under %s", elapsed, budget)
	}
	if got := decodePost(t, snap); got.Title != p.Title {
		t.Fatalf("get returned %+v", got)
	}
}

func TestListPostsSnapshotsAreStableWithinTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createPost(t, "Existing post with x")

	first, err := f.svc.ListPosts(ctx, ListQuery{Search: "x", Page: 1})
	if err != nil {
		t.Fatal(err)
	}
	// Change the store behind the service's back.
	if _, err := f.mem.Insert(ctx, &models.Post{Title: "Sneaky post with x", Body: "b", AuthorID: "a"}); err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.ListPosts(ctx, ListQuery{Search: "x", Page: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("cached snapshot changed within TTL")
	}
}

func TestListPostsPagingAndSort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.createPost(t, fmt.Sprintf("Question number %d", i))
	}

	page := decodePage(t, mustList(t, f.svc, ListQuery{PageSize: 2, Sort: "title"}))
	if len(page.Posts) != 2 || !page.HasMore || page.Posts[0].Title != "Question number 0" {
		t.Fatalf("unexpected first page %+v", page)
	}
	page = decodePage(t, mustList(t, f.svc, ListQuery{Page: 2, PageSize: 2, Sort: "title"}))
	if len(page.Posts) != 1 || page.HasMore {
		t.Fatalf("unexpected second page %+v", page)
	}
	page = decodePage(t, mustList(t, f.svc, ListQuery{PageSize: 1000}))
	if page.PageSize != MaxPageSize {
		t.Fatalf("page size not capped: %d", page.PageSize)
	}

	_, err := f.svc.ListPosts(ctx, ListQuery{Sort: "-password"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "sort" {
		t.Fatalf("expected sort ValidationError, got %v", err)
	}
}

func mustList(t *testing.T, svc *PostService, q ListQuery) Snapshot {
	t.Helper()
	snap, err := svc.ListPosts(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestCreatePostTitleBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePost(ctx, CreatePostInput{Title: strings.Repeat("a", 9), Body: "body", AuthorID: "u"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "title" {
		t.Fatalf("9 rune title: expected title ValidationError, got %v", err)
	}
	if _, err := f.svc.CreatePost(ctx, CreatePostInput{Title: strings.Repeat("a", 10), Body: "body", AuthorID: "u"}); err != nil {
		t.Fatalf("10 rune title rejected: %v", err)
	}
	if _, err := f.svc.CreatePost(ctx, CreatePostInput{Title: strings.Repeat("é", 10), Body: "body", AuthorID: "u"}); err != nil {
		t.Fatalf("title length must count runes: %v", err)
	}
}

func TestCreatePostSanitizesAndNormalizes(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.CreatePost(context.Background(), CreatePostInput{
		Title:    "  A question about <b>tags</b>  ",
		Body:     `hello <script>alert(1)</script><a href="https://go.dev">go</a>`,
		Tags:     []string{" Go ", "go", "", "Concurrency"},
		AuthorID: "u",
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(p.Body, "<script>") {
		t.Fatalf("body not sanitized: %q", p.Body)
	}
	if !reflect.DeepEqual(p.Tags, []string{"go", "concurrency"}) {
		t.Fatalf("tags = %q", p.Tags)
	}

	_, err = f.svc.CreatePost(context.Background(), CreatePostInput{Title: "Only a script body", Body: "<script>x</script>", AuthorID: "u"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "content" {
		t.Fatalf("expected content ValidationError, got %v", err)
	}
}

func TestCreatePostBoundsApplyAfterSanitizing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePost(ctx, CreatePostInput{Title: "<script>alert(1)</script>Hi", Body: "body", AuthorID: "u"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "title" {
		t.Fatalf("expected title ValidationError, got %v", err)
	}
	posts, err := f.mem.FindMany(ctx, store.Filter{}, store.DefaultSort, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 0 {
		t.Fatalf("rejected post was stored: %+v", posts[0])
	}
	if len(f.bus.published()) != 0 {
		t.Fatal("rejected post was announced")
	}

	p, err := f.svc.CreatePost(ctx, CreatePostInput{Title: "Tom & Jerry questions", Body: "is a < b in Go?", AuthorID: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "Tom & Jerry questions" {
		t.Fatalf("title stored as %q", p.Title)
	}
	if p.Body != "is a &lt; b in Go?" {
		t.Fatalf("body stored as %q", p.Body)
	}
}

func TestAddReplyBoundsApplyAfterSanitizing(t *testing.T) {
	f := newFixture(t)
	p := f.createPost(t, "Replies are sanitized first")

	_, _, err := f.svc.AddReply(context.Background(), p.ID, ReplyInput{Content: "<script>alert(1)</script>", AuthorID: "u"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "content" {
		t.Fatalf("expected content ValidationError, got %v", err)
	}
	got, _ := f.mem.FindByID(context.Background(), p.ID)
	if len(got.Replies) != 0 {
		t.Fatalf("rejected reply was stored: %+v", got.Replies)
	}
}

func TestAddReplyToMissingPost(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.AddReply(context.Background(), "ghost", ReplyInput{Content: "hello", AuthorID: "u"})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if f.cache.mutations() != 0 {
		t.Fatal("cache mutated for a failed reply")
	}
	if len(f.bus.published()) != 0 {
		t.Fatal("notification sent for a failed reply")
	}
}

func TestAddReplyInvalidatesDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPost(t, "Reply invalidation test")

	if _, err := f.svc.GetPost(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.svc.AddReply(ctx, p.ID, ReplyInput{Content: "first!", AuthorID: "u2"}); err != nil {
		t.Fatal(err)
	}
	got := decodePost(t, mustGet(t, f.svc, p.ID))
	if len(got.Replies) != 1 || got.Replies[0].Content != "first!" {
		t.Fatalf("detail served stale after reply: %+v", got.Replies)
	}

	evs := f.bus.published()
	last := evs[len(evs)-1]
	if last.Kind != notify.KindNewReply {
		t.Fatalf("last event %s, want newReply", last.Kind)
	}
	var payload struct {
		PostID string       `json:"postId"`
		Reply  models.Reply `json:"reply"`
	}
	if err := json.Unmarshal(last.Payload, &payload); err != nil || payload.PostID != p.ID || payload.Reply.ID == "" {
		t.Fatalf("bad payload %s: %v", last.Payload, err)
	}
}

func mustGet(t *testing.T, svc *PostService, id string) Snapshot {
	t.Helper()
	snap, err := svc.GetPost(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestNilCacheAndBus(t *testing.T) {
	svc := NewPostService(memstore.New(), nil, nil, PostConfig{}, nil)
	ctx := context.Background()
	p, err := svc.CreatePost(ctx, CreatePostInput{Title: "No cache configured", Body: "b", AuthorID: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetPost(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{"Go", " go", "", "  ", "Web", "GO", "web"})
	if !reflect.DeepEqual(got, []string{"go", "web"}) {
		t.Fatalf("got %q", got)
	}
	if NormalizeTags(nil) != nil {
		t.Fatal("nil input should stay nil")
	}
}
