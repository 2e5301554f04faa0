// Package services holds the forum's use cases. PostService orchestrates the
// document store, the side cache and the notification bus: reads go through
// the cache first, writes persist, then invalidate, then notify.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/learnato/forum/cache"
	"github.com/learnato/forum/models"
	"github.com/learnato/forum/notify"
	"github.com/learnato/forum/store"
	"github.com/learnato/forum/utils"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	MaxTags         = 10
	MaxTagLength    = 32
)

type PostConfig struct {
	CacheTTL      time.Duration
	StoreTimeout  time.Duration
	CacheTimeout  time.Duration
	NotifyTimeout time.Duration
}

func (c PostConfig) withDefaults() PostConfig {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.CacheTimeout <= 0 {
		c.CacheTimeout = 500 * time.Millisecond
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = time.Second
	}
	return c
}

// Snapshot is a serialized read result. Cached snapshots are returned as stored.
type Snapshot []byte

type PostService struct {
	posts  store.PostStore
	cache  cache.Store
	bus    notify.Publisher
	cfg    PostConfig
	logger *zap.Logger
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, notify.Event) error { return nil }

// NewPostService wires the service. A nil cache behaves as cache.Nop and a
// nil bus drops every notification.
func NewPostService(posts store.PostStore, c cache.Store, bus notify.Publisher, cfg PostConfig, logger *zap.Logger) *PostService {
	if c == nil {
		c = cache.Nop{}
	}
	if bus == nil {
		bus = nopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostService{posts: posts, cache: c, bus: bus, cfg: cfg.withDefaults(), logger: logger}
}

// ListQuery selects one page of posts.
type ListQuery struct {
	Search   string
	AuthorID string
	Sort     string
	Page     int
	PageSize int
}

type postPage struct {
	Posts    []models.Post `json:"posts"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
	HasMore  bool          `json:"hasMore"`
}

// ListPosts returns one page of posts as a JSON snapshot.
func (s *PostService) ListPosts(ctx context.Context, q ListQuery) (Snapshot, error) {
	q.Search = strings.TrimSpace(q.Search)
	q.AuthorID = strings.TrimSpace(q.AuthorID)
	srt, err := store.ParseSort(q.Sort)
	if err != nil {
		return nil, invalid("sort", err.Error())
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}

	key := cache.ListKey(q.Search, q.AuthorID, srt.String(), q.Page, q.PageSize)
	if snap, ok := s.cacheGet(ctx, key); ok {
		return snap, nil
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	posts, err := s.posts.FindMany(sctx,
		store.Filter{Search: q.Search, AuthorID: q.AuthorID},
		srt, (q.Page-1)*q.PageSize, q.PageSize+1)
	if err != nil {
		return nil, &PersistenceError{Op: "list posts", Err: err}
	}

	page := postPage{Posts: posts, Page: q.Page, PageSize: q.PageSize}
	if len(posts) > q.PageSize {
		page.Posts = posts[:q.PageSize]
		page.HasMore = true
	}
	if page.Posts == nil {
		page.Posts = []models.Post{}
	}
	snap, err := json.Marshal(page)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, snap)
	return snap, nil
}

// GetPost returns a single post as a JSON snapshot and counts one view,
// whether or not the snapshot came from the cache.
func (s *PostService) GetPost(ctx context.Context, id string) (Snapshot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid("id", "cannot be blank")
	}

	key := cache.DetailKey(id)
	snap, hit := s.cacheGet(ctx, key)
	if !hit {
		sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		post, err := s.posts.FindByID(sctx, id)
		cancel()
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "post", ID: id}
		}
		if err != nil {
			return nil, &PersistenceError{Op: "get post", Err: err}
		}
		if snap, err = json.Marshal(post); err != nil {
			return nil, err
		}
		s.cacheSet(ctx, key, snap)
	}

	s.countView(ctx, id)
	return snap, nil
}

// countView failures are logged only: the read itself already succeeded.
func (s *PostService) countView(ctx context.Context, id string) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.posts.IncrementField(sctx, id, store.FieldViews); err != nil {
		s.logger.Warn("increment views failed", zap.String("post_id", id), zap.Error(err))
	}
}

type CreatePostInput struct {
	Title    string   `json:"title"`
	Body     string   `json:"content"`
	Tags     []string `json:"tags"`
	AuthorID string   `json:"author"`
}

func (in CreatePostInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.RuneLength(10, 200)),
		validation.Field(&in.Body, validation.Required, validation.RuneLength(1, 10000)),
		validation.Field(&in.Tags, validation.Length(0, MaxTags), validation.Each(validation.RuneLength(1, MaxTagLength))),
		validation.Field(&in.AuthorID, validation.Required),
	)
}

// CreatePost stores a new post and clears every cached list page.
func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	in.Title = utils.SanitizeText(in.Title)
	in.Body = utils.SanitizeHTML(in.Body)
	in.Tags = NormalizeTags(in.Tags)
	if err := in.Validate(); err != nil {
		return nil, validationFrom(err)
	}
	post := &models.Post{Title: in.Title, Body: in.Body, AuthorID: in.AuthorID, Tags: in.Tags}
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	id, err := s.posts.Insert(sctx, post)
	cancel()
	if err != nil {
		return nil, &PersistenceError{Op: "create post", Err: err}
	}
	post.ID = id

	after := context.WithoutCancel(ctx)
	s.invalidate(after, cache.ListPrefix, true)
	s.publish(after, notify.KindNewPost, id, post)
	return post, nil
}

type ReplyInput struct {
	Content  string `json:"content"`
	AuthorID string `json:"author"`
}

func (in ReplyInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Content, validation.Required, validation.RuneLength(1, 5000)),
		validation.Field(&in.AuthorID, validation.Required),
	)
}

// AddReply appends a reply and returns the updated post with the new reply.
func (s *PostService) AddReply(ctx context.Context, postID string, in ReplyInput) (*models.Post, *models.Reply, error) {
	postID = strings.TrimSpace(postID)
	in.Content = utils.SanitizeHTML(in.Content)
	if postID == "" {
		return nil, nil, invalid("id", "cannot be blank")
	}
	if err := in.Validate(); err != nil {
		return nil, nil, validationFrom(err)
	}

	post, err := s.update(ctx, postID, store.AppendReply{Reply: models.Reply{Content: in.Content, AuthorID: in.AuthorID}}, "add reply")
	if err != nil {
		return nil, nil, err
	}
	if len(post.Replies) == 0 {
		return nil, nil, &PersistenceError{Op: "add reply", Err: errors.New("reply missing after append")}
	}
	reply := post.Replies[len(post.Replies)-1]

	after := context.WithoutCancel(ctx)
	s.invalidate(after, cache.DetailKey(postID), false)
	s.publish(after, notify.KindNewReply, postID, map[string]any{"postId": postID, "reply": reply})
	return post, &reply, nil
}

type UpvoteResult struct {
	PostID      string `json:"postId"`
	Upvoted     bool   `json:"upvoted"`
	UpvoteCount int    `json:"upvotes"`
}

// ToggleUpvote adds userID to the post's upvoters, or removes it when present.
func (s *PostService) ToggleUpvote(ctx context.Context, postID, userID string) (UpvoteResult, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return UpvoteResult{}, invalid("id", "cannot be blank")
	}
	if userID == "" {
		return UpvoteResult{}, invalid("user", "cannot be blank")
	}

	post, err := s.update(ctx, postID, store.ToggleUpvote{UserID: userID}, "toggle upvote")
	if err != nil {
		return UpvoteResult{}, err
	}
	res := UpvoteResult{PostID: postID, Upvoted: post.HasUpvote(userID), UpvoteCount: post.UpvoteCount()}

	after := context.WithoutCancel(ctx)
	s.invalidate(after, cache.DetailKey(postID), false)
	s.publish(after, notify.KindUpvoteUpdate, postID, res)
	return res, nil
}

// MarkAnswered accepts replyID as the answer. Only instructors may do this,
// and the role is checked before the post is looked up.
func (s *PostService) MarkAnswered(ctx context.Context, postID, replyID, role string) (*models.Post, error) {
	if role != models.RoleInstructor {
		return nil, &AuthorizationError{Action: "mark posts as answered", Role: role}
	}
	postID = strings.TrimSpace(postID)
	replyID = strings.TrimSpace(replyID)
	if postID == "" {
		return nil, invalid("id", "cannot be blank")
	}
	if replyID == "" {
		return nil, invalid("replyId", "cannot be blank")
	}

	post, err := s.update(ctx, postID, store.MarkAnswered{ReplyID: replyID}, "mark answered")
	var nf *NotFoundError
	if errors.As(err, &nf) && nf.Resource == "reply" {
		nf.ID = replyID
	}
	if err != nil {
		return nil, err
	}

	after := context.WithoutCancel(ctx)
	s.invalidate(after, cache.DetailKey(postID), false)
	s.publish(after, notify.KindPostAnswered, postID, map[string]string{"postId": postID, "replyId": replyID})
	return post, nil
}

func (s *PostService) update(ctx context.Context, postID string, m store.Mutation, op string) (*models.Post, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	post, err := s.posts.AtomicUpdate(sctx, postID, m)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, &NotFoundError{Resource: "post", ID: postID}
	case errors.Is(err, store.ErrReplyNotFound):
		return nil, &NotFoundError{Resource: "reply"}
	case err != nil:
		return nil, &PersistenceError{Op: op, Err: err}
	}
	return post, nil
}

func (s *PostService) cacheGet(ctx context.Context, key string) (Snapshot, bool) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CacheTimeout)
	defer cancel()
	b, err := s.cache.Get(cctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return b, true
}

func (s *PostService) cacheSet(ctx context.Context, key string, snap Snapshot) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CacheTimeout)
	defer cancel()
	if err := s.cache.Set(cctx, key, snap, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *PostService) invalidate(ctx context.Context, key string, namespace bool) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CacheTimeout)
	defer cancel()
	var err error
	if namespace {
		err = s.cache.DeleteNamespace(cctx, key)
	} else {
		err = s.cache.Delete(cctx, key)
	}
	if err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("key", key), zap.Bool("namespace", namespace), zap.Error(err))
	}
}

func (s *PostService) publish(ctx context.Context, kind notify.Kind, postID string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode event payload", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	nctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.bus.Publish(nctx, notify.Event{Kind: kind, PostID: postID, Payload: b}); err != nil {
		s.logger.Warn("publish event failed", zap.String("kind", string(kind)), zap.String("post_id", postID), zap.Error(err))
	}
}

// NormalizeTags trims and lower-cases tags, dropping empties and repeats
// while keeping first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(utils.SanitizeText(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
