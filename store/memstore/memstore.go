// Package memstore is an in-process PostStore and UserStore. It backs the
// "memory" store driver and the service tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/learnato/forum/models"
	"github.com/learnato/forum/store"
)

// Store keeps every document behind one mutex, which makes each call atomic
// at the single-document level and trivially across documents too.
type Store struct {
	mu    sync.Mutex
	posts map[string]*models.Post
	users map[string]*models.User
	now   func() time.Time

	// seq breaks createdAt ties so ordering is stable within one clock tick.
	seq   int64
	order map[string]int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		posts: make(map[string]*models.Post),
		users: make(map[string]*models.User),
		order: make(map[string]int64),
		now:   time.Now,
	}
}

// Backend exposes the store through the driver-neutral bundle.
func (s *Store) Backend() store.Backend {
	return store.Backend{Posts: s, Users: s, Close: func() error { return nil }}
}

// Insert stores a copy of post and assigns its id and timestamps.
func (s *Store) Insert(ctx context.Context, post *models.Post) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := post.Clone()
	c.ID = uuid.NewString()
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	for i := range c.Replies {
		if c.Replies[i].ID == "" {
			c.Replies[i].ID = uuid.NewString()
		}
	}
	s.seq++
	s.order[c.ID] = s.seq
	s.posts[c.ID] = &c

	post.ID, post.CreatedAt, post.UpdatedAt = c.ID, now, now
	return c.ID, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := p.Clone()
	return &c, nil
}

func (s *Store) FindMany(ctx context.Context, filter store.Filter, srt store.Sort, skip, limit int) ([]models.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	matched := make([]models.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if filter.AuthorID != "" && p.AuthorID != filter.AuthorID {
			continue
		}
		if !store.MatchesSearch(*p, filter.Search) {
			continue
		}
		matched = append(matched, p.Clone())
	}
	order := make(map[string]int64, len(matched))
	for _, p := range matched {
		order[p.ID] = s.order[p.ID]
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less, equal bool
		switch srt.Field {
		case "title":
			less, equal = a.Title < b.Title, a.Title == b.Title
		case "views":
			less, equal = a.Views < b.Views, a.Views == b.Views
		case "updatedAt":
			less, equal = a.UpdatedAt.Before(b.UpdatedAt), a.UpdatedAt.Equal(b.UpdatedAt)
		default:
			less, equal = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		}
		if equal {
			less = order[a.ID] < order[b.ID]
		}
		if srt.Desc {
			return !less
		}
		return less
	})

	if skip >= len(matched) {
		return []models.Post{}, nil
	}
	matched = matched[skip:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) AtomicUpdate(ctx context.Context, id string, m store.Mutation) (*models.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	switch mu := m.(type) {
	case store.ToggleUpvote:
		if p.HasUpvote(mu.UserID) {
			kept := p.Upvotes[:0:0]
			for _, u := range p.Upvotes {
				if u != mu.UserID {
					kept = append(kept, u)
				}
			}
			p.Upvotes = kept
		} else {
			p.Upvotes = append(p.Upvotes, mu.UserID)
		}
	case store.AppendReply:
		r := mu.Reply.Clone()
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.now()
		}
		p.Replies = append(p.Replies, r)
	case store.MarkAnswered:
		if _, ok := p.FindReply(mu.ReplyID); !ok {
			return nil, store.ErrReplyNotFound
		}
		rid := mu.ReplyID
		p.IsAnswered = true
		p.AcceptedReplyID = &rid
	default:
		return nil, store.ErrUnsupportedMutation
	}
	p.UpdatedAt = s.now()
	c := p.Clone()
	return &c, nil
}

func (s *Store) IncrementField(ctx context.Context, id string, field string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if field != store.FieldViews {
		return store.ErrUnsupportedField
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Views++
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) || strings.EqualFold(existing.Username, u.Username) {
			return store.ErrDuplicateUser
		}
	}
	c := *u
	c.ID = uuid.NewString()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if c.Role == "" {
		c.Role = models.RoleStudent
	}
	s.users[c.ID] = &c
	*u = c
	return nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	c := *u
	return &c, nil
}
