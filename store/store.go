// Package store defines the document store contract the post service depends on.
// Implementations live in the gormstore, mongostore and memstore subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/learnato/forum/models"
)

var (
	// ErrNotFound is returned when the addressed post does not exist.
	ErrNotFound = errors.New("store: post not found")
	// ErrReplyNotFound is returned by MarkAnswered when the reply is not part of the post.
	ErrReplyNotFound = errors.New("store: reply not found")
	// ErrUserNotFound is returned by user lookups that match nothing.
	ErrUserNotFound = errors.New("store: user not found")
	// ErrDuplicateUser is returned when a username or email is already taken.
	ErrDuplicateUser = errors.New("store: user already exists")
	// ErrUnsupportedMutation is returned for Mutation types a driver does not know.
	ErrUnsupportedMutation = errors.New("store: unsupported mutation")
	// ErrUnsupportedField is returned by IncrementField for fields other than FieldViews.
	ErrUnsupportedField = errors.New("store: unsupported counter field")
)

// FieldViews is the only counter IncrementField accepts.
const FieldViews = "views"

// Filter narrows FindMany. Zero value matches every post.
type Filter struct {
	// Search matches title and body as a case-insensitive substring,
	// or the tag set exactly after lower-casing.
	Search string
	// AuthorID restricts results to a single author when non-empty.
	AuthorID string
}

// Sort orders FindMany results.
type Sort struct {
	Field string
	Desc  bool
}

var sortFields = map[string]bool{
	"createdAt": true,
	"updatedAt": true,
	"views":     true,
	"title":     true,
}

// DefaultSort is newest first.
var DefaultSort = Sort{Field: "createdAt", Desc: true}

// ParseSort parses "-createdAt" style expressions. An empty string yields DefaultSort.
func ParseSort(s string) (Sort, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSort, nil
	}
	desc := strings.HasPrefix(s, "-")
	field := strings.TrimPrefix(s, "-")
	if !sortFields[field] {
		return Sort{}, fmt.Errorf("unsupported sort field %q", field)
	}
	return Sort{Field: field, Desc: desc}, nil
}

// String renders the sort back into its canonical form.
func (s Sort) String() string {
	if s.Desc {
		return "-" + s.Field
	}
	return s.Field
}

// Mutation is a single-document change applied atomically by AtomicUpdate.
// The set of mutations is closed: implementations type-switch on the concrete types below.
type Mutation interface {
	mutation()
}

// ToggleUpvote removes UserID from the upvote set when present and adds it otherwise.
type ToggleUpvote struct {
	UserID string
}

// AppendReply appends Reply to the post. Stores assign Reply.ID and CreatedAt when empty.
type AppendReply struct {
	Reply models.Reply
}

// MarkAnswered flags the post as answered and records the accepted reply.
type MarkAnswered struct {
	ReplyID string
}

func (ToggleUpvote) mutation() {}
func (AppendReply) mutation()  {}
func (MarkAnswered) mutation() {}

// PostStore is the durable source of truth for posts.
type PostStore interface {
	Insert(ctx context.Context, post *models.Post) (string, error)
	FindByID(ctx context.Context, id string) (*models.Post, error)
	FindMany(ctx context.Context, filter Filter, sort Sort, skip, limit int) ([]models.Post, error)
	// AtomicUpdate applies m to the post under single-document atomicity and
	// returns the post as it is after the change. Missing posts yield ErrNotFound.
	AtomicUpdate(ctx context.Context, id string, m Mutation) (*models.Post, error)
	IncrementField(ctx context.Context, id string, field string) error
}

// UserStore persists accounts for the auth endpoints.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
}

// Backend bundles the stores a driver provides.
type Backend struct {
	Posts PostStore
	Users UserStore
	Close func() error
}

// MatchesSearch applies the Filter.Search semantics to a single post.
// Drivers that filter in process share it so matching stays identical.
func MatchesSearch(p models.Post, search string) bool {
	if search == "" {
		return true
	}
	lower := strings.ToLower(search)
	if strings.Contains(strings.ToLower(p.Title), lower) || strings.Contains(strings.ToLower(p.Body), lower) {
		return true
	}
	for _, t := range p.Tags {
		if t == lower {
			return true
		}
	}
	return false
}
