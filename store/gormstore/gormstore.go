// Package gormstore implements the document store on a relational database via GORM.
// A post and its replies and upvotes form one document; AtomicUpdate locks the
// post row for the duration of the change.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnato/forum/models"
	"github.com/learnato/forum/store"
)

// Store is the GORM-backed PostStore and UserStore.
type Store struct {
	db *gorm.DB
}

// New wraps an opened database handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates missing tables and indexes.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&postRow{}, &replyRow{}, &postUpvoteRow{}, &replyUpvoteRow{}, &userRow{})
}

// Backend exposes the store through the driver-neutral bundle.
func (s *Store) Backend() store.Backend {
	return store.Backend{
		Posts: s,
		Users: s,
		Close: func() error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

func (s *Store) Insert(ctx context.Context, post *models.Post) (string, error) {
	row := postRow{
		Title:    post.Title,
		Body:     post.Body,
		AuthorID: post.AuthorID,
		Tags:     tagList(post.Tags),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", err
	}
	post.ID = formatID(row.ID)
	post.CreatedAt, post.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return post.ID, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.Post, error) {
	return s.load(s.db.WithContext(ctx), id)
}

func (s *Store) load(tx *gorm.DB, id string) (*models.Post, error) {
	pid, ok := parseID(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	var row postRow
	err := withDocument(tx).First(&row, pid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p := row.toModel()
	return &p, nil
}

// withDocument preloads everything that belongs to a post, replies in insertion order.
func withDocument(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Upvotes", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Replies", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Replies.Upvotes", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") })
}

var sortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"views":     "views",
	"title":     "title",
}

func (s *Store) FindMany(ctx context.Context, filter store.Filter, sort store.Sort, skip, limit int) ([]models.Post, error) {
	q := withDocument(s.db.WithContext(ctx).Model(&postRow{}))
	q = applyFilter(q, filter)
	q = q.Order(orderClause(sort)).Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: sort.Desc})
	if skip > 0 {
		q = q.Offset(skip)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []postRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Post, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func applyFilter(q *gorm.DB, filter store.Filter) *gorm.DB {
	if filter.AuthorID != "" {
		q = q.Where("author_id = ?", filter.AuthorID)
	}
	if filter.Search != "" {
		lower := strings.ToLower(filter.Search)
		like := "%" + escapeLike(lower) + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(body) LIKE ? OR tags LIKE ?", like, like, tagPattern(lower))
	}
	return q
}

func orderClause(sort store.Sort) clause.OrderByColumn {
	col, ok := sortColumns[sort.Field]
	if !ok {
		col = "created_at"
	}
	return clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: sort.Desc}
}

// tagPattern matches one element of the JSON-encoded tag array exactly.
func tagPattern(tag string) string {
	b, _ := json.Marshal(tag)
	return "%" + escapeLike(string(b)) + "%"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Store) AtomicUpdate(ctx context.Context, id string, m store.Mutation) (*models.Post, error) {
	pid, ok := parseID(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	var updated *models.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row postRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, pid).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := applyMutation(tx, row.ID, m); err != nil {
			return err
		}
		if err := tx.Model(&postRow{}).Where("id = ?", row.ID).UpdateColumn("updated_at", time.Now()).Error; err != nil {
			return err
		}
		updated, err = s.load(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func applyMutation(tx *gorm.DB, postID uint, m store.Mutation) error {
	switch mu := m.(type) {
	case store.ToggleUpvote:
		res := tx.Where("post_id = ? AND user_id = ?", postID, mu.UserID).Delete(&postUpvoteRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&postUpvoteRow{PostID: postID, UserID: mu.UserID}).Error
	case store.AppendReply:
		reply := replyRow{PostID: postID, Content: mu.Reply.Content, AuthorID: mu.Reply.AuthorID}
		if !mu.Reply.CreatedAt.IsZero() {
			reply.CreatedAt = mu.Reply.CreatedAt
		}
		return tx.Create(&reply).Error
	case store.MarkAnswered:
		rid, ok := parseID(mu.ReplyID)
		if !ok {
			return store.ErrReplyNotFound
		}
		var n int64
		if err := tx.Model(&replyRow{}).Where("id = ? AND post_id = ?", rid, postID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return store.ErrReplyNotFound
		}
		accepted := mu.ReplyID
		return tx.Model(&postRow{}).Where("id = ?", postID).UpdateColumns(map[string]any{
			"is_answered":       true,
			"accepted_reply_id": accepted,
		}).Error
	default:
		return store.ErrUnsupportedMutation
	}
}

// IncrementField bumps a counter without touching updated_at.
func (s *Store) IncrementField(ctx context.Context, id string, field string) error {
	if field != store.FieldViews {
		return store.ErrUnsupportedField
	}
	pid, ok := parseID(id)
	if !ok {
		return store.ErrNotFound
	}
	res := s.db.WithContext(ctx).Model(&postRow{}).Where("id = ?", pid).
		UpdateColumn("views", gorm.Expr("views + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	row := userRow{
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return store.ErrDuplicateUser
		}
		return err
	}
	*u = row.toModel()
	return nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u := row.toModel()
	return &u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	uid, ok := parseID(id)
	if !ok {
		return nil, store.ErrUserNotFound
	}
	var row userRow
	err := s.db.WithContext(ctx).First(&row, uid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u := row.toModel()
	return &u, nil
}
