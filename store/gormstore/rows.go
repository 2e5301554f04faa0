package gormstore

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/learnato/forum/models"
)

// tagList is stored as a JSON array in a text column so tag matching can be
// expressed as a LIKE against the quoted, lower-cased tag.
type tagList []string

func (t tagList) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *tagList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("gormstore: unsupported tags column type")
	}
	if len(raw) == 0 {
		*t = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(t))
}

type postRow struct {
	ID              uint      `gorm:"primaryKey"`
	Title           string    `gorm:"size:255;not null"`
	Body            string    `gorm:"type:text;not null"`
	AuthorID        string    `gorm:"size:64;index;not null"`
	Tags            tagList   `gorm:"type:text"`
	IsAnswered      bool      `gorm:"not null;default:false"`
	AcceptedReplyID *string   `gorm:"size:64"`
	Views           int64     `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time
	Replies         []replyRow      `gorm:"foreignKey:PostID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Upvotes         []postUpvoteRow `gorm:"foreignKey:PostID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (postRow) TableName() string { return "posts" }

type replyRow struct {
	ID        uint   `gorm:"primaryKey"`
	PostID    uint   `gorm:"index;not null"`
	Content   string `gorm:"type:text;not null"`
	AuthorID  string `gorm:"size:64;not null"`
	CreatedAt time.Time
	Upvotes   []replyUpvoteRow `gorm:"foreignKey:ReplyID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (replyRow) TableName() string { return "replies" }

// postUpvoteRow enforces set semantics through the unique (post_id, user_id) index.
type postUpvoteRow struct {
	ID        uint   `gorm:"primaryKey"`
	PostID    uint   `gorm:"uniqueIndex:idx_post_upvote;not null"`
	UserID    string `gorm:"size:64;uniqueIndex:idx_post_upvote;not null"`
	CreatedAt time.Time
}

func (postUpvoteRow) TableName() string { return "post_upvotes" }

type replyUpvoteRow struct {
	ID        uint   `gorm:"primaryKey"`
	ReplyID   uint   `gorm:"uniqueIndex:idx_reply_upvote;not null"`
	UserID    string `gorm:"size:64;uniqueIndex:idx_reply_upvote;not null"`
	CreatedAt time.Time
}

func (replyUpvoteRow) TableName() string { return "reply_upvotes" }

type userRow struct {
	ID           uint           `gorm:"primaryKey"`
	Username     string         `gorm:"size:64;uniqueIndex;not null"`
	Email        string         `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string         `gorm:"size:255"`
	Role         string         `gorm:"size:16;not null;default:'student'"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

func (userRow) TableName() string { return "users" }

// BeforeCreate hook ensures timestamps and role are set even when not provided.
func (u *userRow) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = models.RoleStudent
	}
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *userRow) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}

func formatID(id uint) string { return strconv.FormatUint(uint64(id), 10) }

// parseID maps an opaque id back to a primary key. Ids that cannot be keys match nothing.
func parseID(id string) (uint, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

func (r postRow) toModel() models.Post {
	p := models.Post{
		ID:              formatID(r.ID),
		Title:           r.Title,
		Body:            r.Body,
		AuthorID:        r.AuthorID,
		Tags:            append([]string(nil), r.Tags...),
		IsAnswered:      r.IsAnswered,
		AcceptedReplyID: r.AcceptedReplyID,
		Views:           r.Views,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	for _, u := range r.Upvotes {
		p.Upvotes = append(p.Upvotes, u.UserID)
	}
	for _, rr := range r.Replies {
		reply := models.Reply{
			ID:        formatID(rr.ID),
			Content:   rr.Content,
			AuthorID:  rr.AuthorID,
			CreatedAt: rr.CreatedAt,
		}
		for _, u := range rr.Upvotes {
			reply.Upvotes = append(reply.Upvotes, u.UserID)
		}
		p.Replies = append(p.Replies, reply)
	}
	return p
}

func (u userRow) toModel() models.User {
	return models.User{
		ID:           formatID(u.ID),
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		CreatedAt:    u.CreatedAt,
	}
}
