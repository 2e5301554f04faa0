package models

import (
	"encoding/json"
	"time"
)

// Post is a forum question together with its replies and upvoters.
// Upvote and reply counts are derived from the slices when serialized.
type Post struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Body            string    `json:"content"`
	AuthorID        string    `json:"author"`
	Tags            []string  `json:"tags"`
	Upvotes         []string  `json:"upvotes"`
	Replies         []Reply   `json:"replies"`
	IsAnswered      bool      `json:"isAnswered"`
	AcceptedReplyID *string   `json:"acceptedAnswer,omitempty"`
	Views           int64     `json:"views"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// UpvoteCount returns the number of distinct upvoters.
func (p Post) UpvoteCount() int { return len(p.Upvotes) }

// ReplyCount returns the number of replies.
func (p Post) ReplyCount() int { return len(p.Replies) }

// HasUpvote reports whether userID is among the upvoters.
func (p Post) HasUpvote(userID string) bool {
	for _, u := range p.Upvotes {
		if u == userID {
			return true
		}
	}
	return false
}

// FindReply returns the reply with the given id, if present.
func (p Post) FindReply(replyID string) (*Reply, bool) {
	for i := range p.Replies {
		if p.Replies[i].ID == replyID {
			return &p.Replies[i], true
		}
	}
	return nil, false
}

// MarshalJSON adds the derived counters and normalizes nil slices to [].
func (p Post) MarshalJSON() ([]byte, error) {
	type alias Post
	out := struct {
		alias
		UpvoteCount int `json:"upvoteCount"`
		ReplyCount  int `json:"replyCount"`
	}{alias: alias(p), UpvoteCount: p.UpvoteCount(), ReplyCount: p.ReplyCount()}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if out.Upvotes == nil {
		out.Upvotes = []string{}
	}
	if out.Replies == nil {
		out.Replies = []Reply{}
	}
	return json.Marshal(out)
}

// Clone returns a deep copy so callers can mutate it without aliasing a store's state.
func (p Post) Clone() Post {
	c := p
	c.Tags = append([]string(nil), p.Tags...)
	c.Upvotes = append([]string(nil), p.Upvotes...)
	if p.Replies != nil {
		c.Replies = make([]Reply, len(p.Replies))
		for i, r := range p.Replies {
			c.Replies[i] = r.Clone()
		}
	}
	if p.AcceptedReplyID != nil {
		id := *p.AcceptedReplyID
		c.AcceptedReplyID = &id
	}
	return c
}
