package models

import (
	"encoding/json"
	"time"
)

// Reply is an answer attached to exactly one post.
type Reply struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"author"`
	Upvotes   []string  `json:"upvotes"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r Reply) MarshalJSON() ([]byte, error) {
	type alias Reply
	out := struct {
		alias
		UpvoteCount int `json:"upvoteCount"`
	}{alias: alias(r), UpvoteCount: len(r.Upvotes)}
	if out.Upvotes == nil {
		out.Upvotes = []string{}
	}
	return json.Marshal(out)
}

// Clone returns a deep copy of the reply.
func (r Reply) Clone() Reply {
	c := r
	c.Upvotes = append([]string(nil), r.Upvotes...)
	return c
}
