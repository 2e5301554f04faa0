// Package notify fans post changes out to connected clients. Delivery is best
// effort: an event reaches the subscribers connected when it is published, at
// most once, and is never replayed.
package notify

import (
	"context"
	"encoding/json"
	"errors"
)

// Kind identifies what changed.
type Kind string

const (
	KindNewPost      Kind = "newPost"
	KindNewReply     Kind = "newReply"
	KindUpvoteUpdate Kind = "upvoteUpdate"
	KindPostAnswered Kind = "postAnswered"
)

type Event struct {
	Kind    Kind            `json:"type"`
	PostID  string          `json:"postId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Publisher delivers events to subscribers, possibly on other instances.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Verifier validates a subscriber token.
type Verifier func(token string) error

var (
	ErrEmptyToken   = errors.New("notify: missing token")
	ErrInvalidToken = errors.New("notify: invalid token")
	ErrClosed       = errors.New("notify: hub closed")
)
