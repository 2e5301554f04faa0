package mongostore

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/learnato/forum/store"
)

func TestFilterDoc_Empty(t *testing.T) {
	if doc := filterDoc(store.Filter{}); len(doc) != 0 {
		t.Fatalf("expected empty filter, got %v", doc)
	}
}

func TestFilterDoc_SearchQuotesRegexAndLowercasesTag(t *testing.T) {
	doc := filterDoc(store.Filter{Search: "C++ Help", AuthorID: "a1"})
	if len(doc) != 2 || doc[0].Key != "author_id" || doc[1].Key != "$or" {
		t.Fatalf("unexpected filter %v", doc)
	}
	or := doc[1].Value.(bson.A)
	if len(or) != 3 {
		t.Fatalf("expected three alternatives, got %d", len(or))
	}
	title := or[0].(bson.D)[0].Value.(bson.D)
	if title[0].Value != `C\+\+ Help` {
		t.Fatalf("expected quoted regex, got %v", title[0].Value)
	}
	if title[1].Value != "i" {
		t.Fatalf("expected case-insensitive option")
	}
	tag := or[2].(bson.D)[0]
	if tag.Key != "tags" || tag.Value != "c++ help" {
		t.Fatalf("expected exact lower-cased tag match, got %v", tag)
	}
}

func TestSortDoc(t *testing.T) {
	d := sortDoc(store.Sort{Field: "views", Desc: true})
	if d[0].Key != "views" || d[0].Value != -1 || d[1].Key != "_id" {
		t.Fatalf("unexpected sort %v", d)
	}
	d = sortDoc(store.Sort{Field: "bogus"})
	if d[0].Key != "created_at" || d[0].Value != 1 {
		t.Fatalf("unknown fields should fall back to created_at, got %v", d)
	}
}

func TestToggleUpvotePipeline_UsesLiteralUserID(t *testing.T) {
	now := time.Now()
	p := toggleUpvotePipeline("$danger", now)
	if len(p) != 1 || p[0][0].Key != "$set" {
		t.Fatalf("expected one $set stage, got %v", p)
	}
	set := p[0][0].Value.(bson.D)
	if set[0].Key != "upvotes" || set[1].Key != "updated_at" || set[1].Value != now {
		t.Fatalf("unexpected $set body %v", set)
	}
	cond := set[0].Value.(bson.D)[0].Value.(bson.A)
	in := cond[0].(bson.D)[0].Value.(bson.A)
	lit := in[0].(bson.D)[0]
	if lit.Key != "$literal" || lit.Value != "$danger" {
		t.Fatalf("user id must be wrapped in $literal, got %v", lit)
	}
}

func TestPostDocToModel(t *testing.T) {
	oid := bson.NewObjectID()
	doc := postDoc{
		ID:      oid,
		Title:   "Embedded replies convert",
		Upvotes: []string{"u1"},
		Replies: []replyDoc{{ID: "r1", Content: "hi", Upvotes: []string{}}},
	}
	p := doc.toModel()
	if p.ID != oid.Hex() || p.UpvoteCount() != 1 || p.ReplyCount() != 1 || p.Replies[0].ID != "r1" {
		t.Fatalf("unexpected conversion %+v", p)
	}
}
