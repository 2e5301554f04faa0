// Package mongostore implements the document store on MongoDB. Each post,
// with its replies and upvoters embedded, is a single document, so every
// mutation is one atomic update statement.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/learnato/forum/models"
	"github.com/learnato/forum/store"
)

const (
	postsCollection = "posts"
	usersCollection = "users"
)

// Store is the MongoDB-backed PostStore and UserStore.
type Store struct {
	client *mongo.Client
	posts  *mongo.Collection
	users  *mongo.Collection
}

// Open connects to uri, verifies the connection and ensures indexes exist.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(database)
	s := &Store{client: client, posts: db.Collection(postsCollection), users: db.Collection(usersCollection)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.posts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "author_id", Value: 1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo post indexes: %w", err)
	}
	_, err = s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("mongo user indexes: %w", err)
	}
	return nil
}

// Backend exposes the store through the driver-neutral bundle.
func (s *Store) Backend() store.Backend {
	return store.Backend{
		Posts: s,
		Users: s,
		Close: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.client.Disconnect(ctx)
		},
	}
}

type replyDoc struct {
	ID        string    `bson:"_id"`
	Content   string    `bson:"content"`
	AuthorID  string    `bson:"author_id"`
	Upvotes   []string  `bson:"upvotes"`
	CreatedAt time.Time `bson:"created_at"`
}

type postDoc struct {
	ID              bson.ObjectID `bson:"_id,omitempty"`
	Title           string        `bson:"title"`
	Body            string        `bson:"body"`
	AuthorID        string        `bson:"author_id"`
	Tags            []string      `bson:"tags"`
	Upvotes         []string      `bson:"upvotes"`
	Replies         []replyDoc    `bson:"replies"`
	IsAnswered      bool          `bson:"is_answered"`
	AcceptedReplyID *string       `bson:"accepted_reply_id,omitempty"`
	Views           int64         `bson:"views"`
	CreatedAt       time.Time     `bson:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at"`
}

func (d postDoc) toModel() models.Post {
	p := models.Post{
		ID:              d.ID.Hex(),
		Title:           d.Title,
		Body:            d.Body,
		AuthorID:        d.AuthorID,
		Tags:            d.Tags,
		Upvotes:         d.Upvotes,
		IsAnswered:      d.IsAnswered,
		AcceptedReplyID: d.AcceptedReplyID,
		Views:           d.Views,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	for _, r := range d.Replies {
		p.Replies = append(p.Replies, models.Reply{
			ID:        r.ID,
			Content:   r.Content,
			AuthorID:  r.AuthorID,
			Upvotes:   r.Upvotes,
			CreatedAt: r.CreatedAt,
		})
	}
	return p
}

func (s *Store) Insert(ctx context.Context, post *models.Post) (string, error) {
	now := time.Now().UTC()
	doc := postDoc{
		Title:     post.Title,
		Body:      post.Body,
		AuthorID:  post.AuthorID,
		Tags:      nonNil(post.Tags),
		Upvotes:   []string{},
		Replies:   []replyDoc{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := s.posts.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return "", errors.New("mongostore: unexpected inserted id type")
	}
	post.ID = oid.Hex()
	post.CreatedAt, post.UpdatedAt = now, now
	return post.ID, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.Post, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	var doc postDoc
	err = s.posts.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p := doc.toModel()
	return &p, nil
}

func (s *Store) FindMany(ctx context.Context, filter store.Filter, sort store.Sort, skip, limit int) ([]models.Post, error) {
	opts := options.Find().SetSort(sortDoc(sort))
	if skip > 0 {
		opts.SetSkip(int64(skip))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.posts.Find(ctx, filterDoc(filter), opts)
	if err != nil {
		return nil, err
	}
	var docs []postDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.Post, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

var sortFields = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"views":     "views",
	"title":     "title",
}

func sortDoc(sort store.Sort) bson.D {
	field, ok := sortFields[sort.Field]
	if !ok {
		field = "created_at"
	}
	dir := 1
	if sort.Desc {
		dir = -1
	}
	return bson.D{{Key: field, Value: dir}, {Key: "_id", Value: dir}}
}

func filterDoc(filter store.Filter) bson.D {
	doc := bson.D{}
	if filter.AuthorID != "" {
		doc = append(doc, bson.E{Key: "author_id", Value: filter.AuthorID})
	}
	if filter.Search != "" {
		pattern := regexp.QuoteMeta(filter.Search)
		doc = append(doc, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "title", Value: bson.D{{Key: "$regex", Value: pattern}, {Key: "$options", Value: "i"}}}},
			bson.D{{Key: "body", Value: bson.D{{Key: "$regex", Value: pattern}, {Key: "$options", Value: "i"}}}},
			bson.D{{Key: "tags", Value: strings.ToLower(filter.Search)}},
		}})
	}
	return doc
}

// toggleUpvotePipeline flips membership of userID in one server-side update.
// The user id is wrapped in $literal so values starting with '$' are not field paths.
func toggleUpvotePipeline(userID string, now time.Time) mongo.Pipeline {
	uid := bson.D{{Key: "$literal", Value: userID}}
	current := bson.D{{Key: "$ifNull", Value: bson.A{"$upvotes", bson.A{}}}}
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "upvotes", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$in", Value: bson.A{uid, current}}},
				bson.D{{Key: "$filter", Value: bson.D{
					{Key: "input", Value: current},
					{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$this", uid}}}},
				}}},
				bson.D{{Key: "$concatArrays", Value: bson.A{current, bson.A{uid}}}},
			}}}},
			{Key: "updated_at", Value: now},
		}}},
	}
}

func (s *Store) AtomicUpdate(ctx context.Context, id string, m store.Mutation) (*models.Post, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	now := time.Now().UTC()
	filter := bson.D{{Key: "_id", Value: oid}}
	var update any

	switch mu := m.(type) {
	case store.ToggleUpvote:
		update = toggleUpvotePipeline(mu.UserID, now)
	case store.AppendReply:
		reply := replyDoc{
			ID:        bson.NewObjectID().Hex(),
			Content:   mu.Reply.Content,
			AuthorID:  mu.Reply.AuthorID,
			Upvotes:   []string{},
			CreatedAt: mu.Reply.CreatedAt,
		}
		if reply.CreatedAt.IsZero() {
			reply.CreatedAt = now
		}
		update = bson.D{
			{Key: "$push", Value: bson.D{{Key: "replies", Value: reply}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: now}}},
		}
	case store.MarkAnswered:
		filter = append(filter, bson.E{Key: "replies._id", Value: mu.ReplyID})
		update = bson.D{{Key: "$set", Value: bson.D{
			{Key: "is_answered", Value: true},
			{Key: "accepted_reply_id", Value: mu.ReplyID},
			{Key: "updated_at", Value: now},
		}}}
	default:
		return nil, store.ErrUnsupportedMutation
	}

	var doc postDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = s.posts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, ok := m.(store.MarkAnswered); ok {
			return nil, s.missingReplyOrPost(ctx, oid)
		}
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p := doc.toModel()
	return &p, nil
}

func (s *Store) missingReplyOrPost(ctx context.Context, oid bson.ObjectID) error {
	n, err := s.posts.CountDocuments(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return store.ErrReplyNotFound
}

func (s *Store) IncrementField(ctx context.Context, id string, field string) error {
	if field != store.FieldViews {
		return store.ErrUnsupportedField
	}
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrNotFound
	}
	res, err := s.posts.UpdateOne(ctx, bson.D{{Key: "_id", Value: oid}}, bson.D{{Key: "$inc", Value: bson.D{{Key: "views", Value: 1}}}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

type userDoc struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	Username     string        `bson:"username"`
	Email        string        `bson:"email"`
	PasswordHash string        `bson:"password_hash"`
	Role         string        `bson:"role"`
	CreatedAt    time.Time     `bson:"created_at"`
}

func (d userDoc) toModel() models.User {
	return models.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Role:         d.Role,
		CreatedAt:    d.CreatedAt,
	}
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	doc := userDoc{
		Username:     u.Username,
		Email:        strings.ToLower(u.Email),
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		CreatedAt:    time.Now().UTC(),
	}
	if doc.Role == "" {
		doc.Role = models.RoleStudent
	}
	res, err := s.users.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicateUser
	}
	if err != nil {
		return err
	}
	if oid, ok := res.InsertedID.(bson.ObjectID); ok {
		doc.ID = oid
	}
	*u = doc.toModel()
	return nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.D{{Key: "email", Value: strings.ToLower(email)}})
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrUserNotFound
	}
	return s.findUser(ctx, bson.D{{Key: "_id", Value: oid}})
}

func (s *Store) findUser(ctx context.Context, filter bson.D) (*models.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u := doc.toModel()
	return &u, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
