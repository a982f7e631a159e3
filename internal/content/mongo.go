package content

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const postsCollection = "posts"

// MongoStore is the MongoDB-backed canonical post store.
type MongoStore struct {
	coll *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore wraps the posts collection of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(postsCollection)}
}

func (s *MongoStore) Insert(ctx context.Context, p *Post) error {
	if _, err := s.coll.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("insert post %s: %w", p.ID, err)
	}

	return nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*Post, error) {
	var p Post

	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("find post %s: %w", id, err)
	}

	return &p, nil
}

func (s *MongoStore) FindPage(ctx context.Context, page, limit int) ([]Post, int64, error) {
	skip := int64((page - 1) * limit)

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetSkip(skip).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find posts page %d: %w", page, err)
	}

	var posts []Post
	if err := cur.All(ctx, &posts); err != nil {
		return nil, 0, fmt.Errorf("decode posts page %d: %w", page, err)
	}

	total, err := s.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}

	return posts, total, nil
}

func (s *MongoStore) DeleteOwned(ctx context.Context, id, userID string) (*Post, error) {
	var p Post

	err := s.coll.FindOneAndDelete(ctx, bson.M{"_id": id, "userId": userID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("delete post %s: %w", id, err)
	}

	return &p, nil
}
