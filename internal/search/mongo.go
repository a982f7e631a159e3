package search

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	documentsCollection = "documents"
	maxResults          = 10
)

// MongoStore keeps the search index in a MongoDB text-indexed collection.
type MongoStore struct {
	coll *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore wraps the documents collection of db. Call EnsureIndexes
// once at startup before serving queries.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(documentsCollection)}
}

// EnsureIndexes creates the text index on content and the unique postId
// index. Both creations are idempotent.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "content", Value: "text"}},
		},
		{
			Keys:    bson.D{{Key: "postId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create search indexes: %w", err)
	}

	return nil
}

func (s *MongoStore) Index(ctx context.Context, doc Document) error {
	filter := bson.M{"postId": doc.PostID}
	opts := options.Replace().SetUpsert(true)

	if _, err := s.coll.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("index post %s: %w", doc.PostID, err)
	}

	return nil
}

func (s *MongoStore) Remove(ctx context.Context, postID string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"postId": postID}); err != nil {
		return fmt.Errorf("remove post %s from index: %w", postID, err)
	}

	return nil
}

func (s *MongoStore) Search(ctx context.Context, query string) ([]Document, error) {
	filter := bson.M{"$text": bson.M{"$search": query}}

	opts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetLimit(maxResults)

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	var docs []Document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}

	return docs, nil
}
