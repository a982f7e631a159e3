package media

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const assetsCollection = "assets"

// MongoStore keeps asset metadata in MongoDB.
type MongoStore struct {
	coll *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore wraps the assets collection of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(assetsCollection)}
}

func (s *MongoStore) Save(ctx context.Context, a *Asset) error {
	if _, err := s.coll.InsertOne(ctx, a); err != nil {
		return fmt.Errorf("save asset %s: %w", a.ID, err)
	}

	return nil
}

func (s *MongoStore) FindByIDs(ctx context.Context, ids []string) ([]Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cur, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find assets: %w", err)
	}

	var assets []Asset
	if err := cur.All(ctx, &assets); err != nil {
		return nil, fmt.Errorf("decode assets: %w", err)
	}

	return assets, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete asset %s: %w", id, err)
	}

	return nil
}
