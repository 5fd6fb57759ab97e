package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoJobStore persists cascade jobs in a collection for deployments without
// Redis. A TTL index on createdAt expires old jobs.
type MongoJobStore struct {
	col *mongo.Collection
}

func NewMongoJobStore(ctx context.Context, col *mongo.Collection, ttl time.Duration) (*MongoJobStore, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "createdAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(ttl / time.Second)),
	}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("create cascade job ttl index: %w", err)
	}
	return &MongoJobStore{col: col}, nil
}

// Save upserts the job by id.
func (m *MongoJobStore) Save(ctx context.Context, j *CascadeJob) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := m.col.ReplaceOne(ctx, bson.M{"_id": j.ID}, j, opts); err != nil {
		return fmt.Errorf("save cascade job %s: %w", j.ID, err)
	}
	return nil
}

func (m *MongoJobStore) Get(ctx context.Context, id string) (*CascadeJob, error) {
	var j CascadeJob
	if err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&j); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &j, nil
}
