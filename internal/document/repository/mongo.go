package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jotion/jotion/backend/go-services/internal/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo implements Repository on a MongoDB collection. Document ids are
// UUID strings stored in _id.
type MongoRepo struct {
	col *mongo.Collection
}

// NewMongoRepo wraps col and ensures the owner/parent and owner/archived indexes
// that back the sidebar, trash and search queries.
func NewMongoRepo(ctx context.Context, col *mongo.Collection) (*MongoRepo, error) {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "parentId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "isArchived", Value: 1}, {Key: "createdAt", Value: -1}}},
	}
	if _, err := col.Indexes().CreateMany(ctx, models); err != nil {
		return nil, fmt.Errorf("create document indexes: %w", err)
	}
	return &MongoRepo{col: col}, nil
}

func (m *MongoRepo) Insert(ctx context.Context, d *document.Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if _, err := m.col.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return document.ErrConflict
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (m *MongoRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	if err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &d, nil
}

func (m *MongoRepo) List(ctx context.Context, f Filter) ([]*document.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := m.col.Find(ctx, buildFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer cur.Close(ctx)
	out := []*document.Document{}
	for cur.Next(ctx) {
		var d document.Document
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, &d)
	}
	return out, cur.Err()
}

func (m *MongoRepo) Update(ctx context.Context, id string, p document.Patch) (*document.Document, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d document.Document
	err := m.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, buildUpdate(p, time.Now().UTC()), opts).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update document %s: %w", id, err)
	}
	return &d, nil
}

func (m *MongoRepo) Delete(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	if err := m.col.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete document %s: %w", id, err)
	}
	return &d, nil
}

// buildFilter translates a Filter into a Mongo query. {"parentId": nil} matches
// both a missing field and an explicit null.
func buildFilter(f Filter) bson.M {
	q := bson.M{"ownerId": f.OwnerID}
	if f.Archived != nil {
		q["isArchived"] = *f.Archived
	}
	if f.ByParent {
		if f.ParentID == nil {
			q["parentId"] = nil
		} else {
			q["parentId"] = *f.ParentID
		}
	}
	return q
}

func buildUpdate(p document.Patch, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	unset := bson.M{}
	if p.Title != nil {
		set["title"] = *p.Title
	}
	if p.Content != nil {
		set["content"] = *p.Content
	}
	if p.CoverImage != nil {
		set["coverImage"] = *p.CoverImage
	}
	if p.Icon != nil {
		set["icon"] = *p.Icon
	}
	if p.IsPublished != nil {
		set["isPublished"] = *p.IsPublished
	}
	if p.IsArchived != nil {
		set["isArchived"] = *p.IsArchived
	}
	if p.ClearIcon {
		delete(set, "icon")
		unset["icon"] = ""
	}
	if p.ClearCoverImage {
		delete(set, "coverImage")
		unset["coverImage"] = ""
	}
	if p.ClearParent {
		unset["parentId"] = ""
	}
	upd := bson.M{"$set": set}
	if len(unset) > 0 {
		upd["$unset"] = unset
	}
	return upd
}
