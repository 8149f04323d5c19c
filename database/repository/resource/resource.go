package resourceRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointqix/database"
	"appointqix/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound means no resource matched the id.
var ErrNotFound = errors.New("resource not found")

// ResourceRepository stores read-only resource snapshots consumed from the
// admin layer.
type ResourceRepository interface {
	Upsert(ctx context.Context, res *models.Resource) error
	GetByID(ctx context.Context, id string) (*models.Resource, error)
	ListByKind(ctx context.Context, kind string) ([]models.Resource, error)
	EnsureIndexes() error
}

// MongoResourceRepo implements ResourceRepository using MongoDB.
type MongoResourceRepo struct {
	coll *mongo.Collection
}

// NewMongoResourceRepo constructs a new instance of MongoResourceRepo.
func NewMongoResourceRepo() ResourceRepository {
	return &MongoResourceRepo{
		coll: database.DB().Collection("resources"),
	}
}

// Upsert replaces the stored snapshot for the resource.
func (repo *MongoResourceRepo) Upsert(ctx context.Context, res *models.Resource) error {
	res.UpdatedAt = time.Now().UTC()
	filter := bson.M{"id": res.ID}
	opts := options.Replace().SetUpsert(true)
	if _, err := repo.coll.ReplaceOne(ctx, filter, res, opts); err != nil {
		return fmt.Errorf("error upserting resource %s: %w", res.ID, err)
	}
	return nil
}

// GetByID retrieves a resource snapshot by ID.
func (repo *MongoResourceRepo) GetByID(ctx context.Context, id string) (*models.Resource, error) {
	var res models.Resource
	if err := repo.coll.FindOne(ctx, bson.M{"id": id}).Decode(&res); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching resource %s: %w", id, err)
	}
	return &res, nil
}

// ListByKind returns all resources of the given kind.
func (repo *MongoResourceRepo) ListByKind(ctx context.Context, kind string) ([]models.Resource, error) {
	cursor, err := repo.coll.Find(ctx, bson.M{"kind": kind})
	if err != nil {
		return nil, fmt.Errorf("error listing resources of kind %s: %w", kind, err)
	}
	defer cursor.Close(ctx)

	var resources []models.Resource
	for cursor.Next(ctx) {
		var r models.Resource
		if err := cursor.Decode(&r); err != nil {
			return nil, fmt.Errorf("error decoding resource: %w", err)
		}
		resources = append(resources, r)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return resources, nil
}

// EnsureIndexes creates the necessary indexes on the resources collection.
func (repo *MongoResourceRepo) EnsureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "kind", Value: 1}}, Options: options.Index().SetName("kind_idx")},
	}
	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create resource indexes: %w", err)
	}
	return nil
}
