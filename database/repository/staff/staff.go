package staffRepo

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

// ErrNotFound means no staff profile matched the id.
var ErrNotFound = errors.New("staff profile not found")

// StaffRepository stores read-only staff profile snapshots consumed from the
// admin layer.
type StaffRepository interface {
	Upsert(ctx context.Context, staff *models.StaffProfile) error
	GetByID(ctx context.Context, id string) (*models.StaffProfile, error)
	EnsureIndexes() error
}

// MongoStaffRepo implements StaffRepository using MongoDB.
type MongoStaffRepo struct {
	coll *mongo.Collection
}

// NewMongoStaffRepo constructs a new instance of MongoStaffRepo.
func NewMongoStaffRepo() StaffRepository {
	return &MongoStaffRepo{
		coll: database.DB().Collection("staff_profiles"),
	}
}

// Upsert replaces the stored snapshot for the staff member.
func (repo *MongoStaffRepo) Upsert(ctx context.Context, staff *models.StaffProfile) error {
	staff.UpdatedAt = time.Now().UTC()
	filter := bson.M{"id": staff.ID}
	opts := options.Replace().SetUpsert(true)
	if _, err := repo.coll.ReplaceOne(ctx, filter, staff, opts); err != nil {
		return fmt.Errorf("error upserting staff profile %s: %w", staff.ID, err)
	}
	return nil
}

// GetByID retrieves a staff profile snapshot by ID.
func (repo *MongoStaffRepo) GetByID(ctx context.Context, id string) (*models.StaffProfile, error) {
	var staff models.StaffProfile
	if err := repo.coll.FindOne(ctx, bson.M{"id": id}).Decode(&staff); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching staff profile %s: %w", id, err)
	}
	return &staff, nil
}

// EnsureIndexes creates the necessary indexes on the staff collection.
func (repo *MongoStaffRepo) EnsureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create staff indexes: %w", err)
	}
	return nil
}
