// Package catalogRepo stores the service catalog: appointment type
// definitions and the booking policies that govern them.
package catalogRepo

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

var (
	// ErrNotFound means no catalog document matched.
	ErrNotFound = errors.New("catalog entry not found")
)

// CatalogRepository is the read/write boundary for appointment types and
// booking policies.
type CatalogRepository interface {
	InsertType(ctx context.Context, t *models.AppointmentType) error
	GetType(ctx context.Context, id string) (*models.AppointmentType, error)
	UpsertPolicy(ctx context.Context, p *models.BookingPolicy) error
	// PolicyForType resolves the effective policy: a per-type policy wins
	// over the business-wide one (empty appointment_type_id).
	PolicyForType(ctx context.Context, typeID string) (*models.BookingPolicy, error)
	EnsureIndexes() error
}

// MongoCatalogRepo implements CatalogRepository using MongoDB.
type MongoCatalogRepo struct {
	typeColl   *mongo.Collection
	policyColl *mongo.Collection
}

// NewMongoCatalogRepo constructs a new instance of MongoCatalogRepo.
func NewMongoCatalogRepo() CatalogRepository {
	db := database.DB()
	return &MongoCatalogRepo{
		typeColl:   db.Collection("appointment_types"),
		policyColl: db.Collection("booking_policies"),
	}
}

// InsertType stores a new appointment type definition. Types are immutable:
// a second insert with the same id fails, callers publish a new id instead.
func (repo *MongoCatalogRepo) InsertType(ctx context.Context, t *models.AppointmentType) error {
	t.CreatedAt = time.Now().UTC()
	if _, err := repo.typeColl.InsertOne(ctx, t); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("appointment type %s already exists; publish a new id for changed definitions", t.ID)
		}
		return fmt.Errorf("error inserting appointment type %s: %w", t.ID, err)
	}
	return nil
}

// GetType retrieves an appointment type by ID.
func (repo *MongoCatalogRepo) GetType(ctx context.Context, id string) (*models.AppointmentType, error) {
	var t models.AppointmentType
	if err := repo.typeColl.FindOne(ctx, bson.M{"id": id}).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching appointment type %s: %w", id, err)
	}
	return &t, nil
}

// UpsertPolicy replaces the stored policy snapshot.
func (repo *MongoCatalogRepo) UpsertPolicy(ctx context.Context, p *models.BookingPolicy) error {
	p.UpdatedAt = time.Now().UTC()
	filter := bson.M{"id": p.ID}
	opts := options.Replace().SetUpsert(true)
	if _, err := repo.policyColl.ReplaceOne(ctx, filter, p, opts); err != nil {
		return fmt.Errorf("error upserting booking policy %s: %w", p.ID, err)
	}
	return nil
}

// PolicyForType resolves the effective policy for an appointment type.
func (repo *MongoCatalogRepo) PolicyForType(ctx context.Context, typeID string) (*models.BookingPolicy, error) {
	var p models.BookingPolicy
	err := repo.policyColl.FindOne(ctx, bson.M{"appointment_type_id": typeID}).Decode(&p)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("error fetching policy for type %s: %w", typeID, err)
	}

	// Fall back to the business-wide policy.
	err = repo.policyColl.FindOne(ctx, bson.M{"appointment_type_id": bson.M{"$in": bson.A{"", nil}}}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching business-wide policy: %w", err)
	}
	return &p, nil
}

// EnsureIndexes creates the necessary indexes on the catalog collections.
func (repo *MongoCatalogRepo) EnsureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := repo.typeColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("failed to create appointment type indexes: %w", err)
	}
	if _, err := repo.policyColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "appointment_type_id", Value: 1}}, Options: options.Index().SetName("policy_type_idx")},
	}); err != nil {
		return fmt.Errorf("failed to create booking policy indexes: %w", err)
	}
	return nil
}
