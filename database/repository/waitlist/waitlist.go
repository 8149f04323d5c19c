package waitlistRepo

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
	// ErrNotFound means no waitlist entry matched the id.
	ErrNotFound = errors.New("waitlist entry not found")
	// ErrStale means the compare-and-swap precondition (status, version) no longer holds.
	ErrStale = errors.New("waitlist entry changed concurrently")
)

// OfferFields carries the offer slot written when an entry moves to Offered.
type OfferFields struct {
	ExpiresAt      time.Time
	OfferedStart   time.Time
	OfferedStaffID string
}

// WaitlistRepository is the persistence boundary for waitlist entries.
type WaitlistRepository interface {
	Insert(ctx context.Context, entry *models.WaitlistEntry) error
	GetByID(ctx context.Context, id string) (*models.WaitlistEntry, error)
	// FindWaitingByStaff returns Waiting entries eligible for the staff member
	// (concrete id or "any") whose desired range intersects rng, FIFO by
	// created_at.
	FindWaitingByStaff(ctx context.Context, staffID string, rng models.TimeRange) ([]models.WaitlistEntry, error)
	// TransitionStatus atomically moves an entry between states under the
	// optimistic version counter. offer must be non-nil when moving to
	// Offered and is cleared when moving away from it.
	TransitionStatus(ctx context.Context, id, from, to string, expectedVersion int, offer *OfferFields) (*models.WaitlistEntry, error)
	FindExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error)
	// FindLapsedWaiting returns Waiting entries whose desired range lies
	// wholly in the past.
	FindLapsedWaiting(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error)
	EnsureIndexes() error
}

// MongoWaitlistRepo implements WaitlistRepository using MongoDB.
type MongoWaitlistRepo struct {
	coll *mongo.Collection
}

// NewMongoWaitlistRepo constructs a new instance of MongoWaitlistRepo.
func NewMongoWaitlistRepo() WaitlistRepository {
	return &MongoWaitlistRepo{
		coll: database.DB().Collection("waitlist_entries"),
	}
}

// Insert appends a new entry to its FIFO queue.
func (repo *MongoWaitlistRepo) Insert(ctx context.Context, entry *models.WaitlistEntry) error {
	if _, err := repo.coll.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("error inserting waitlist entry: %w", err)
	}
	return nil
}

// GetByID retrieves a waitlist entry by ID.
func (repo *MongoWaitlistRepo) GetByID(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	var entry models.WaitlistEntry
	if err := repo.coll.FindOne(ctx, bson.M{"id": id}).Decode(&entry); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching waitlist entry %s: %w", id, err)
	}
	return &entry, nil
}

// FindWaitingByStaff scans the Waiting queue in FIFO order.
func (repo *MongoWaitlistRepo) FindWaitingByStaff(ctx context.Context, staffID string, rng models.TimeRange) ([]models.WaitlistEntry, error) {
	filter := bson.M{
		"status":              models.WaitlistWaiting,
		"staff_id":            bson.M{"$in": bson.A{staffID, models.StaffAny}},
		"desired_range.start": bson.M{"$lt": rng.End},
		"desired_range.end":   bson.M{"$gt": rng.Start},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return repo.findAll(ctx, filter, opts)
}

// TransitionStatus performs the optimistic-lock status move.
func (repo *MongoWaitlistRepo) TransitionStatus(ctx context.Context, id, from, to string, expectedVersion int, offer *OfferFields) (*models.WaitlistEntry, error) {
	filter := bson.M{
		"id":      id,
		"status":  from,
		"version": expectedVersion,
	}

	set := bson.M{"status": to}
	update := bson.M{"$set": set, "$inc": bson.M{"version": 1}}
	if to == models.WaitlistOffered {
		if offer == nil {
			return nil, fmt.Errorf("offer fields required when transitioning to Offered")
		}
		set["offer_expires_at"] = offer.ExpiresAt
		set["offered_start"] = offer.OfferedStart
		set["offered_staff_id"] = offer.OfferedStaffID
	} else if to == models.WaitlistWaiting {
		// Requeued from Offered (lapsed) or Converted (booking lost a race):
		// the entry keeps its queue position but counts the miss.
		update["$unset"] = bson.M{
			"offer_expires_at": "",
			"offered_start":    "",
			"offered_staff_id": "",
		}
		update["$inc"] = bson.M{"version": 1, "missed_offers": 1}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.WaitlistEntry
	err := repo.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, getErr := repo.GetByID(ctx, id); errors.Is(getErr, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, ErrStale
		}
		return nil, fmt.Errorf("error transitioning waitlist entry %s: %w", id, err)
	}
	return &updated, nil
}

// FindExpiredOffers returns Offered entries whose deadline has passed.
func (repo *MongoWaitlistRepo) FindExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	filter := bson.M{
		"status":           models.WaitlistOffered,
		"offer_expires_at": bson.M{"$lte": now},
	}
	opts := options.Find().SetSort(bson.D{{Key: "offer_expires_at", Value: 1}})
	return repo.findAll(ctx, filter, opts)
}

// FindLapsedWaiting returns Waiting entries that can never match again.
func (repo *MongoWaitlistRepo) FindLapsedWaiting(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	filter := bson.M{
		"status":            models.WaitlistWaiting,
		"desired_range.end": bson.M{"$lte": now},
	}
	return repo.findAll(ctx, filter, nil)
}

func (repo *MongoWaitlistRepo) findAll(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.WaitlistEntry, error) {
	var cursor *mongo.Cursor
	var err error
	if opts != nil {
		cursor, err = repo.coll.Find(ctx, filter, opts)
	} else {
		cursor, err = repo.coll.Find(ctx, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("error finding waitlist entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []models.WaitlistEntry
	for cursor.Next(ctx) {
		var e models.WaitlistEntry
		if err := cursor.Decode(&e); err != nil {
			return nil, fmt.Errorf("error decoding waitlist entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return entries, nil
}

// EnsureIndexes creates the necessary indexes on the waitlist collection.
func (repo *MongoWaitlistRepo) EnsureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "staff_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("status_staff_fifo_idx"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "offer_expires_at", Value: 1}},
			Options: options.Index().SetName("status_offer_expiry_idx"),
		},
	}
	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create waitlist indexes: %w", err)
	}
	return nil
}
