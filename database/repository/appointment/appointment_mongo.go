package appointmentRepo

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

// MongoAppointmentRepo implements AppointmentRepository using MongoDB.
type MongoAppointmentRepo struct {
	coll *mongo.Collection
}

// NewMongoAppointmentRepo constructs a new instance of MongoAppointmentRepo.
func NewMongoAppointmentRepo() AppointmentRepository {
	return &MongoAppointmentRepo{
		coll: database.DB().Collection("appointments"),
	}
}

func newContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// Insert commits a new appointment document. The unique partial index on
// (staff_id, slot_key) over Confirmed documents turns a lost race into a
// duplicate-key error, reported as ErrDuplicateSlot.
func (repo *MongoAppointmentRepo) Insert(ctx context.Context, appt *models.Appointment) error {
	_, err := repo.coll.InsertOne(ctx, appt)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("error inserting appointment: %w", err)
	}
	return nil
}

// GetByID retrieves an appointment document by ID.
func (repo *MongoAppointmentRepo) GetByID(ctx context.Context, id string) (*models.Appointment, error) {
	var appt models.Appointment
	filter := bson.M{"id": id}
	if err := repo.coll.FindOne(ctx, filter).Decode(&appt); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching appointment with id %s: %w", id, err)
	}
	return &appt, nil
}

// FindConfirmedOverlapping queries by the denormalized buffered bounds so the
// exclusion-zone overlap check is a single indexed range scan.
func (repo *MongoAppointmentRepo) FindConfirmedOverlapping(ctx context.Context, staffID string, rng models.TimeRange) ([]models.Appointment, error) {
	filter := bson.M{
		"staff_id":       staffID,
		"status":         models.StatusConfirmed,
		"buffered_start": bson.M{"$lt": rng.End},
		"buffered_end":   bson.M{"$gt": rng.Start},
	}
	return repo.findAll(ctx, filter, nil)
}

// FindConfirmedForResource checks raw intervals: buffers occupy staff time,
// not resource capacity.
func (repo *MongoAppointmentRepo) FindConfirmedForResource(ctx context.Context, resourceID string, rng models.TimeRange) ([]models.Appointment, error) {
	filter := bson.M{
		"resource_id": resourceID,
		"status":      models.StatusConfirmed,
		"start_time":  bson.M{"$lt": rng.End},
		"end_time":    bson.M{"$gt": rng.Start},
	}
	return repo.findAll(ctx, filter, nil)
}

// TransitionStatus performs the optimistic-lock status move. Documents moving
// back to Confirmed (reschedule abort) get their cancellation fields cleared.
func (repo *MongoAppointmentRepo) TransitionStatus(ctx context.Context, id, from, to string, expectedVersion int, fields TransitionFields) (*models.Appointment, error) {
	filter := bson.M{
		"id":      id,
		"status":  from,
		"version": expectedVersion,
	}

	set := bson.M{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if fields.CancelReason != "" {
		set["cancel_reason"] = fields.CancelReason
	}
	if fields.CancelledBy != "" {
		set["cancelled_by"] = fields.CancelledBy
	}
	if fields.FeeChargedCents != 0 {
		set["fee_charged_cents"] = fields.FeeChargedCents
	}
	if fields.CancelledAt != nil {
		set["cancelled_at"] = *fields.CancelledAt
	}

	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	if to == models.StatusConfirmed {
		update["$unset"] = bson.M{
			"cancel_reason": "",
			"cancelled_by":  "",
			"cancelled_at":  "",
		}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Appointment
	err := repo.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Distinguish a missing document from a lost CAS.
			if _, getErr := repo.GetByID(ctx, id); errors.Is(getErr, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, ErrStale
		}
		return nil, fmt.Errorf("error transitioning appointment %s: %w", id, err)
	}
	return &updated, nil
}

// ListByCustomer returns a customer's appointments, newest first.
func (repo *MongoAppointmentRepo) ListByCustomer(ctx context.Context, customerID string, limit int64) ([]models.Appointment, error) {
	filter := bson.M{"customer_id": customerID}
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	return repo.findAll(ctx, filter, opts)
}

// ListConfirmedByStaffDay returns the staff member's confirmed schedule for a day.
func (repo *MongoAppointmentRepo) ListConfirmedByStaffDay(ctx context.Context, staffID string, day models.TimeRange) ([]models.Appointment, error) {
	filter := bson.M{
		"staff_id":   staffID,
		"status":     models.StatusConfirmed,
		"start_time": bson.M{"$gte": day.Start, "$lt": day.End},
	}
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}})
	return repo.findAll(ctx, filter, opts)
}

// CountConfirmedByType reports confirmed references to an appointment type.
func (repo *MongoAppointmentRepo) CountConfirmedByType(ctx context.Context, typeID string) (int64, error) {
	filter := bson.M{"appointment_type_id": typeID, "status": models.StatusConfirmed}
	n, err := repo.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("error counting appointments for type %s: %w", typeID, err)
	}
	return n, nil
}

func (repo *MongoAppointmentRepo) findAll(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Appointment, error) {
	var cursor *mongo.Cursor
	var err error
	if opts != nil {
		cursor, err = repo.coll.Find(ctx, filter, opts)
	} else {
		cursor, err = repo.coll.Find(ctx, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("error finding appointments: %w", err)
	}
	defer cursor.Close(ctx)

	var appts []models.Appointment
	for cursor.Next(ctx) {
		var a models.Appointment
		if err := cursor.Decode(&a); err != nil {
			return nil, fmt.Errorf("error decoding appointment: %w", err)
		}
		appts = append(appts, a)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return appts, nil
}
