package appointmentRepo

import (
	"fmt"
	"time"

	"appointqix/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the necessary indexes on the appointments collection.
func (repo *MongoAppointmentRepo) EnsureIndexes() error {
	ctx, cancel := newContext(10 * time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		// Unique index on appointment ID.
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_id"),
		},
		// Canonical slot key, unique among Confirmed documents only. This is
		// the database-level backstop for the no-double-booking invariant:
		// two racing Confirmed inserts for the same (staff, start) collide here.
		{
			Keys: bson.D{{Key: "staff_id", Value: 1}, {Key: "slot_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("unique_confirmed_slot_key").
				SetPartialFilterExpression(bson.D{{Key: "status", Value: models.StatusConfirmed}}),
		},
		// Overlap scans over buffered exclusion zones.
		{
			Keys:    bson.D{{Key: "staff_id", Value: 1}, {Key: "status", Value: 1}, {Key: "buffered_start", Value: 1}, {Key: "buffered_end", Value: 1}},
			Options: options.Index().SetName("staff_status_buffered_idx"),
		},
		// Resource capacity scans over raw intervals.
		{
			Keys:    bson.D{{Key: "resource_id", Value: 1}, {Key: "status", Value: 1}, {Key: "start_time", Value: 1}},
			Options: options.Index().SetName("resource_status_start_idx"),
		},
		{
			Keys:    bson.D{{Key: "customer_id", Value: 1}, {Key: "start_time", Value: -1}},
			Options: options.Index().SetName("customer_start_idx"),
		},
	}

	_, err := repo.coll.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create appointment indexes: %w", err)
	}
	return nil
}
