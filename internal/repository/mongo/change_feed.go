package mongo

import (
	"alcyxob/fitness-calendar/internal/repository"
	"context"
	"errors"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// workoutChangeFeed implements repository.ChangeFeed on top of a change
// stream over the workouts collection. Change streams need a replica set;
// on a standalone server Watch fails and callers fall back to broadcasts.
type workoutChangeFeed struct {
	collection *mongo.Collection
}

// NewWorkoutChangeFeed creates a change feed for the workouts collection.
func NewWorkoutChangeFeed(db *mongo.Database) repository.ChangeFeed {
	return &workoutChangeFeed{collection: db.Collection(workoutCollectionName)}
}

// Watch opens a change stream matching the scope and calls onChange for every
// insert, update or replace. Events carry no diff for the listener.
func (f *workoutChangeFeed) Watch(ctx context.Context, filter repository.WorkoutFilter, onChange func()) error {
	if filter.IsEmpty() {
		return nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType": bson.M{"$in": bson.A{"insert", "update", "replace"}},
		}}},
		{{Key: "$match", Value: workoutFilterDoc(filter, "fullDocument.")}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := f.collection.Watch(ctx, pipeline, opts)
	if err != nil {
		return err
	}

	go func() {
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			onChange()
		}
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("WARN: workout change stream stopped: %v", err)
		}
	}()
	return nil
}
