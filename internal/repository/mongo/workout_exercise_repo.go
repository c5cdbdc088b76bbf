package mongo

import (
	"alcyxob/fitness-calendar/internal/domain"
	"alcyxob/fitness-calendar/internal/repository"
	"context"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const workoutExerciseCollectionName = "workout_exercises"

// mongoWorkoutExerciseRepository implements repository.WorkoutExerciseRepository
type mongoWorkoutExerciseRepository struct {
	collection *mongo.Collection
	ids        sequence
}

// NewMongoWorkoutExerciseRepository creates a repository for a workout's child exercise rows.
func NewMongoWorkoutExerciseRepository(db *mongo.Database) repository.WorkoutExerciseRepository {
	return &mongoWorkoutExerciseRepository{
		collection: db.Collection(workoutExerciseCollectionName),
		ids:        newSequence(db, workoutExerciseCollectionName),
	}
}

// GetByWorkoutID retrieves all exercise rows of a workout, ordered by sequence.
func (r *mongoWorkoutExerciseRepository) GetByWorkoutID(ctx context.Context, workoutID int64) ([]domain.WorkoutExercise, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"workoutId": workoutID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	exercises := []domain.WorkoutExercise{}
	if err = cursor.All(ctx, &exercises); err != nil {
		return nil, err
	}
	return exercises, nil
}

// CreateMany bulk-inserts rows with an ordered insert, so on failure every row
// before the first write error is known to be stored.
func (r *mongoWorkoutExerciseRepository) CreateMany(ctx context.Context, exercises []domain.WorkoutExercise) ([]domain.WorkoutExercise, error) {
	if len(exercises) == 0 {
		return []domain.WorkoutExercise{}, nil
	}
	for _, e := range exercises {
		if e.WorkoutID == 0 || e.ExerciseName == "" {
			return nil, errors.New("workout exercise requires workoutId and exerciseName")
		}
	}

	first, err := r.ids.reserve(ctx, len(exercises))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rows := make([]domain.WorkoutExercise, len(exercises))
	docs := make([]interface{}, len(exercises))
	for i, e := range exercises {
		e.ID = first + int64(i)
		e.CreatedAt = now
		rows[i] = e
		docs[i] = e
	}

	_, err = r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		inserted := 0
		var bulkErr mongo.BulkWriteException
		if errors.As(err, &bulkErr) && len(bulkErr.WriteErrors) > 0 {
			inserted = bulkErr.WriteErrors[0].Index
		}
		return rows[:inserted], err
	}
	return rows, nil
}

// EnsureWorkoutExerciseIndexes creates necessary indexes for the child rows.
func EnsureWorkoutExerciseIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			// Fetch a workout's exercises in order
			Keys:    bson.D{{Key: "workoutId", Value: 1}, {Key: "sequence", Value: 1}},
			Options: options.Index(),
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Printf("WARN: Failed to create indexes for collection %s: %v", collection.Name(), err)
	}
}
