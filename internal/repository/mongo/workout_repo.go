// internal/repository/mongo/workout_repo.go
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

const workoutCollectionName = "workouts"

// mongoWorkoutRepository implements repository.WorkoutRepository
type mongoWorkoutRepository struct {
	collection *mongo.Collection
	ids        sequence
}

// NewMongoWorkoutRepository creates a new Workout repository.
func NewMongoWorkoutRepository(db *mongo.Database) repository.WorkoutRepository {
	return &mongoWorkoutRepository{
		collection: db.Collection(workoutCollectionName),
		ids:        newSequence(db, workoutCollectionName),
	}
}

// Create inserts a new workout and returns its freshly allocated id.
func (r *mongoWorkoutRepository) Create(ctx context.Context, workout *domain.Workout) (int64, error) {
	if workout.ProgramID == 0 || workout.UserID == 0 || workout.Name == "" {
		return 0, errors.New("workout requires programId, userId, and name")
	}
	id, err := r.ids.next(ctx)
	if err != nil {
		return 0, err
	}
	workout.ID = id
	now := time.Now().UTC()
	workout.CreatedAt = now
	workout.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, workout); err != nil {
		return 0, err
	}
	return id, nil
}

// GetByID retrieves a single workout by its ID.
func (r *mongoWorkoutRepository) GetByID(ctx context.Context, id int64) (*domain.Workout, error) {
	var workout domain.Workout
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&workout)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &workout, nil
}

// Find retrieves every workout in the scope, ordered by scheduled date then id.
func (r *mongoWorkoutRepository) Find(ctx context.Context, filter repository.WorkoutFilter) ([]domain.Workout, error) {
	if filter.IsEmpty() {
		return []domain.Workout{}, nil
	}
	findOptions := options.Find().SetSort(bson.D{{Key: "scheduledDate", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, workoutFilterDoc(filter, ""), findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	workouts := []domain.Workout{}
	if err = cursor.All(ctx, &workouts); err != nil {
		return nil, err
	}
	return workouts, nil
}

// SetScheduledDate writes scheduledDate (nil unschedules) and returns the updated row.
func (r *mongoWorkoutRepository) SetScheduledDate(ctx context.Context, id int64, scheduled *string) (*domain.Workout, error) {
	update := bson.M{
		"$set": bson.M{
			"scheduledDate": scheduled,
			"updatedAt":     time.Now().UTC(),
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var workout domain.Workout
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&workout)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &workout, nil
}

// workoutFilterDoc renders a scope filter; prefix addresses nested documents
// such as the "fullDocument." of a change event.
func workoutFilterDoc(f repository.WorkoutFilter, prefix string) bson.M {
	or := bson.A{}
	if len(f.ProgramIDs) > 0 {
		or = append(or, bson.M{prefix + "programId": bson.M{"$in": f.ProgramIDs}})
	}
	if f.UserID != nil {
		or = append(or, bson.M{prefix + "userId": *f.UserID})
	}
	return bson.M{"$or": or}
}

// EnsureWorkoutIndexes creates necessary indexes. Call during startup.
func EnsureWorkoutIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			// Program calendars, sorted by day
			Keys:    bson.D{{Key: "programId", Value: 1}, {Key: "scheduledDate", Value: 1}},
			Options: options.Index(),
		},
		{
			// Athlete calendars across programs
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "scheduledDate", Value: 1}},
			Options: options.Index(),
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Printf("WARN: Failed to create indexes for collection %s: %v", collection.Name(), err)
	}
}
