// Package app wires configuration to concrete repositories for the binaries.
package app

import (
	"alcyxob/fitness-calendar/internal/config"
	"alcyxob/fitness-calendar/internal/repository"
	"alcyxob/fitness-calendar/internal/repository/memory"
	"alcyxob/fitness-calendar/internal/repository/mongo"
	"context"
	"log"
	"time"
)

// Stores bundles the repositories a calendar process needs.
type Stores struct {
	Workouts  repository.WorkoutRepository
	Exercises repository.WorkoutExerciseRepository
	Programs  repository.ProgramRepository
	Users     repository.UserRepository
	// Feed is nil when change notifications are disabled.
	Feed repository.ChangeFeed

	close func()
}

// Close releases the database connection.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStores connects to MongoDB, or builds an empty in-memory store when
// the database URI is config.MemoryDatabaseURI.
func OpenStores(cfg config.Config) (*Stores, error) {
	if cfg.Database.URI == config.MemoryDatabaseURI {
		log.Println("INFO: Using in-memory store; data is lost on exit.")
		store := memory.NewStore()
		s := &Stores{
			Workouts:  store.Workouts(),
			Exercises: store.Exercises(),
			Programs:  store.Programs(),
			Users:     store.Users(),
		}
		if cfg.Sync.ChangeFeed {
			s.Feed = store.Feed()
		}
		return s, nil
	}

	timeout := cfg.Database.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), timeout)
	client, err := mongo.Connect(connectCtx, cfg.Database.URI)
	cancelConnect()
	if err != nil {
		return nil, err
	}
	db := client.Database(cfg.Database.Name)
	log.Println("INFO: Database connection established.")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	mongo.EnsureIndexes(ctx, db)
	cancel()

	s := &Stores{
		Workouts:  mongo.NewMongoWorkoutRepository(db),
		Exercises: mongo.NewMongoWorkoutExerciseRepository(db),
		Programs:  mongo.NewMongoProgramRepository(db),
		Users:     mongo.NewMongoUserRepository(db),
		close: func() {
			log.Println("INFO: Disconnecting MongoDB...")
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := mongo.Disconnect(ctx, client); err != nil {
				log.Printf("ERROR: Failed to disconnect MongoDB: %v", err)
			}
		},
	}
	if cfg.Sync.ChangeFeed {
		s.Feed = mongo.NewWorkoutChangeFeed(db)
	}
	return s, nil
}
