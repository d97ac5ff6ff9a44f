// Package mongo provides a MongoDB store using the official driver v2. The
// pending→running claim uses FindOneAndUpdate, whose single-document
// atomicity prevents double-delivery across scheduler instances.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/pageforge/chrono/store"
)

// colJobs is the jobs collection name.
const colJobs = "chrono_jobs"

var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store. The caller owns the
// *mongo.Client lifecycle; Store never disconnects it.
type Store struct {
	client *mongod.Client
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store on the given database. The caller owns
// the client lifecycle -- the Store will not disconnect it on Close().
func New(client *mongod.Client, database string, opts ...Option) *Store {
	s := &Store{
		client: client,
		db:     client.Database(database),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the indexes backing claim, list, and cleanup queries.
func (s *Store) Migrate(ctx context.Context) error {
	models := []mongod.IndexModel{
		// Claim index: status + kind + priority + next_run_at.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "kind", Value: 1},
			{Key: "priority", Value: -1},
			{Key: "next_run_at", Value: 1},
		}},
		{Keys: bson.D{{Key: "name", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "updated_at", Value: 1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
	}

	if _, err := s.db.Collection(colJobs).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("chrono/mongo: migrate %s indexes: %w", colJobs, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// Database returns the underlying *mongo.Database for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// jobs returns the jobs collection.
func (s *Store) jobs() *mongod.Collection {
	return s.db.Collection(colJobs)
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}
