package pages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"dragnet/pkg/logging"
)

const (
	// DatabaseName is the crawler's document database.
	DatabaseName = "crawler"

	// CollectionName holds one record per known page.
	CollectionName = "pages"
)

// Page is the canonical document-store record for a crawled URL.
// first never moves after insert; last and sha256 move on every visit.
type Page struct {
	URL    string    `bson:"url"`
	First  time.Time `bson:"first"`
	Last   time.Time `bson:"last"`
	SHA256 string    `bson:"sha256"`
	UUID   string    `bson:"uuid"`
}

// Store wraps the pages collection with the crawl pipeline's operations.
// Writes and the recency read can ride separate connections; staleness on
// the read side only costs a redundant crawl, which the idempotent upsert
// absorbs.
type Store struct {
	writeColl *mongo.Collection
	readColl  *mongo.Collection
	logger    logging.Logger
	metrics   *Metrics
}

// NewStore creates a pages store. Pass the same client twice when the
// deployment has no read replica. Metrics may be nil.
func NewStore(write, read *mongo.Client, logger logging.Logger, metrics *Metrics) *Store {
	return &Store{
		writeColl: write.Database(DatabaseName).Collection(CollectionName),
		readColl:  read.Database(DatabaseName).Collection(CollectionName),
		logger:    logger,
		metrics:   metrics,
	}
}

// EnsureIndexes creates the collection's index set: unique url plus
// non-unique first/last/sha256. Safe to call on every boot.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "url", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "first", Value: 1}}},
		{Keys: bson.D{{Key: "last", Value: 1}}},
		{Keys: bson.D{{Key: "sha256", Value: 1}}},
	}

	names, err := s.writeColl.Indexes().CreateMany(ctx, models)
	if err != nil {
		return fmt.Errorf("failed to create page indexes: %w", err)
	}
	s.logger.WithField("indexes", names).Info("Page indexes ensured")
	return nil
}

// SeenSince reports whether the URL was last visited after the given time.
// A limit-1 count hinted to the unique url index keeps the recency gate a
// single index probe.
func (s *Store) SeenSince(ctx context.Context, url string, since time.Time) (seen bool, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("seen_since", start, err) }()

	opts := options.Count().SetLimit(1).SetHint(urlIndexHint())
	n, err := s.readColl.CountDocuments(ctx, recencyFilter(url, since), opts)
	if err != nil {
		return false, fmt.Errorf("failed to check page recency: %w", err)
	}
	return n > 0, nil
}

// Upsert records a visit and returns the page's stable uuid. The update is
// idempotent: first and uuid are written only on insert, last and sha256 on
// every call, so redelivered crawls converge on the same document.
func (s *Store) Upsert(ctx context.Context, url, sum string, now time.Time) (id string, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("upsert", start, err) }()

	id = uuid.NewString()
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: "uuid", Value: 1}}).
		SetHint(urlIndexHint())

	var projected struct {
		UUID string `bson:"uuid"`
	}
	err = s.writeColl.FindOneAndUpdate(ctx, upsertFilter(url), upsertUpdate(id, sum, now), opts).Decode(&projected)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Post-image projection means this should not happen; fall back to
		// the id we just offered the insert.
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to upsert page: %w", err)
	}
	return projected.UUID, nil
}

// Touch records a visit without needing the uuid back. Used for pages whose
// extracted body is empty: the visit must land in the store even though no
// vector will be written.
func (s *Store) Touch(ctx context.Context, url, sum string, now time.Time) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("touch", start, err) }()

	opts := options.UpdateOne().SetUpsert(true).SetHint(urlIndexHint())
	if _, err = s.writeColl.UpdateOne(ctx, upsertFilter(url), upsertUpdate(uuid.NewString(), sum, now), opts); err != nil {
		return fmt.Errorf("failed to upsert page: %w", err)
	}
	return nil
}

func urlIndexHint() bson.D {
	return bson.D{{Key: "url", Value: 1}}
}

func recencyFilter(url string, since time.Time) bson.D {
	return bson.D{
		{Key: "url", Value: url},
		{Key: "last", Value: bson.D{{Key: "$gt", Value: since}}},
	}
}

func upsertFilter(url string) bson.D {
	return bson.D{{Key: "url", Value: url}}
}

// upsertUpdate builds the idempotent visit update. The url is not part of
// the update document: it enters the insert through the filter.
func upsertUpdate(id, sum string, now time.Time) bson.D {
	return bson.D{
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "first", Value: now},
			{Key: "uuid", Value: id},
		}},
		{Key: "$set", Value: bson.D{
			{Key: "last", Value: now},
			{Key: "sha256", Value: sum},
		}},
	}
}
