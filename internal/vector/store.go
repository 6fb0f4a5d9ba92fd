package vector

import (
	"context"
	"fmt"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"dragnet/pkg/clients"
	"dragnet/pkg/logging"
)

// CollectionName holds one point per embedded page, keyed by the page's uuid.
const CollectionName = "pages"

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Match is a similarity hit mapped back to page identity. Title is empty
// when the page had no <title> at index time.
type Match struct {
	URL   string
	Title string
	Score float32
}

// pointsAPI and collectionsAPI are the slices of the generated qdrant
// clients the store touches. Tests substitute fakes.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store owns all vector index operations.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	dim         uint64
	logger      logging.Logger
	metrics     *Metrics
}

// Config configures the vector store connection.
type Config struct {
	// Addr is the qdrant gRPC address (host:port).
	Addr string

	// Dim is the embedding dimension the collection is created with.
	Dim int

	Logger logging.Logger

	// Executor tunes retry and circuit breaking on the connection.
	// Nil means the default bounded retry policy.
	Executor *clients.GRPCExecutorConfig

	// Metrics is optional; nil disables collection.
	Metrics *Metrics
}

// NewStore dials the vector index. The connection is lazy; failures show up
// on the first call, or at boot via EnsureCollection.
func NewStore(cfg Config) (*Store, error) {
	exec := clients.DefaultGRPCExecutorConfig()
	if cfg.Executor != nil {
		exec = *cfg.Executor
	}
	if exec.Logger == nil {
		exec.Logger = cfg.Logger
	}

	conn, err := grpc.NewClient(cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		clients.WithGRPCFailsafe(exec),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial vector index at %s: %w", cfg.Addr, err)
	}

	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		dim:         uint64(cfg.Dim),
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureCollection creates the pages collection if it does not exist yet.
// Cosine distance over vectors of the configured dimension.
func (s *Store) EnsureCollection(ctx context.Context) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list vector collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == CollectionName {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: CollectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     s.dim,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create vector collection %s: %w", CollectionName, err)
	}
	s.logger.WithFields(logging.Fields{
		"collection": CollectionName,
		"dim":        s.dim,
	}).Info("Vector collection created")
	return nil
}

// Upsert writes one point keyed by the page uuid. A revisit overwrites the
// previous vector for the same uuid. The call waits for the write to apply
// so a crawl response never races its own index entry.
func (s *Store) Upsert(ctx context.Context, id string, embedding []float32, url, title string) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("upsert", start, err) }()

	payload := map[string]*pb.Value{
		"url": {Kind: &pb.Value_StringValue{StringValue: url}},
	}
	if title != "" {
		payload["title"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: title}}
	}

	wait := true
	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: CollectionName,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: id},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: embedding},
				},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert vector point %s: %w", id, err)
	}
	return nil
}

// Search runs nearest-neighbour search and maps hits back to pages.
// A zero limit means 10; anything above 50 is clamped. Hits missing the url
// payload are dropped: without a url the caller has nothing to show.
func (s *Store) Search(ctx context.Context, embedding []float32, limit, offset uint64) (matches []Match, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("search", start, err) }()

	if limit == 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: CollectionName,
		Vector:         embedding,
		Limit:          limit,
		Offset:         &offset,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search vector index: %w", err)
	}

	matches = make([]Match, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		payload := p.GetPayload()
		url := payload["url"].GetStringValue()
		if url == "" {
			s.logger.WithField("point_id", p.GetId().GetUuid()).Warn("Dropping search hit without url payload")
			continue
		}
		matches = append(matches, Match{
			URL:   url,
			Title: payload["title"].GetStringValue(),
			Score: p.GetScore(),
		})
	}
	return matches, nil
}
