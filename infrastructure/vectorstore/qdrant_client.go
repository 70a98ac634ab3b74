package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"

	"legal-snippets/domain"
)

const (
	tagsField      = "tags"
	snippetIDField = "snippet_id"

	defaultSearchLimit = 100
)

// QdrantIndex implements the domain.VectorIndex interface using Qdrant.
// Points are keyed by snippet id and carry the snippet's tags as payload.
type QdrantIndex struct {
	conn           *grpc.ClientConn
	client         qdrant.PointsClient
	collectionName string
	logger         *slog.Logger
}

var _ domain.VectorIndex = (*QdrantIndex)(nil)

// NewQdrantIndex connects to the Qdrant gRPC endpoint at addr and makes sure
// the collection exists with the given vector size.
func NewQdrantIndex(ctx context.Context, addr, collectionName string, dimensions int, logger *slog.Logger) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("could not connect to Qdrant: %w", err)
	}

	index := &QdrantIndex{
		conn:           conn,
		client:         qdrant.NewPointsClient(conn),
		collectionName: collectionName,
		logger:         logger,
	}

	if err := index.ensureCollectionExists(ctx, qdrant.NewCollectionsClient(conn), dimensions); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ensure collection exists: %w", err)
	}
	return index, nil
}

// ensureCollectionExists checks if the collection exists and creates it if it doesn't.
func (c *QdrantIndex) ensureCollectionExists(ctx context.Context, collectionsClient qdrant.CollectionsClient, dimensions int) error {
	_, err := collectionsClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: c.collectionName,
	})
	if err == nil {
		return nil
	}

	c.logger.Info("creating qdrant collection", "collection", c.collectionName, "dimensions", dimensions)
	_, err = collectionsClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: c.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func pointID(id int64) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: uint64(id)}}
}

// tagsPayload builds the payload stored next to each vector.
func tagsPayload(id int64, tags []string) map[string]*qdrant.Value {
	values := make([]*qdrant.Value, len(tags))
	for i, t := range tags {
		values[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: t}}
	}
	return map[string]*qdrant.Value{
		snippetIDField: {Kind: &qdrant.Value_IntegerValue{IntegerValue: id}},
		tagsField:      {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}},
	}
}

// Upsert adds or replaces the point of a snippet.
func (c *QdrantIndex) Upsert(ctx context.Context, id int64, vector domain.Embedding, tags []string) error {
	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collectionName,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(id),
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: vector}}},
			Payload: tagsPayload(id, tags),
		}},
		Wait: proto.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point %d to Qdrant: %w", id, err)
	}
	return nil
}

// Remove deletes the point of a snippet.
func (c *QdrantIndex) Remove(ctx context.Context, id int64) error {
	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(id)}},
			},
		},
		Wait: proto.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to delete point %d from Qdrant: %w", id, err)
	}
	return nil
}

// searchFilter translates the tag and exclusion parts of q.
func searchFilter(q domain.SimilarityQuery) *qdrant.Filter {
	filter := &qdrant.Filter{}
	if len(q.Tags) > 0 {
		filter.Must = append(filter.Must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{Field: &qdrant.FieldCondition{
				Key: tagsField,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keywords{
					Keywords: &qdrant.RepeatedStrings{Strings: q.Tags},
				}},
			}},
		})
	}
	if q.ExcludeID != 0 {
		filter.MustNot = append(filter.MustNot, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_HasId{HasId: &qdrant.HasIdCondition{
				HasId: []*qdrant.PointId{pointID(q.ExcludeID)},
			}},
		})
	}
	if len(filter.Must) == 0 && len(filter.MustNot) == 0 {
		return nil
	}
	return filter
}

// Search returns the ids of the points most similar to q.Vector.
func (c *QdrantIndex) Search(ctx context.Context, q domain.SimilarityQuery) ([]domain.ScoredID, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	req := &qdrant.SearchPoints{
		CollectionName: c.collectionName,
		Vector:         q.Vector,
		Filter:         searchFilter(q),
		Limit:          uint64(limit),
	}
	if q.Threshold != nil {
		req.ScoreThreshold = proto.Float32(float32(*q.Threshold))
	}

	resp, err := c.client.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search points in Qdrant: %w", err)
	}

	hits := make([]domain.ScoredID, 0, len(resp.GetResult()))
	for _, hit := range resp.GetResult() {
		hits = append(hits, domain.ScoredID{ID: int64(hit.GetId().GetNum()), Score: float64(hit.GetScore())})
	}
	return hits, nil
}

// Vector returns the stored vector of a snippet.
func (c *QdrantIndex) Vector(ctx context.Context, id int64) (domain.Embedding, error) {
	resp, err := c.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: c.collectionName,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point %d from Qdrant: %w", id, err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, domain.ErrSnippetNotFound
	}
	return domain.Embedding(resp.GetResult()[0].GetVectors().GetVector().GetData()), nil
}

// Close closes the gRPC connection.
func (c *QdrantIndex) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
