// Package semantic owns all Qdrant operations: collection lifecycle,
// passage upserts during ingestion, and k-NN search during retrieval.
package semantic

import (
	"context"
	"fmt"

	"github.com/ParchmentAI/parchment/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Payload keys stored with every point. These names are shared with the
// sparse side through domain.Passage, so both rankers derive identical
// passage keys.
const (
	payloadContent     = "content"
	payloadSourceID    = "source_id"
	payloadSectionPath = "section_path"
	payloadChunkIndex  = "chunk_index"
)

// VectorStore is the sole owner of the Qdrant connection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist. Vectors are
// compared with cosine distance, so similarity scores land in [-1, 1].
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Reset drops and recreates the collection. Used by corpus rebuilds so the
// dense index is replaced as one unit alongside the sparse index.
func (v *VectorStore) Reset(ctx context.Context, dims int) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return v.EnsureCollection(ctx, dims)
}

// CountVectors returns the number of stored points.
func (v *VectorStore) CountVectors(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

// Upsert stores passage records. Called by engine/ingest.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: passagePayload(r.Passage),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// DeleteBySource removes all points belonging to one source document.
// Used when a single document is re-ingested.
func (v *VectorStore) DeleteBySource(ctx context.Context, sourceID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch(payloadSourceID, sourceID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete by source %s: %w", sourceID, err)
	}
	return nil
}

// Search performs k-NN similarity search. Called by engine/retrieval.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error) {
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = resultFromPoint(r.GetId().GetUuid(), r.GetScore(), r.GetPayload())
	}
	return results, nil
}

func passagePayload(p domain.Passage) map[string]*pb.Value {
	return map[string]*pb.Value{
		payloadContent:     {Kind: &pb.Value_StringValue{StringValue: p.Text}},
		payloadSourceID:    {Kind: &pb.Value_StringValue{StringValue: p.SourceID}},
		payloadSectionPath: {Kind: &pb.Value_StringValue{StringValue: domain.JoinSectionPath(p.SectionPath)}},
		payloadChunkIndex:  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.ChunkIndex)}},
	}
}

func resultFromPoint(id string, score float32, payload map[string]*pb.Value) SearchResult {
	sr := SearchResult{ID: id, Score: score}
	for k, val := range payload {
		switch k {
		case payloadContent:
			sr.Content = val.GetStringValue()
		case payloadSourceID:
			sr.SourceID = val.GetStringValue()
		case payloadSectionPath:
			sr.SectionPath = val.GetStringValue()
		case payloadChunkIndex:
			sr.ChunkIndex = int(val.GetIntegerValue())
		}
	}
	return sr
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
