package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConfig addresses a Qdrant gRPC endpoint.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// QdrantBackend stores one point per (user, session) in a cosine collection.
type QdrantBackend struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantBackend(ctx context.Context, cfg QdrantConfig) (*QdrantBackend, error) {
	if cfg.Dimension <= 0 {
		return nil, goerr.New("qdrant backend needs a positive embedding dimension")
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "connect qdrant", goerr.V("host", cfg.Host), goerr.V("port", cfg.Port))
	}

	b := &QdrantBackend{client: client, collection: cfg.Collection}
	if err := b.initCollection(ctx, uint64(cfg.Dimension)); err != nil {
		client.Close()
		return nil, err
	}
	return b, nil
}

func (b *QdrantBackend) initCollection(ctx context.Context, dim uint64) error {
	_, err := b.client.GetCollectionInfo(ctx, b.collection)
	if err != nil {
		st, ok := status.FromError(err)
		if !ok || st.Code() != codes.NotFound {
			return goerr.Wrap(err, "inspect qdrant collection", goerr.V("collection", b.collection))
		}
		err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: b.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return goerr.Wrap(err, "create qdrant collection", goerr.V("collection", b.collection))
		}
	}

	// user_id filters every query; index errors mean the index already exists.
	_, _ = b.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: b.collection,
		FieldName:      "user_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	return nil
}

func (b *QdrantBackend) Name() string { return "qdrant" }

func (b *QdrantBackend) Upsert(ctx context.Context, record Record) error {
	meta := ""
	if len(record.Metadata) > 0 {
		raw, err := json.Marshal(record.Metadata)
		if err != nil {
			return goerr.Wrap(ErrInvalidRecord, "encode metadata", goerr.V("cause", err.Error()))
		}
		meta = string(raw)
	}

	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: b.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(pointID(record.UserID, record.SessionID)),
				Vectors: qdrant.NewVectors(record.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					"user_id":    record.UserID,
					"session_id": record.SessionID,
					"text":       record.Text,
					"summary":    record.Summary,
					"timestamp":  record.Timestamp.Unix(),
					"metadata":   meta,
				}),
			},
		},
	})
	if err != nil {
		return goerr.Wrap(err, "qdrant upsert", goerr.V("session_id", record.SessionID))
	}
	return nil
}

func (b *QdrantBackend) Search(ctx context.Context, userID string, vector []float32, limit int) ([]Result, error) {
	hits, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: b.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("user_id", userID)},
		},
		Limit:       qdrant.PtrOf(uint64(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "qdrant query")
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		p := hit.Payload
		r := Result{
			SessionID:      p["session_id"].GetStringValue(),
			Text:           p["text"].GetStringValue(),
			Summary:        p["summary"].GetStringValue(),
			Timestamp:      time.Unix(p["timestamp"].GetIntegerValue(), 0).UTC(),
			RelevanceScore: float64(hit.Score),
		}
		if raw := p["metadata"].GetStringValue(); raw != "" {
			_ = json.Unmarshal([]byte(raw), &r.Metadata)
		}
		results = append(results, r)
	}
	return results, nil
}

func (b *QdrantBackend) Delete(ctx context.Context, userID, sessionID string) error {
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: b.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID(userID, sessionID))),
	})
	if err != nil {
		return goerr.Wrap(err, "qdrant delete", goerr.V("session_id", sessionID))
	}
	return nil
}

func (b *QdrantBackend) DeleteUser(ctx context.Context, userID string) error {
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: b.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("user_id", userID)},
		}),
	})
	if err != nil {
		return goerr.Wrap(err, "qdrant delete user")
	}
	return nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

// pointID derives a stable id so re-storing a session replaces its point.
func pointID(userID, sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID+"/"+sessionID)).String()
}
