package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

type WeaviateConfig struct {
	Host   string
	Scheme string
	APIKey string
	Class  string
}

// WeaviateBackend stores memories as objects of one class with client-supplied
// vectors. The class is created at startup with whole-value tokenization on
// user_id and session_id so Equal filters never match on a shared word.
type WeaviateBackend struct {
	client *weaviate.Client
	class  string
}

type weaviateHit struct {
	SessionID  string `json:"session_id"`
	Text       string `json:"text"`
	Summary    string `json:"summary"`
	Timestamp  string `json:"timestamp"`
	Metadata   string `json:"metadata"`
	Additional struct {
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}

func NewWeaviateBackend(ctx context.Context, cfg WeaviateConfig) (*WeaviateBackend, error) {
	wcfg := weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, goerr.Wrap(err, "create weaviate client", goerr.V("host", cfg.Host))
	}
	ready, err := client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "weaviate readiness", goerr.V("host", cfg.Host))
	}
	if !ready {
		return nil, goerr.New("weaviate is not ready", goerr.V("host", cfg.Host))
	}
	b := &WeaviateBackend{client: client, class: cfg.Class}
	if err := b.initClass(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *WeaviateBackend) initClass(ctx context.Context) error {
	exists, err := b.client.Schema().ClassExistenceChecker().WithClassName(b.class).Do(ctx)
	if err != nil {
		return goerr.Wrap(err, "weaviate class check", goerr.V("class", b.class))
	}
	if exists {
		return nil
	}
	err = b.client.Schema().ClassCreator().WithClass(weaviateClass(b.class)).Do(ctx)
	if err != nil {
		// Another replica may have created it first.
		if ok, checkErr := b.client.Schema().ClassExistenceChecker().WithClassName(b.class).Do(ctx); checkErr == nil && ok {
			return nil
		}
		return goerr.Wrap(err, "weaviate class create", goerr.V("class", b.class))
	}
	return nil
}

func weaviateClass(name string) *models.Class {
	keyword := func(prop string) *models.Property {
		return &models.Property{
			Name:         prop,
			DataType:     []string{"text"},
			Tokenization: models.PropertyTokenizationField,
		}
	}
	text := func(prop string) *models.Property {
		return &models.Property{Name: prop, DataType: []string{"text"}}
	}
	return &models.Class{
		Class:      name,
		Vectorizer: "none",
		Properties: []*models.Property{
			keyword("user_id"),
			keyword("session_id"),
			text("text"),
			text("summary"),
			keyword("timestamp"),
			keyword("metadata"),
		},
	}
}

func (b *WeaviateBackend) Name() string { return "weaviate" }

func (b *WeaviateBackend) Upsert(ctx context.Context, record Record) error {
	meta := ""
	if len(record.Metadata) > 0 {
		raw, err := json.Marshal(record.Metadata)
		if err != nil {
			return goerr.Wrap(ErrInvalidRecord, "encode metadata", goerr.V("cause", err.Error()))
		}
		meta = string(raw)
	}
	id := pointID(record.UserID, record.SessionID)
	props := map[string]any{
		"user_id":    record.UserID,
		"session_id": record.SessionID,
		"text":       record.Text,
		"summary":    record.Summary,
		"timestamp":  record.Timestamp.UTC().Format(time.RFC3339),
		"metadata":   meta,
	}

	exists, err := b.client.Data().Checker().WithClassName(b.class).WithID(id).Do(ctx)
	if err != nil {
		return goerr.Wrap(err, "weaviate exists check", goerr.V("session_id", record.SessionID))
	}
	if exists {
		err = b.client.Data().Updater().
			WithClassName(b.class).
			WithID(id).
			WithProperties(props).
			WithVector(record.Embedding).
			Do(ctx)
	} else {
		_, err = b.client.Data().Creator().
			WithClassName(b.class).
			WithID(id).
			WithProperties(props).
			WithVector(record.Embedding).
			Do(ctx)
	}
	if err != nil {
		return goerr.Wrap(err, "weaviate write", goerr.V("session_id", record.SessionID))
	}
	return nil
}

func (b *WeaviateBackend) Search(ctx context.Context, userID string, vector []float32, limit int) ([]Result, error) {
	nearVector := b.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	result, err := b.client.GraphQL().Get().
		WithClassName(b.class).
		WithNearVector(nearVector).
		WithWhere(userFilter(userID)).
		WithLimit(limit).
		WithFields(
			graphql.Field{Name: "session_id"},
			graphql.Field{Name: "text"},
			graphql.Field{Name: "summary"},
			graphql.Field{Name: "timestamp"},
			graphql.Field{Name: "metadata"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
		).
		Do(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "weaviate query")
	}
	if len(result.Errors) > 0 {
		return nil, goerr.New("weaviate query error", goerr.V("message", result.Errors[0].Message))
	}

	raw, err := json.Marshal(result.Data)
	if err != nil {
		return nil, goerr.Wrap(err, "marshal weaviate response")
	}
	var typed struct {
		Get map[string][]weaviateHit `json:"Get"`
	}
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, goerr.Wrap(err, "unmarshal weaviate response")
	}

	hits := typed.Get[b.class]
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		ts, _ := time.Parse(time.RFC3339, h.Timestamp)
		r := Result{
			SessionID: h.SessionID,
			Text:      h.Text,
			Summary:   h.Summary,
			Timestamp: ts.UTC(),
			// certainty is (1+cos)/2
			RelevanceScore: 2*h.Additional.Certainty - 1,
		}
		if h.Metadata != "" {
			_ = json.Unmarshal([]byte(h.Metadata), &r.Metadata)
		}
		results = append(results, r)
	}
	return results, nil
}

func (b *WeaviateBackend) Delete(ctx context.Context, userID, sessionID string) error {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			userFilter(userID),
			filters.Where().WithPath([]string{"session_id"}).WithOperator(filters.Equal).WithValueText(sessionID),
		})
	_, err := b.client.Batch().ObjectsBatchDeleter().
		WithClassName(b.class).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return goerr.Wrap(err, "weaviate delete", goerr.V("session_id", sessionID))
	}
	return nil
}

func (b *WeaviateBackend) DeleteUser(ctx context.Context, userID string) error {
	_, err := b.client.Batch().ObjectsBatchDeleter().
		WithClassName(b.class).
		WithWhere(userFilter(userID)).
		Do(ctx)
	if err != nil {
		return goerr.Wrap(err, "weaviate delete user")
	}
	return nil
}

func (b *WeaviateBackend) Close() error { return nil }

func userFilter(userID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueText(userID)
}
