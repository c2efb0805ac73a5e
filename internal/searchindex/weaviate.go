package searchindex

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	filters "github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	gql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/omnireply/omnireply/internal/model"
)

const messageClass = "ConversationMessage"

// weavIndex implements Index using the Weaviate Go client.
type weavIndex struct {
	client  *weaviate.Client
	baseURL string // host:port without scheme
}

// NewWeaviateIndex constructs an Index backed by Weaviate at baseURL.
// baseURL should be host:port (without scheme), e.g. "localhost:8081".
func NewWeaviateIndex(baseURL string) (Index, error) {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &weavIndex{client: cl, baseURL: baseURL}, nil
}

func (w *weavIndex) UpsertMessage(ctx context.Context, messageID string, vec []float32, payload map[string]interface{}) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty vector for message %s", messageID)
	}
	_, err := w.client.Data().Creator().
		WithClassName(messageClass).
		WithID(messageID).
		WithProperties(payload).
		WithVector(vec).
		Do(ctx)
	return err
}

func (w *weavIndex) SearchSimilar(ctx context.Context, conversationID string, vec []float32, limit int, threshold float64) ([]model.SimilarMessage, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	near := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vec).
		WithCertainty(float32(threshold))
	where := filters.Where().
		WithPath([]string{"conversationId"}).
		WithOperator(filters.Equal).
		WithValueText(conversationID)

	resp, err := w.client.GraphQL().Get().
		WithClassName(messageClass).
		WithWhere(where).
		WithNearVector(near).
		WithLimit(limit).
		WithFields(
			gql.Field{Name: "messageId"},
			gql.Field{Name: "conversationId"},
			gql.Field{Name: "_additional", Fields: []gql.Field{{Name: "certainty"}}},
		).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp))
	}

	getData, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	raw, ok := getData[messageClass].([]interface{})
	if !ok {
		return []model.SimilarMessage{}, nil
	}

	out := make([]model.SimilarMessage, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		var score float64
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			switch v := add["certainty"].(type) {
			case float64:
				score = v
			case string:
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					score = f
				}
			}
		}
		id, _ := m["messageId"].(string)
		if id == "" {
			continue
		}
		out = append(out, model.SimilarMessage{MessageID: id, Score: score})
	}
	log.Debug().Str("conversationId", conversationID).Int("hits", len(out)).Msg("semantic search completed")
	return out, nil
}

func (w *weavIndex) DeleteConversation(ctx context.Context, conversationID string) error {
	where := filters.Where().
		WithPath([]string{"conversationId"}).
		WithOperator(filters.Equal).
		WithValueText(conversationID)
	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(messageClass).
		WithWhere(where).
		Do(ctx)
	return err
}

// HealthPing verifies the Weaviate readiness endpoint.
func (w *weavIndex) HealthPing(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+w.baseURL+"/v1/.well-known/ready", nil)
	if err != nil {
		return err
	}
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weaviate ready status %d", resp.StatusCode)
	}
	return nil
}
