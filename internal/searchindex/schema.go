package searchindex

import (
	"context"
	"fmt"
	"strings"
	"time"

	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// BootstrapWeaviate ensures the ConversationMessage class exists. Vectors are
// supplied by the service, so the class is created with vectorizer "none".
func BootstrapWeaviate(ctx context.Context, baseURL string) error {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	msgCls := &models.Class{
		Class:      messageClass,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "messageId", DataType: []string{"uuid"}},
			{Name: "conversationId", DataType: []string{"text"}},
			{Name: "accountId", DataType: []string{"text"}},
			{Name: "role", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "creationTime", DataType: []string{"date"}},
		},
	}

	if err := ensureClass(cctx, cl, msgCls); err != nil {
		return fmt.Errorf("bootstrap %s: %w", messageClass, err)
	}
	return nil
}

func ensureClass(ctx context.Context, cl *weaviate.Client, desired *models.Class) error {
	ex, err := cl.Schema().ClassGetter().WithClassName(desired.Class).Do(ctx)
	if err == nil && ex != nil {
		return nil
	}
	if err := cl.Schema().ClassCreator().WithClass(desired).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", desired.Class, err)
	}
	return nil
}

func formatGraphQLErrors(resp *models.GraphQLResponse) string {
	parts := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		if e != nil {
			parts = append(parts, e.Message)
		}
	}
	return strings.Join(parts, "; ")
}
