package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "01HZZZ")
	ctx, id := EnsureCorrelationID(ctx)

	assert.Equal(t, "01HZZZ", id)
	assert.Equal(t, "01HZZZ", CorrelationIDFromContext(ctx))
}

func TestEnsureCorrelationIDGenerates(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())

	assert.Len(t, id, 26)
	assert.Equal(t, id, CorrelationIDFromContext(ctx))
}

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), "operator", " 42 ")
	kind, id := ActorFromContext(ctx)

	assert.Equal(t, "operator", kind)
	assert.Equal(t, "42", id)

	kind, id = ActorFromContext(context.Background())
	assert.Empty(t, kind)
	assert.Empty(t, id)
}
