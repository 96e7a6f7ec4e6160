package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitializeIdempotent(t *testing.T) {
	require.NoError(t, Initialize(true))
	first := GetLogger()
	require.NoError(t, Initialize(false))
	assert.Same(t, first, GetLogger(), "Initialize must only configure once")
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	assert.NotNil(t, GetLogger())
}

func TestAppendContextFields(t *testing.T) {
	ctx := context.WithValue(context.Background(), CorrelationIDKey, "corr-1")
	ctx = context.WithValue(ctx, ClientIDKey, "1700000000.42")
	ctx = context.WithValue(ctx, GameIDKey, "chess-42")

	fields := appendContextFields(ctx, []zap.Field{zap.Int("n", 1)})

	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"n", "correlation_id", "client_id", "game_id", "service"}, keys)
}

func TestAppendContextFieldsNilContext(t *testing.T) {
	fields := appendContextFields(nil, nil)
	assert.Empty(t, fields)
}

func TestWith(t *testing.T) {
	ctx := context.WithValue(context.Background(), GameIDKey, "chess-42")
	assert.NotNil(t, With(ctx, zap.String("extra", "x")))
}
