package embedding_test

import (
	"context"
	"testing"

	"pibrain/internal/config"
	"pibrain/internal/embedding"

	"github.com/stretchr/testify/require"
)

func TestNewEngineMockProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Daemon.EmbeddingProvider = config.EmbeddingMock
	cfg.Daemon.EmbeddingDimensions = 16

	eng, err := embedding.NewEngine(cfg)
	require.NoError(t, err)
	require.Equal(t, 16, eng.Dimensions())

	v1, err := eng.Embed(context.Background(), "hello")
	require.NoError(t, err)
	v2, err := eng.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, v1, v2, "mock engine must be deterministic per input")
}

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{1, 0, 0}
	sim, err := embedding.CosineSimilarity(v, v)
	require.NoError(t, err)
	require.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := embedding.CosineSimilarity([]float32{1, 2}, []float32{1})
	require.Error(t, err)
}
