// Package embedding generates the vectors attached to nodes for semantic
// search, grounded on the teacher's multi-backend engine interface
// (internal/embedding/engine.go) retargeted from its chat-memory corpus
// to node content.
package embedding

import (
	"context"
	"fmt"
	"math"

	"pibrain/internal/config"
	"pibrain/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// HealthChecker is an optional capability an Engine may implement so
// callers can probe availability before a batch, rather than discovering
// it mid-run.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewEngine builds the Engine named by cfg.EmbeddingProvider.
func NewEngine(cfg *config.Config) (Engine, error) {
	log := logging.Get(logging.CategoryEmbedding)
	d := cfg.Daemon

	switch d.EmbeddingProvider {
	case config.EmbeddingOllama, "":
		log.Info("initializing ollama embedding engine", "base_url", d.EmbeddingBaseURL, "model", d.EmbeddingModel)
		return NewOllamaEngine(orDefault(d.EmbeddingBaseURL, "http://localhost:11434"), orDefault(d.EmbeddingModel, "embeddinggemma"))
	case config.EmbeddingGenAI:
		log.Info("initializing genai embedding engine", "model", d.EmbeddingModel)
		return NewGenAIEngine(d.EmbeddingAPIKey, orDefault(d.EmbeddingModel, "gemini-embedding-001"))
	case config.EmbeddingMock:
		log.Info("initializing mock embedding engine", "dimensions", d.EmbeddingDimensions)
		dims := d.EmbeddingDimensions
		if dims <= 0 {
			dims = 8
		}
		return NewMockEngine(dims), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", d.EmbeddingProvider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// CosineSimilarity returns the cosine similarity of a and b, in [-1,1].
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
