package embedding

import (
	"context"
	"crypto/sha256"
)

// MockEngine derives a deterministic vector from each text's hash, for
// tests and offline runs where no embedding backend is configured.
type MockEngine struct {
	dims int
}

func NewMockEngine(dims int) *MockEngine {
	return &MockEngine{dims: dims}
}

func (m *MockEngine) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, m.dims)
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)]) / 255.0
	}
	return vec, nil
}

func (m *MockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockEngine) Dimensions() int { return m.dims }
func (m *MockEngine) Name() string    { return "mock" }
