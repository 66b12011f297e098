package embedding

import (
	"context"
	"fmt"

	"pibrain/internal/logging"

	"google.golang.org/genai"
)

// maxBatchSize is the largest batch the GenAI embed-content API accepts
// in one request; larger requests are chunked and concatenated.
const maxBatchSize = 100

func int32Ptr(i int32) *int32 { return &i }

// GenAIEngine generates embeddings via Google's Gemini API.
type GenAIEngine struct {
	client *genai.Client
	model  string
}

func NewGenAIEngine(apiKey, model string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai embedding provider requires an api key")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GenAIEngine{client: client, model: model}, nil
}

func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.embedBatchChunk(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("genai returned no embeddings")
	}
	return out[0], nil
}

func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= maxBatchSize {
		return e.embedBatchChunk(ctx, texts)
	}

	log := logging.Get(logging.CategoryEmbedding)
	numBatches := (len(texts) + maxBatchSize - 1) / maxBatchSize
	log.Info("chunking embed batch", "texts", len(texts), "batches", numBatches)

	all := make([][]float32, 0, len(texts))
	for i := 0; i < numBatches; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		start, end := i*maxBatchSize, min((i+1)*maxBatchSize, len(texts))
		chunk, err := e.embedBatchChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d/%d: %w", i+1, numBatches, err)
		}
		all = append(all, chunk...)
	}
	return all, nil
}

func (e *GenAIEngine) embedBatchChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents,
		&genai.EmbedContentConfig{OutputDimensionality: int32Ptr(int32(e.Dimensions()))})
	if err != nil {
		return nil, fmt.Errorf("genai embed failed: %w", err)
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions reports gemini-embedding-001's output width.
func (e *GenAIEngine) Dimensions() int { return 3072 }

func (e *GenAIEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }
