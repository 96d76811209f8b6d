package retrieval

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/upb/context-retrieval/models"
	"github.com/upb/context-retrieval/repositories"
	"github.com/upb/context-retrieval/services/providers"
)

const (
	catsFirst  = "First test message about cats"
	dogsSecond = "Second test message about dogs"
	catsThird  = "Third test message about cats and their behavior"
	catsQuery  = "Tell me about cats"
	offTopic   = "Quantum chromodynamics"
)

// fakeEmbedder returns fixed 3-dimensional vectors per text. Unknown texts
// fail.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{
		catsFirst:  {0.9, 0, 0.4},
		dogsSecond: {0, 0.9, 0.4},
		catsThird:  {0.8, 0.1, 0.5},
		catsQuery:  {1, 0, 0.3},
		offTopic:   {0, 0, -1},
	}}
}

var errUnknownText = errors.New("unknown text")

func (f *fakeEmbedder) Name() string    { return "fake" }
func (f *fakeEmbedder) Model() string   { return "fake-embed" }
func (f *fakeEmbedder) Dimensions() int { return 3 }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if providers.IsBlank(text) {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, errUnknownText
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var failed []int
	var firstErr error
	for i, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			failed = append(failed, i)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out[i] = v
	}
	if len(failed) > 0 {
		return out, providers.NewBatchError(failed, len(texts), firstErr)
	}
	return out, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type mockReranker struct {
	mock.Mock
}

func (m *mockReranker) Name() string { return "mock" }

func (m *mockReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]float64, error) {
	args := m.Called(ctx, query, documents, topN)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float64), args.Error(1)
}

// failingSearch wraps an embedding repository and fails every search
type failingSearch struct {
	repositories.EmbeddingRepository
	err error
}

func (f *failingSearch) SimilaritySearch(ctx context.Context, q repositories.SimilarityQuery) ([]models.Candidate, error) {
	return nil, f.err
}
