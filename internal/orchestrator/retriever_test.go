package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convorag/backend/internal/relaxation"
	"github.com/convorag/backend/internal/vector/milvus"
)

type fakeEmbedder struct {
	err   error
	calls int32
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 0.5}, nil
}

type fakeSearcher struct {
	results map[string][]milvus.SearchResult
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, embedding []float32, topK int, threshold float64) ([]milvus.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	// keyed by the embedding's first component, which encodes query length
	return f.results[keyOf(embedding)], nil
}

func keyOf(embedding []float32) string {
	if len(embedding) == 0 {
		return ""
	}
	return string(rune(int(embedding[0])))
}

func params(topK int) relaxation.Params {
	return relaxation.Params{StageName: "balanced", TopK: topK, SimilarityThreshold: 0.5}
}

func TestRetrieveEmptyQueries(t *testing.T) {
	o := New(&fakeEmbedder{}, &fakeSearcher{}, nil, DefaultConfig())
	assert.Nil(t, o.Retrieve(context.Background(), nil, params(6)))
}

func TestRetrieveAllQueriesFailReturnsEmpty(t *testing.T) {
	o := New(&fakeEmbedder{err: errors.New("embedding service down")}, &fakeSearcher{}, nil, DefaultConfig())

	hits := o.Retrieve(context.Background(), []string{"a", "bb", "ccc"}, params(6))
	assert.Empty(t, hits)
}

func TestRetrieveSearchFailureSwallowed(t *testing.T) {
	o := New(&fakeEmbedder{}, &fakeSearcher{err: errors.New("collection not loaded")}, nil, DefaultConfig())

	hits := o.Retrieve(context.Background(), []string{"query"}, params(6))
	assert.Empty(t, hits)
}

func TestRetrieveMergeKeepsHighestScore(t *testing.T) {
	// two queries return the same passage with different scores
	searcher := &fakeSearcher{results: map[string][]milvus.SearchResult{
		keyOf([]float32{1}): {{Text: "shared passage", Source: "doc.md", ChunkIndex: 2, Score: 0.7}},
		keyOf([]float32{2}): {{Text: "shared passage", Source: "doc.md", ChunkIndex: 2, Score: 0.9}},
	}}

	o := New(&fakeEmbedder{}, searcher, nil, DefaultConfig())
	hits := o.Retrieve(context.Background(), []string{"a", "bb"}, params(6))

	require.Len(t, hits, 1)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-6)
	assert.Equal(t, "doc.md", hits[0].Source)
	assert.Equal(t, 2, hits[0].ChunkIndex)
}

func TestRetrieveRankedAndTruncated(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]milvus.SearchResult{
		keyOf([]float32{1}): {
			{Text: "low", Source: "a.md", ChunkIndex: 0, Score: 0.3},
			{Text: "high", Source: "b.md", ChunkIndex: 0, Score: 0.95},
			{Text: "mid", Source: "c.md", ChunkIndex: 0, Score: 0.6},
		},
	}}

	o := New(&fakeEmbedder{}, searcher, nil, DefaultConfig())
	hits := o.Retrieve(context.Background(), []string{"x"}, params(2))

	require.Len(t, hits, 2)
	assert.Equal(t, "high", hits[0].Content)
	assert.Equal(t, "mid", hits[1].Content)
}

func TestRetrieveDeterministicOrder(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]milvus.SearchResult{
		keyOf([]float32{1}): {
			{Text: "tied one", Source: "a.md", ChunkIndex: 0, Score: 0.8},
			{Text: "tied two", Source: "b.md", ChunkIndex: 0, Score: 0.8},
		},
		keyOf([]float32{2}): {
			{Text: "tied three", Source: "c.md", ChunkIndex: 0, Score: 0.8},
		},
	}}

	o := New(&fakeEmbedder{}, searcher, nil, DefaultConfig())

	first := o.Retrieve(context.Background(), []string{"a", "bb"}, params(6))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, o.Retrieve(context.Background(), []string{"a", "bb"}, params(6)))
	}

	// ties break on the dedup key, ascending
	require.Len(t, first, 3)
	assert.Equal(t, "a.md", first[0].Source)
	assert.Equal(t, "b.md", first[1].Source)
	assert.Equal(t, "c.md", first[2].Source)
}

func TestRetrieveContentHashFallbackDedup(t *testing.T) {
	// no source metadata: normalized content is the identity
	searcher := &fakeSearcher{results: map[string][]milvus.SearchResult{
		keyOf([]float32{1}): {{Text: "Same  Content", Score: 0.5}},
		keyOf([]float32{2}): {{Text: "same content", Score: 0.6}},
	}}

	o := New(&fakeEmbedder{}, searcher, nil, DefaultConfig())
	hits := o.Retrieve(context.Background(), []string{"a", "bb"}, params(6))

	require.Len(t, hits, 1)
	assert.InDelta(t, 0.6, hits[0].Score, 1e-6)
}

func TestRetrieveOriginQueryAttribution(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]milvus.SearchResult{
		keyOf([]float32{2}): {{Text: "passage", Source: "a.md", Score: 0.9}},
	}}

	o := New(&fakeEmbedder{}, searcher, nil, DefaultConfig())
	hits := o.Retrieve(context.Background(), []string{"x", "yy"}, params(6))

	require.Len(t, hits, 1)
	assert.Equal(t, "yy", hits[0].OriginQuery)
}

type fakeCache struct {
	store map[string][]float32
	hits  int
}

func (f *fakeCache) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	v, ok := f.store[textHash]
	if ok {
		f.hits++
	}
	return v, ok, nil
}

func (f *fakeCache) SetEmbedding(ctx context.Context, textHash string, embedding []float32) error {
	f.store[textHash] = embedding
	return nil
}

func TestRetrieveUsesEmbeddingCache(t *testing.T) {
	embedder := &fakeEmbedder{}
	cache := &fakeCache{store: map[string][]float32{}}
	o := New(embedder, &fakeSearcher{}, cache, DefaultConfig())

	o.Retrieve(context.Background(), []string{"hello"}, params(6))
	o.Retrieve(context.Background(), []string{"hello"}, params(6))

	assert.Equal(t, int32(1), atomic.LoadInt32(&embedder.calls))
	assert.Equal(t, 1, cache.hits)
}
