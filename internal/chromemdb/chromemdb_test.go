package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/models"
)

// vectorEmbedder returns fixed vectors per text and fails for unknown texts.
type vectorEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   atomic.Int32
}

func newVectorEmbedder(vectors map[string][]float32) *vectorEmbedder {
	return &vectorEmbedder{vectors: vectors}
}

func (e *vectorEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("%w: no vector for %q", models.ErrEmbeddingFailure, text)
	}
	return append([]float32(nil), v...), nil
}

func newTestStore(t *testing.T, vectors map[string][]float32, opts ...Option) (*Store, *vectorEmbedder) {
	t.Helper()
	emb := newVectorEmbedder(vectors)
	s, err := NewStore(emb, opts...)
	require.NoError(t, err)
	return s, emb
}

func chunk(source, content string, vec ...float32) models.Chunk {
	return models.Chunk{Content: content, SourceName: source, Embedding: vec}
}

func contents(results []models.SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Chunk.Content)
	}
	return out
}

func TestStore_SearchEmpty(t *testing.T) {
	s, emb := newTestStore(t, map[string][]float32{"q": {1, 0}})

	results, err := s.SimilaritySearch(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, int32(0), emb.calls.Load())
}

func TestStore_SearchRanksByCosine(t *testing.T) {
	s, _ := newTestStore(t, map[string][]float32{"q": {1, 0, 0}})
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, chunk("a.txt", "far", 0, 0, 1)))
	require.NoError(t, s.Add(ctx, chunk("a.txt", "close", 0.9, 0.1, 0)))
	require.NoError(t, s.Add(ctx, chunk("b.txt", "exact", 2, 0, 0)))
	require.NoError(t, s.Add(ctx, chunk("b.txt", "middle", 0.5, 0.5, 0)))

	results, err := s.SimilaritySearch(ctx, "q", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"exact", "close", "middle"}, contents(results))
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)
}

func TestStore_SearchReturnsMinKN(t *testing.T) {
	s, _ := newTestStore(t, map[string][]float32{"q": {1, 1}})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Add(ctx, chunk("a.txt", fmt.Sprintf("c%d", i), float32(i+1), 1)))
	}

	for _, k := range []int{1, 3, 4, 10} {
		results, err := s.SimilaritySearch(ctx, "q", k)
		require.NoError(t, err)
		assert.Len(t, results, min(k, 4))
	}
}

func TestStore_SearchTiesKeepInsertionOrder(t *testing.T) {
	s, _ := newTestStore(t, map[string][]float32{"q": {1, 0}})
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third", "fourth"} {
		require.NoError(t, s.Add(ctx, chunk("a.txt", name, 1, 1)))
	}

	for i := 0; i < 5; i++ {
		results, err := s.SimilaritySearch(ctx, "q", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, contents(results))
	}
}

func TestStore_AddEmbedsWhenMissing(t *testing.T) {
	s, emb := newTestStore(t, map[string][]float32{"hello": {1, 0}, "q": {1, 0}})
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, models.Chunk{Content: "hello", SourceName: "a.txt"}))
	assert.Equal(t, int32(1), emb.calls.Load())

	results, err := s.SimilaritySearch(ctx, "q", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hello", results[0].Chunk.Content)
	assert.Equal(t, []float32{1, 0}, results[0].Chunk.Embedding)
	assert.NotEmpty(t, results[0].Chunk.ID)
}

func TestStore_AddDuplicates(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, chunk("a.txt", "same", 1, 0)))
	require.NoError(t, s.Add(ctx, chunk("a.txt", "same", 1, 0)))
	assert.Equal(t, 2, s.Count())
}

func TestStore_AddEmbeddingFailure(t *testing.T) {
	s, _ := newTestStore(t, nil)

	err := s.Add(context.Background(), models.Chunk{Content: "unknown", SourceName: "a.txt", Index: 4})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEmbeddingFailure)
	assert.Contains(t, err.Error(), "chunk 4 of a.txt")
	assert.Equal(t, 0, s.Count())
}

func TestStore_SearchEmbeddingFailure(t *testing.T) {
	s, _ := newTestStore(t, nil)
	require.NoError(t, s.Add(context.Background(), chunk("a.txt", "x", 1, 0)))

	_, err := s.SimilaritySearch(context.Background(), "unknown query", 3)
	assert.ErrorIs(t, err, models.ErrEmbeddingFailure)
}

func TestStore_DimensionMismatch(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, chunk("a.txt", "x", 1, 0)))
	err := s.Add(ctx, chunk("a.txt", "y", 1, 0, 0))
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)

	err = s.Replace(ctx, []models.Chunk{chunk("a.txt", "x", 1, 0), chunk("b.txt", "y", 1, 0, 0)})
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
	assert.Equal(t, 1, s.Count())
}

func TestStore_PinnedDimension(t *testing.T) {
	s, _ := newTestStore(t, nil, WithDimension(3))

	err := s.Add(context.Background(), chunk("a.txt", "x", 1, 0))
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)

	err = s.Replace(context.Background(), []models.Chunk{chunk("a.txt", "x", 1, 0)})
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestStore_DeleteBySource(t *testing.T) {
	s, _ := newTestStore(t, map[string][]float32{"q": {1, 0}})
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, chunk("a.txt", "a1", 1, 0)))
	require.NoError(t, s.Add(ctx, chunk("b.txt", "b1", 1, 0.1)))
	require.NoError(t, s.Add(ctx, chunk("a.txt", "a2", 1, 0.2)))

	removed, err := s.DeleteBySource(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, []string{"b.txt"}, s.Sources())

	results, err := s.SimilaritySearch(ctx, "q", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, contents(results))

	removed, err = s.DeleteBySource(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = s.DeleteBySource(ctx, "never-ingested.pdf")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestStore_Clear(t *testing.T) {
	s, _ := newTestStore(t, map[string][]float32{"q": {1, 0, 0}})
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, chunk("a.txt", "a1", 1, 0)))
	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Count())

	// a cleared store accepts a new dimension
	require.NoError(t, s.Add(ctx, chunk("a.txt", "a1", 1, 0, 0)))
	results, err := s.SimilaritySearch(ctx, "q", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestStore_Replace(t *testing.T) {
	s, _ := newTestStore(t, map[string][]float32{"q": {1, 0}})
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, chunk("old.txt", "old", 1, 0)))
	require.NoError(t, s.Replace(ctx, []models.Chunk{
		chunk("new.txt", "n1", 1, 0),
		chunk("new.txt", "n2", 0, 1),
	}))

	assert.Equal(t, 2, s.Count())
	assert.Equal(t, []string{"new.txt"}, s.Sources())

	results, err := s.SimilaritySearch(ctx, "q", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2"}, contents(results))
}

func TestStore_ReplaceFailureKeepsPreviousContents(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, chunk("old.txt", "old", 1, 0)))
	err := s.Replace(ctx, []models.Chunk{
		chunk("new.txt", "n1", 1, 0),
		{Content: "needs embedding", SourceName: "new.txt", Index: 1},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEmbeddingFailure)
	assert.Equal(t, []string{"old.txt"}, s.Sources())
}

func TestStore_ReplaceIsAtomicForReaders(t *testing.T) {
	s, _ := newTestStore(t, map[string][]float32{"q": {1, 0}})
	ctx := context.Background()

	batch := make([]models.Chunk, 50)
	for i := range batch {
		batch[i] = chunk("doc.txt", fmt.Sprintf("c%d", i), 1, float32(i)/100)
	}
	require.NoError(t, s.Replace(ctx, batch))

	var wg sync.WaitGroup
	var observedEmpty atomic.Bool
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				results, err := s.SimilaritySearch(ctx, "q", 3)
				if err != nil || len(results) != 3 {
					observedEmpty.Store(true)
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Replace(ctx, batch))
	}
	close(stop)
	wg.Wait()

	assert.False(t, observedEmpty.Load(), "a reader observed a cleared store during replace")
}

func TestStore_MinSimilarity(t *testing.T) {
	threshold := float32(0.5)
	s, _ := newTestStore(t, map[string][]float32{"q": {1, 0}}, WithMinSimilarity(&threshold))
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, chunk("a.txt", "relevant", 1, 0.1)))
	require.NoError(t, s.Add(ctx, chunk("a.txt", "orthogonal", 0, 1)))

	results, err := s.SimilaritySearch(ctx, "q", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"relevant"}, contents(results))
}

func TestStore_NonPositiveK(t *testing.T) {
	s, emb := newTestStore(t, map[string][]float32{"q": {1, 0}})
	require.NoError(t, s.Add(context.Background(), chunk("a.txt", "x", 1, 0)))

	results, err := s.SimilaritySearch(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(0), emb.calls.Load())
}

func TestStore_ConcurrentAddAndSearch(t *testing.T) {
	s, _ := newTestStore(t, map[string][]float32{"q": {1, 0}})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- s.Add(ctx, chunk("a.txt", fmt.Sprintf("c%d", i), 1, float32(i)))
		}(i)
		go func() {
			defer wg.Done()
			_, err := s.SimilaritySearch(ctx, "q", 3)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 50, s.Count())
}
