package chromemdb

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"document-qa/internal/models"
)

// Embedder produces the vectors stored alongside chunk content.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// entry is the bookkeeping kept next to each chromem document. seq orders ties.
type entry struct {
	chunk models.Chunk
	seq   uint64
}

// generation is one complete, independently queryable set of chunks.
type generation struct {
	collection *chromem.Collection
	entries    map[string]entry
	next       uint64
}

// Store is an in-memory vector store over chromem-go collections.
//
// Similarity is cosine similarity: chromem-go normalises every vector on insert
// and ranks by dot product. Results are ordered by descending similarity with
// ties broken by insertion order.
type Store struct {
	mu            sync.RWMutex
	db            *chromem.DB
	embedder      Embedder
	current       *generation
	dimension     int
	pinned        bool
	gen           int
	minSimilarity *float32
}

type Option func(*Store)

// WithMinSimilarity excludes results scoring below min.
func WithMinSimilarity(min *float32) Option {
	return func(s *Store) {
		s.minSimilarity = min
	}
}

// WithDimension fixes the embedding length instead of learning it from the first chunk.
func WithDimension(d int) Option {
	return func(s *Store) {
		s.dimension = d
		s.pinned = d > 0
	}
}

// NewStore creates an empty store. The embedder is used for search queries and
// for chunks added without a precomputed embedding.
func NewStore(embedder Embedder, opts ...Option) (*Store, error) {
	s := &Store{
		db:       chromem.NewDB(),
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(s)
	}

	g, err := s.newGeneration()
	if err != nil {
		return nil, err
	}
	s.current = g
	return s, nil
}

func (s *Store) newGeneration() (*generation, error) {
	s.gen++
	name := "chunks-" + strconv.Itoa(s.gen)
	c, err := s.db.CreateCollection(name, nil, s.embedder.Embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %v", name, err)
	}
	return &generation{collection: c, entries: make(map[string]entry)}, nil
}

// Add stores a chunk, embedding its content first when no embedding is attached.
// Duplicate content is stored as a separate entry.
func (s *Store) Add(ctx context.Context, chunk models.Chunk) error {
	chunk, err := s.prepare(ctx, chunk)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDimension(len(chunk.Embedding)); err != nil {
		return err
	}
	return s.current.add(ctx, []models.Chunk{chunk})
}

// Replace builds a new generation from chunks and swaps it in. Readers observe
// either the previous contents or the complete new set, never a partial one.
func (s *Store) Replace(ctx context.Context, chunks []models.Chunk) error {
	prepared := make([]models.Chunk, 0, len(chunks))
	dim := 0
	for _, c := range chunks {
		c, err := s.prepare(ctx, c)
		if err != nil {
			return err
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("%w: chunk %q of %s has %d dimensions, want %d",
				models.ErrDimensionMismatch, c.ID, c.SourceName, len(c.Embedding), dim)
		}
		prepared = append(prepared, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pinned && dim != 0 && dim != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", models.ErrDimensionMismatch, dim, s.dimension)
	}

	g, err := s.newGeneration()
	if err != nil {
		return err
	}
	if err := g.add(ctx, prepared); err != nil {
		_ = s.db.DeleteCollection(g.collection.Name)
		return err
	}

	s.swap(g)
	if !s.pinned {
		s.dimension = dim
	}
	log.Ctx(ctx).Debug().Int("chunks", len(prepared)).Int("generation", s.gen).Msg("Replaced vector store contents")
	return nil
}

// Clear removes every chunk.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.newGeneration()
	if err != nil {
		return err
	}
	s.swap(g)
	if !s.pinned {
		s.dimension = 0
	}
	return nil
}

// DeleteBySource removes every chunk whose source name matches and returns how
// many were removed. Deleting an unknown source removes nothing and is not an error.
func (s *Store) DeleteBySource(ctx context.Context, sourceName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, e := range s.current.entries {
		if e.chunk.SourceName == sourceName {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.current.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, fmt.Errorf("failed to delete chunks of %s: %v", sourceName, err)
	}
	for _, id := range ids {
		delete(s.current.entries, id)
	}
	return len(ids), nil
}

// SimilaritySearch embeds query and returns at most k chunks ranked by cosine
// similarity. An empty store yields an empty result.
func (s *Store) SimilaritySearch(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		return []models.SearchResult{}, nil
	}

	s.mu.RLock()
	empty := len(s.current.entries) == 0
	s.mu.RUnlock()
	if empty {
		return []models.SearchResult{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	g := s.current
	n := len(g.entries)
	if n == 0 {
		return []models.SearchResult{}, nil
	}
	if s.dimension != 0 && len(vec) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d", models.ErrDimensionMismatch, len(vec), s.dimension)
	}

	// every document is ranked so ties at the k boundary resolve by insertion order
	results, err := g.collection.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	ranked := make([]models.SearchResult, 0, len(results))
	seqs := make([]uint64, 0, len(results))
	for _, r := range results {
		e, ok := g.entries[r.ID]
		if !ok {
			continue
		}
		if s.minSimilarity != nil && r.Similarity < *s.minSimilarity {
			continue
		}
		ranked = append(ranked, models.SearchResult{Chunk: e.chunk, Similarity: r.Similarity})
		seqs = append(seqs, e.seq)
	}

	sort.Sort(bySimilarity{results: ranked, seqs: seqs})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current.entries)
}

// Sources returns the distinct source names currently stored, sorted.
func (s *Store) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range s.current.entries {
		seen[e.chunk.SourceName] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Store) prepare(ctx context.Context, chunk models.Chunk) (models.Chunk, error) {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	if chunk.Embedding == nil {
		vec, err := s.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			return chunk, fmt.Errorf("chunk %d of %s: %w", chunk.Index, chunk.SourceName, err)
		}
		chunk.Embedding = vec
	} else {
		chunk.Embedding = append([]float32(nil), chunk.Embedding...)
	}
	if len(chunk.Embedding) == 0 {
		return chunk, fmt.Errorf("%w: chunk %d of %s has an empty embedding", models.ErrEmbeddingFailure, chunk.Index, chunk.SourceName)
	}
	return chunk, nil
}

// checkDimension must hold mu.
func (s *Store) checkDimension(n int) error {
	if s.dimension == 0 || (len(s.current.entries) == 0 && !s.pinned) {
		s.dimension = n
		return nil
	}
	if n != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", models.ErrDimensionMismatch, n, s.dimension)
	}
	return nil
}

// swap must hold mu.
func (s *Store) swap(g *generation) {
	old := s.current
	s.current = g
	if old != nil {
		if err := s.db.DeleteCollection(old.collection.Name); err != nil {
			log.Warn().Err(err).Str("collection", old.collection.Name).Msg("Error dropping replaced collection")
		}
	}
}

func (g *generation) add(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:      c.ID,
			Content: c.Content,
			Metadata: map[string]string{
				models.MetaSourceName: c.SourceName,
				models.MetaChunkIndex: strconv.Itoa(c.Index),
			},
			Embedding: append([]float32(nil), c.Embedding...),
		})
	}

	if err := g.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %v", err)
	}
	for _, c := range chunks {
		g.entries[c.ID] = entry{chunk: c, seq: g.next}
		g.next++
	}
	return nil
}

type bySimilarity struct {
	results []models.SearchResult
	seqs    []uint64
}

func (b bySimilarity) Len() int { return len(b.results) }

func (b bySimilarity) Less(i, j int) bool {
	if b.results[i].Similarity != b.results[j].Similarity {
		return b.results[i].Similarity > b.results[j].Similarity
	}
	return b.seqs[i] < b.seqs[j]
}

func (b bySimilarity) Swap(i, j int) {
	b.results[i], b.results[j] = b.results[j], b.results[i]
	b.seqs[i], b.seqs[j] = b.seqs[j], b.seqs[i]
}
