package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"document-qa/internal/models"
	"document-qa/internal/parser"
)

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// error kinds reported per file
const (
	KindUnsupportedFormat = "unsupported_format"
	KindExtraction        = "extraction_failure"
	KindEmbedding         = "embedding_failure"
)

var ErrNoFiles = errors.New("no files to ingest")

// Embedder turns chunk content into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore is the part of the vector store ingestion writes to.
type ChunkStore interface {
	Replace(ctx context.Context, chunks []models.Chunk) error
	DeleteBySource(ctx context.Context, sourceName string) (int, error)
}

// File is an uploaded document awaiting ingestion.
type File struct {
	Name string
	Data []byte
}

// FileError ties an ingestion failure to a file and, when embedding failed,
// to the chunk being embedded. ChunkIndex is -1 when no chunk was involved.
type FileError struct {
	Name       string
	ChunkIndex int
	Err        error
}

func (e *FileError) Error() string {
	if e.ChunkIndex < 0 {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s: chunk %d: %v", e.Name, e.ChunkIndex, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Kind classifies the failure for API clients.
func (e *FileError) Kind() string {
	switch {
	case errors.Is(e.Err, models.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(e.Err, models.ErrEmbeddingFailure):
		return KindEmbedding
	default:
		return KindExtraction
	}
}

type FileResult struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// Report describes the outcome of one ingestion batch.
type Report struct {
	Status string       `json:"status"`
	Files  []FileResult `json:"files"`
	Errors []*FileError `json:"-"`
}

// Ingester chunks and embeds uploaded files and installs them in the store.
type Ingester struct {
	store       ChunkStore
	embedder    Embedder
	chunkSize   int
	concurrency int
}

func NewIngester(store ChunkStore, embedder Embedder, chunkSize, concurrency int) *Ingester {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Ingester{
		store:       store,
		embedder:    embedder,
		chunkSize:   chunkSize,
		concurrency: concurrency,
	}
}

// Split extracts the text of f and cuts it into chunks tagged with the file
// name. The chunks carry no embedding.
func (in *Ingester) Split(f File) ([]models.Chunk, error) {
	text, err := parser.ExtractText(f.Name, f.Data)
	if err != nil {
		return nil, &FileError{Name: f.Name, ChunkIndex: -1, Err: err}
	}
	parts, err := parser.ChunkText(text, in.chunkSize)
	if err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = models.Chunk{Content: p, SourceName: f.Name, Index: i}
	}
	return chunks, nil
}

// Ingest replaces the store contents with the chunks of every file that could
// be processed. Per-file failures are collected in the report. When no file
// succeeds the store is left as it was.
func (in *Ingester) Ingest(ctx context.Context, files []File) (*Report, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	logger := log.Ctx(ctx)

	report := &Report{Files: make([]FileResult, 0, len(files))}
	var all []models.Chunk
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks, err := in.Split(f)
		if err == nil {
			err = in.embed(ctx, chunks)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var fe *FileError
			if !errors.As(err, &fe) {
				return nil, err
			}
			logger.Warn().Err(err).Str("file", f.Name).Msg("Skipping file")
			report.Errors = append(report.Errors, fe)
			report.Files = append(report.Files, FileResult{Name: f.Name, Error: fe.Err.Error(), Kind: fe.Kind()})
			continue
		}

		all = append(all, chunks...)
		report.Files = append(report.Files, FileResult{Name: f.Name, Chunks: len(chunks)})
	}

	switch len(report.Errors) {
	case 0:
		report.Status = StatusSuccess
	case len(files):
		report.Status = StatusFailed
		return report, nil
	default:
		report.Status = StatusPartial
	}

	if err := in.store.Replace(ctx, all); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	logger.Info().Int("files", len(files)).Int("chunks", len(all)).Str("status", report.Status).Msg("Ingested files")
	return report, nil
}

// Delete removes every chunk of the named file. Unknown names remove nothing.
func (in *Ingester) Delete(ctx context.Context, name string) (int, error) {
	n, err := in.store.DeleteBySource(ctx, name)
	if err != nil {
		return 0, err
	}
	log.Ctx(ctx).Info().Str("file", name).Int("removed", n).Msg("Deleted file chunks")
	return n, nil
}

// embed fills in the embedding of every chunk, at most in.concurrency at a time.
func (in *Ingester) embed(ctx context.Context, chunks []models.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.concurrency)
	for i := range chunks {
		i := i
		g.Go(func() error {
			vec, err := in.embedder.Embed(gctx, chunks[i].Content)
			if err != nil {
				return &FileError{Name: chunks[i].SourceName, ChunkIndex: i, Err: err}
			}
			chunks[i].Embedding = vec
			return nil
		})
	}
	return g.Wait()
}
