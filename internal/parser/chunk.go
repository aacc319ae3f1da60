package parser

import (
	"fmt"
	"unicode/utf8"

	"document-qa/internal/models"
)

// ChunkText splits text into contiguous, non-overlapping segments of at most size
// characters. Concatenating the result reproduces text exactly; only the last
// segment may be shorter. Multi-byte characters are never split.
func ChunkText(text string, size int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrConfiguration, size)
	}
	if text == "" {
		return []string{}, nil
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, count := 0, 0
	for i := range text {
		if count == size {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
		count++
	}
	chunks = append(chunks, text[start:])
	return chunks, nil
}
