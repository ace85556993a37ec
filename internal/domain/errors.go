package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQuery signals a query without content.
	ErrEmptyQuery = errors.New("empty query")
	// ErrUnsupportedModality signals a modality the backend cannot embed.
	ErrUnsupportedModality = errors.New("unsupported modality")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrCollectionNotFound signals a missing collection in the search engine.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrInvalidQuery signals malformed search parameters.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrWebSearch signals a web search provider failure.
	ErrWebSearch = errors.New("web search error")
	// ErrAssetMissing signals a referenced local file that does not exist.
	ErrAssetMissing = errors.New("asset missing")
)

// EmbeddingError is returned when a query could not be embedded.
type EmbeddingError struct {
	Modality Modality
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed (%s): %v", e.Modality, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// SearchError is returned when a similarity search could not be executed.
type SearchError struct {
	Collection string
	Err        error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search in %q failed: %v", e.Collection, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// AssetError reports a stored asset path that could not be resolved to a local file.
// It is attached to a single result item and never fails a whole response.
type AssetError struct {
	Path string
	Err  error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset %s: %v", e.Path, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }
