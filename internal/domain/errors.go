package domain

import "errors"

var (
	// ErrInvalidInput is returned for empty questions, non-positive k and
	// other malformed requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIngestFailure means a document could not be ingested. The index is
	// left exactly as it was before the attempt.
	ErrIngestFailure = errors.New("ingest failed")

	// ErrIngestInProgress is returned when the same document is already
	// being ingested.
	ErrIngestInProgress = errors.New("ingest already in progress")

	// ErrProvenanceGap means a chunk lacks the metadata needed to cite it.
	ErrProvenanceGap = errors.New("provenance gap")

	// ErrSynthesisFailure is used internally when the generative model
	// cannot produce a summary. Callers see the fallback text instead.
	ErrSynthesisFailure = errors.New("synthesis failed")

	// ErrEmbeddingMismatch is returned when an index is opened or queried
	// with a different embedding model than it was built with.
	ErrEmbeddingMismatch = errors.New("embedding model mismatch")

	ErrNotFound = errors.New("not found")

	// ErrDocumentChanged is returned when a write was prepared against a
	// version of a document that has since been replaced.
	ErrDocumentChanged = errors.New("document changed")

	// ErrTransient marks external failures that are worth retrying.
	ErrTransient = errors.New("transient failure")
)
