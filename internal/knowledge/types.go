package knowledge

import (
	"context"
	"errors"
)

// #region partition

// Partition is one of the three logically isolated knowledge namespaces.
type Partition string

const (
	PartitionRegulations Partition = "regulations"
	PartitionGuidelines  Partition = "guidelines"
	PartitionCases       Partition = "cases"
)

// Partitions returns all partitions in retrieval order.
func Partitions() []Partition {
	return []Partition{PartitionRegulations, PartitionGuidelines, PartitionCases}
}

// Valid reports whether p names a known partition.
func (p Partition) Valid() bool {
	switch p {
	case PartitionRegulations, PartitionGuidelines, PartitionCases:
		return true
	}
	return false
}

// #endregion partition

// #region errors

// ErrPartitionUnavailable is returned when a partition's index has not been
// built yet. Distinct from a valid empty result.
var ErrPartitionUnavailable = errors.New("partition unavailable")

// #endregion errors

// #region document

// Document is an indexed knowledge chunk. Immutable once indexed.
type Document struct {
	ID        string
	Partition Partition
	Content   string
	Source    string
	Section   string
}

// ScoredDocument pairs a document with its similarity to a query.
// The score is computed per retrieval call, not stored.
type ScoredDocument struct {
	Document
	Score float32
}

// #endregion document

// #region interfaces

// Retriever is the read path consumed by the agent.
type Retriever interface {
	// Retrieve returns up to k documents from one partition, ordered by
	// descending score then ID. Deterministic for identical inputs at a
	// fixed index version.
	Retrieve(ctx context.Context, partition Partition, query string, k int) ([]ScoredDocument, error)
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// #endregion interfaces
