// Package ingest loads pre-chunked seed documents into the knowledge index.
// Parsing source files into chunks happens upstream; this side only accepts
// (partition, id, content, optional embedding) tuples.
package ingest

import (
	"context"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/compliance-review/internal/knowledge"
)

// #region seed-file

// SeedDocument is one pre-chunked document in a seed file. Embedding is
// optional; when absent, the index embeds the content itself.
type SeedDocument struct {
	ID        string    `yaml:"id"`
	Partition string    `yaml:"partition"`
	Content   string    `yaml:"content"`
	Source    string    `yaml:"source,omitempty"`
	Section   string    `yaml:"section,omitempty"`
	Embedding []float32 `yaml:"embedding,omitempty"`
}

// SeedFile is the YAML shape of an ingest file.
type SeedFile struct {
	Documents []SeedDocument `yaml:"documents"`
}

// #endregion seed-file

// #region loader

// Loader writes seed documents into a knowledge index.
type Loader struct {
	index *knowledge.Index
}

// NewLoader creates a Loader over the given index.
func NewLoader(index *knowledge.Index) *Loader {
	return &Loader{index: index}
}

// LoadFile ingests every document in a YAML seed file. Returns the number
// of documents indexed.
func (l *Loader) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	count, err := l.Load(ctx, seed.Documents)
	if err != nil {
		return count, err
	}
	log.Printf("[INGEST] %s: indexed %d documents", path, count)
	return count, nil
}

// Load ingests documents directly, for collaborators that hold their own
// tuples rather than files.
func (l *Loader) Load(ctx context.Context, docs []SeedDocument) (int, error) {
	for i, sd := range docs {
		if sd.ID == "" {
			return i, fmt.Errorf("document %d: missing id", i)
		}
		doc := knowledge.Document{
			ID:        sd.ID,
			Partition: knowledge.Partition(sd.Partition),
			Content:   sd.Content,
			Source:    sd.Source,
			Section:   sd.Section,
		}
		if err := l.index.Add(ctx, doc, sd.Embedding); err != nil {
			return i, fmt.Errorf("index %s: %w", sd.ID, err)
		}
	}
	return len(docs), nil
}

// #endregion loader
