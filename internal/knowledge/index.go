package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS knowledge_documents (
	id         TEXT PRIMARY KEY,
	partition  TEXT NOT NULL,
	content    TEXT NOT NULL,
	source     TEXT,
	section    TEXT,
	embedding  BLOB NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_docs_partition ON knowledge_documents(partition);
`

// #endregion schema

// #region index

// Index is a SQLite-backed vector index over the three partitions.
// The read path is safe for concurrent use.
type Index struct {
	db    *sql.DB
	embed Embedder
}

// NewIndex runs migrations and returns an Index using the given embedder
// for query-side vectors.
func NewIndex(db *sql.DB, embed Embedder) (*Index, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("knowledge schema: %w", err)
	}
	return &Index{db: db, embed: embed}, nil
}

// #endregion index

// #region add

// Add indexes one document. The ingest collaborator may supply a precomputed
// embedding; when vec is nil the content is embedded locally.
func (ix *Index) Add(ctx context.Context, doc Document, vec []float32) error {
	if !doc.Partition.Valid() {
		return fmt.Errorf("add %s: unknown partition %q", doc.ID, doc.Partition)
	}
	if vec == nil {
		var err error
		vec, err = ix.embed.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embed %s: %w", doc.ID, err)
		}
	}

	_, err := ix.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO knowledge_documents (id, partition, content, source, section, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, string(doc.Partition), doc.Content, doc.Source, doc.Section,
		encodeVector(vec), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

// Count returns the number of indexed documents in a partition.
func (ix *Index) Count(ctx context.Context, partition Partition) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM knowledge_documents WHERE partition = ?`, string(partition),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", partition, err)
	}
	return n, nil
}

// #endregion add

// #region retrieve

// Retrieve scores every document in the partition against the query and
// returns the top k by descending cosine similarity, ties broken by ID.
// An unbuilt partition yields ErrPartitionUnavailable.
func (ix *Index) Retrieve(ctx context.Context, partition Partition, query string, k int) ([]ScoredDocument, error) {
	if !partition.Valid() {
		return nil, fmt.Errorf("retrieve: unknown partition %q", partition)
	}

	n, err := ix.Count(ctx, partition)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("partition %s: %w", partition, ErrPartitionUnavailable)
	}

	qvec, err := ix.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := ix.db.QueryContext(ctx,
		`SELECT id, content, source, section, embedding
		 FROM knowledge_documents WHERE partition = ?`, string(partition),
	)
	if err != nil {
		return nil, fmt.Errorf("query partition %s: %w", partition, err)
	}
	defer rows.Close()

	var scored []ScoredDocument
	for rows.Next() {
		var doc Document
		var source, section sql.NullString
		var blob []byte
		if err := rows.Scan(&doc.ID, &doc.Content, &source, &section, &blob); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Partition = partition
		doc.Source = source.String
		doc.Section = section.String
		scored = append(scored, ScoredDocument{
			Document: doc,
			Score:    cosine(qvec, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// #endregion retrieve

// #region vector-encoding

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// #endregion vector-encoding
