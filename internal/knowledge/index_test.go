package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func tempIndex(t *testing.T) *Index {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ix, err := NewIndex(db, NewHashingEmbedder())
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return ix
}

func seedDocs(t *testing.T, ix *Index) {
	t.Helper()
	docs := []Document{
		{ID: "reg-001", Partition: PartitionRegulations, Content: "허위 기만 광고로 소비자를 오인하게 하는 표현 금지", Source: "심의규정 제14조"},
		{ID: "reg-002", Partition: PartitionRegulations, Content: "효능 효과를 과장하여 표시 광고하는 행위 금지", Source: "심의규정 제15조"},
		{ID: "case-001", Partition: PartitionCases, Content: "홍삼 제품 효능 과장 사례 경고 조치", Source: "사례집 2023-11"},
	}
	for _, d := range docs {
		if err := ix.Add(context.Background(), d, nil); err != nil {
			t.Fatalf("Add %s: %v", d.ID, err)
		}
	}
}

func TestRetrieveRanksByRelevance(t *testing.T) {
	ix := tempIndex(t)
	seedDocs(t, ix)

	got, err := ix.Retrieve(context.Background(), PartitionRegulations, "효능 과장 표시 광고", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(got))
	}
	if got[0].ID != "reg-002" {
		t.Fatalf("expected reg-002 first, got %s (score %f)", got[0].ID, got[0].Score)
	}
	if got[0].Score < got[1].Score {
		t.Fatal("results not sorted by descending score")
	}
}

func TestRetrieveTopK(t *testing.T) {
	ix := tempIndex(t)
	seedDocs(t, ix)

	got, err := ix.Retrieve(context.Background(), PartitionRegulations, "광고", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected k=1 to cap results, got %d", len(got))
	}
}

func TestRetrieveDeterministic(t *testing.T) {
	ix := tempIndex(t)
	seedDocs(t, ix)
	ctx := context.Background()

	first, err := ix.Retrieve(ctx, PartitionCases, "홍삼 효능", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	second, err := ix.Retrieve(ctx, PartitionCases, "홍삼 효능", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("result count changed between identical calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Score != second[i].Score {
			t.Fatalf("result %d changed between identical calls", i)
		}
	}
}

func TestRetrieveEmptyPartitionUnavailable(t *testing.T) {
	ix := tempIndex(t)
	seedDocs(t, ix)

	_, err := ix.Retrieve(context.Background(), PartitionGuidelines, "아무거나", 5)
	if !errors.Is(err, ErrPartitionUnavailable) {
		t.Fatalf("expected ErrPartitionUnavailable, got %v", err)
	}
}

func TestRetrieveUnknownPartition(t *testing.T) {
	ix := tempIndex(t)
	if _, err := ix.Retrieve(context.Background(), Partition("nope"), "x", 5); err == nil {
		t.Fatal("expected error for unknown partition")
	}
}

func TestAddWithPrecomputedEmbedding(t *testing.T) {
	ix := tempIndex(t)
	vec := make([]float32, 128)
	vec[0] = 1

	doc := Document{ID: "reg-pre", Partition: PartitionRegulations, Content: "금지 사항"}
	if err := ix.Add(context.Background(), doc, vec); err != nil {
		t.Fatalf("Add: %v", err)
	}

	n, err := ix.Count(context.Background(), PartitionRegulations)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 document, got %d", n)
	}
}

func TestVectorEncodingRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 0, 3.75}
	out := decodeVector(encodeVector(in))
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d vs %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("value %d mismatch: %f vs %f", i, in[i], out[i])
		}
	}
}
