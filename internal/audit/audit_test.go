package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/compliance-review/internal/model"
	"github.com/danielpatrickdp/compliance-review/internal/store"
)

func tempRecorder(t *testing.T) *Recorder {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewRecorder(s.DB())
}

func TestRecordAndList(t *testing.T) {
	r := tempRecorder(t)
	ctx := context.Background()

	events := []model.AuditEvent{
		{Actor: "md-kim", Action: ActionRequestCreate, EntityID: "r1", After: "REQUESTED"},
		{Actor: "reviewer-lee", Action: ActionAIStart, EntityID: "r1", Before: "REQUESTED", After: "AI_RUNNING"},
		{Actor: ActorSystem, Action: ActionAIRecommend, EntityID: "r1", Before: "AI_RUNNING", After: "REVIEWING"},
		{Actor: "md-park", Action: ActionRequestCreate, EntityID: "r2", After: "REQUESTED"},
	}
	for _, ev := range events {
		if err := r.Record(ctx, ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := r.List(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events for r1, got %d", len(got))
	}
	// Newest first.
	if got[0].Action != ActionAIRecommend || got[2].Action != ActionRequestCreate {
		t.Fatalf("unexpected order: %s ... %s", got[0].Action, got[2].Action)
	}
	if got[1].Before != "REQUESTED" || got[1].After != "AI_RUNNING" {
		t.Fatalf("transition fields lost: %+v", got[1])
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at populated")
	}
}

func TestListLimit(t *testing.T) {
	r := tempRecorder(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := r.Record(ctx, model.AuditEvent{Actor: "a", Action: ActionAIStart, EntityID: "r1"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := r.List(ctx, "r1", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit 2, got %d", len(got))
	}
}

func TestListUnknownEntity(t *testing.T) {
	r := tempRecorder(t)
	got, err := r.List(context.Background(), "nope", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events, got %d", len(got))
	}
}
