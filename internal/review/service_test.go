package review

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/compliance-review/internal/agent"
	"github.com/danielpatrickdp/compliance-review/internal/audit"
	"github.com/danielpatrickdp/compliance-review/internal/generator"
	"github.com/danielpatrickdp/compliance-review/internal/grader"
	"github.com/danielpatrickdp/compliance-review/internal/knowledge"
	"github.com/danielpatrickdp/compliance-review/internal/lifecycle"
	"github.com/danielpatrickdp/compliance-review/internal/model"
	"github.com/danielpatrickdp/compliance-review/internal/planner"
	"github.com/danielpatrickdp/compliance-review/internal/store"
)

// newService builds a fully wired service over a throwaway database.
// seed controls whether the knowledge partitions have documents.
func newService(t *testing.T, seed bool) *Service {
	t.Helper()

	st, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	index, err := knowledge.NewIndex(st.DB(), knowledge.NewHashingEmbedder())
	require.NoError(t, err)
	if seed {
		seedKnowledge(t, index)
	}

	recorder := audit.NewRecorder(st.DB())
	machine := lifecycle.NewMachine(st, recorder)

	cfg := agent.DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	ag := agent.New(index,
		planner.NewKeywordPlanner(),
		grader.NewLexicalGrader(grader.DefaultConfig()),
		generator.NewRuleGenerator(generator.DefaultConfig()),
		cfg)

	return NewService(st, machine, ag, recorder)
}

func seedKnowledge(t *testing.T, index *knowledge.Index) {
	t.Helper()
	docs := []knowledge.Document{
		{ID: "reg-014", Partition: knowledge.PartitionRegulations,
			Content: "허위 기만 광고로 소비자를 오인하게 하는 무조건 완치 보장 표현 금지", Source: "심의규정 제14조"},
		{ID: "guide-003", Partition: knowledge.PartitionGuidelines,
			Content: "효능 효과 표현은 객관적 실증 자료를 갖추어야 함", Source: "가이드라인 3장"},
		{ID: "case-101", Partition: knowledge.PartitionCases,
			Content: "건강식품 무조건 완치 표현 사용으로 경고 조치된 사례", Source: "사례집 2023"},
	}
	for _, d := range docs {
		require.NoError(t, index.Add(context.Background(), d, nil))
	}
}

func createRequest(t *testing.T, svc *Service) model.ReviewRequest {
	t.Helper()
	req, err := svc.CreateRequest(context.Background(), CreateRequestInput{
		ProductName: "홍삼스틱 골드",
		Category:    "건강식품",
		RequestedBy: "md-kim",
		Items: []ItemInput{
			{Type: model.ItemRequestText, Label: "소구문구", Text: "먹기만 하면 무조건 완치 보장"},
		},
	})
	require.NoError(t, err)
	return req
}

func TestCreateRequestValidation(t *testing.T) {
	svc := newService(t, false)
	ctx := context.Background()

	_, err := svc.CreateRequest(ctx, CreateRequestInput{Items: []ItemInput{{Text: "x"}}})
	require.Error(t, err)

	_, err = svc.CreateRequest(ctx, CreateRequestInput{ProductName: "상품"})
	require.Error(t, err)
}

func TestCreateRequestDefaultsItemFields(t *testing.T) {
	svc := newService(t, false)
	req, err := svc.CreateRequest(context.Background(), CreateRequestInput{
		ProductName: "상품",
		Items:       []ItemInput{{Text: "문구만 있는 아이템"}},
	})
	require.NoError(t, err)

	detail, err := svc.GetDetail(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	require.Equal(t, model.ItemRequestText, detail.Items[0].Type)
	require.Equal(t, "item-1", detail.Items[0].Label)
}

func TestRecommendationFlow(t *testing.T) {
	svc := newService(t, true)
	ctx := context.Background()
	req := createRequest(t, svc)

	rec, err := svc.StartRecommendation(ctx, req.ID, "reviewer-lee")
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, model.JudgmentViolation, rec.Judgment)
	require.NotEmpty(t, rec.Citations)

	detail, err := svc.GetDetail(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusReviewing, detail.Request.Status)
	require.NotNil(t, detail.Recommendation)
	require.Equal(t, rec.ID, detail.Recommendation.ID)
	require.Nil(t, detail.Decision)

	events, err := svc.AuditTrail(ctx, req.ID, 0)
	require.NoError(t, err)
	var actions []string
	for _, ev := range events {
		actions = append(actions, ev.Action)
	}
	// Newest first.
	require.Equal(t, []string{
		audit.ActionAIRecommend,
		audit.ActionRecommendCreate,
		audit.ActionAIStart,
		audit.ActionRequestCreate,
	}, actions)
}

func TestStartRecommendationRevertsOnFailure(t *testing.T) {
	// Empty knowledge base: every partition is unavailable and the run fails.
	svc := newService(t, false)
	ctx := context.Background()
	req := createRequest(t, svc)

	_, err := svc.StartRecommendation(ctx, req.ID, "reviewer-lee")
	require.ErrorIs(t, err, agent.ErrRunFailed)

	detail, err := svc.GetDetail(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusRequested, detail.Request.Status)
	require.Nil(t, detail.Recommendation)

	events, err := svc.AuditTrail(ctx, req.ID, 0)
	require.NoError(t, err)
	require.Equal(t, audit.ActionAIFailed, events[0].Action)

	// The request is free for a fresh attempt once the backend recovers.
	_, err = svc.StartRecommendation(ctx, req.ID, "reviewer-lee")
	require.ErrorIs(t, err, agent.ErrRunFailed)
}

func TestStartRecommendationWrongState(t *testing.T) {
	svc := newService(t, true)
	ctx := context.Background()
	req := createRequest(t, svc)

	_, err := svc.StartRecommendation(ctx, req.ID, "reviewer-lee")
	require.NoError(t, err)

	// Already REVIEWING: a second start is an invalid transition, not a rerun.
	_, err = svc.StartRecommendation(ctx, req.ID, "reviewer-lee")
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestConcurrentStartsSingleRun(t *testing.T) {
	svc := newService(t, true)
	ctx := context.Background()
	req := createRequest(t, svc)

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.StartRecommendation(ctx, req.ID, "reviewer-lee")
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		if !errorsIsAny(err, lifecycle.ErrAlreadyRunning, lifecycle.ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, wins)

	// Exactly one recommendation was persisted.
	rec, err := svc.LatestRecommendation(ctx, req.ID)
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
}

func TestDecisionFlow(t *testing.T) {
	svc := newService(t, true)
	ctx := context.Background()
	req := createRequest(t, svc)

	_, err := svc.StartRecommendation(ctx, req.ID, "reviewer-lee")
	require.NoError(t, err)

	dec, err := svc.SubmitDecision(ctx, req.ID, model.DecisionRejected, "과장 표현 수정 필요", "reviewer-lee")
	require.NoError(t, err)
	require.Equal(t, model.DecisionRejected, dec.Label)

	detail, err := svc.GetDetail(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusRejected, detail.Request.Status)
	require.NotNil(t, detail.Request.DecidedAt)
	require.NotNil(t, detail.Decision)

	// The terminal status is immutable: no second decision, no restart.
	_, err = svc.SubmitDecision(ctx, req.ID, model.DecisionDone, "", "reviewer-park")
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, err = svc.StartRecommendation(ctx, req.ID, "reviewer-lee")
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestDecisionBeforeRecommendation(t *testing.T) {
	svc := newService(t, true)
	req := createRequest(t, svc)

	_, err := svc.SubmitDecision(context.Background(), req.ID, model.DecisionDone, "", "reviewer-lee")
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestListRequestsByStatus(t *testing.T) {
	svc := newService(t, true)
	ctx := context.Background()

	a := createRequest(t, svc)
	createRequest(t, svc)

	_, err := svc.StartRecommendation(ctx, a.ID, "reviewer-lee")
	require.NoError(t, err)

	reviewing, err := svc.ListRequests(ctx, model.StatusReviewing)
	require.NoError(t, err)
	require.Len(t, reviewing, 1)
	require.Equal(t, a.ID, reviewing[0].ID)

	requested, err := svc.ListRequests(ctx, model.StatusRequested)
	require.NoError(t, err)
	require.Len(t, requested, 1)
}

func TestRerunSupersedesDecidedAgainstLatest(t *testing.T) {
	svc := newService(t, true)
	ctx := context.Background()
	req := createRequest(t, svc)

	first, err := svc.StartRecommendation(ctx, req.ID, "reviewer-lee")
	require.NoError(t, err)

	latest, err := svc.LatestRecommendation(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, latest.ID)
}

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
