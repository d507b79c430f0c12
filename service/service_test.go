package service

import (
	"context"
	"testing"
	"time"

	"github.com/rushteam/groupkit/core"
	"github.com/rushteam/groupkit/graph"
	"github.com/rushteam/groupkit/store"
	"github.com/rushteam/groupkit/trainer"
)

type testSource struct {
	interactions []graph.InteractionRecord
	socials      []graph.SocialRecord
	outcomes     []graph.GroupOutcomeRecord
}

func (s *testSource) Interactions(ctx context.Context) ([]graph.InteractionRecord, error) {
	return s.interactions, nil
}
func (s *testSource) SocialConnections(ctx context.Context) ([]graph.SocialRecord, error) {
	return s.socials, nil
}
func (s *testSource) GroupOutcomes(ctx context.Context) ([]graph.GroupOutcomeRecord, error) {
	return s.outcomes, nil
}

// 三个用户、两个物品的端到端场景：u1 发起、u2 参与、u3 只有社交关系。
func newScenario() *testSource {
	now := time.Now()
	return &testSource{
		interactions: []graph.InteractionRecord{
			{UserID: "u1", ItemID: "i1", Type: graph.InteractionCreateGroup, Timestamp: now},
			{UserID: "u2", ItemID: "i1", Type: graph.InteractionJoinGroup, Timestamp: now},
			{UserID: "u1", ItemID: "i2", Type: graph.InteractionView, Timestamp: now},
			{UserID: "u2", ItemID: "i2", Type: graph.InteractionClick, Timestamp: now},
			{UserID: "u1", ItemID: "i1", Type: graph.InteractionPurchase, Timestamp: now},
			{UserID: "u2", ItemID: "i1", Type: graph.InteractionPurchase, Timestamp: now},
		},
		socials: []graph.SocialRecord{
			{UserID: "u2", FriendID: "u3", Strength: 0.8, Bidirectional: true},
		},
		outcomes: []graph.GroupOutcomeRecord{
			{UserID: "u1", ItemID: "i1", Success: true},
			{UserID: "u2", ItemID: "i1", Success: true},
			{UserID: "u1", ItemID: "i2", Success: false},
		},
	}
}

func newTrainedStack(t *testing.T) (*Service, *trainer.Lifecycle, *core.EntityIndex, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	idx := core.NewEntityIndex()
	lc := trainer.NewLifecycle(trainer.LifecycleConfig{
		Index:  idx,
		Source: newScenario(),
		Store:  st,
		Hyper:  core.Hyperparams{Dim: 8, Layers: 2, SocialLayers: 1},
		Training: core.TrainingConfig{
			BatchSize: 16,
			MaxEpochs: 5,
			Patience:  3,
			Workers:   2,
			Seed:      42,
		},
	})
	if _, err := lc.TriggerRetrain(context.Background(), "scheduled"); err != nil {
		t.Fatalf("TriggerRetrain: %v", err)
	}
	svc := New(Config{Index: idx, Snapshots: lc, Store: st})
	return svc, lc, idx, st
}

func TestRecommendModelPath(t *testing.T) {
	svc, _, _, _ := newTrainedStack(t)

	items, err := svc.Recommend(context.Background(), &core.RecommendContext{UserID: "u1"}, 2)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("期望 2 条结果, 得到 %d", len(items))
	}
	for _, it := range items {
		if it.Score <= 0 || it.Score >= 1 {
			t.Fatalf("分数应位于 (0,1): %v", it.Score)
		}
		if lbl := it.Labels["recall_source"]; lbl.Value != "gbgcn" {
			t.Fatalf("已知用户应走模型路径, 标签为 %q", lbl.Value)
		}
	}
	if items[0].Score < items[1].Score {
		t.Fatal("结果应按分数降序")
	}
}

func TestRecommendDeterministic(t *testing.T) {
	svc, _, _, _ := newTrainedStack(t)
	rctx := &core.RecommendContext{UserID: "u1"}

	a, err := svc.Recommend(context.Background(), rctx, 2)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	b, err := svc.Recommend(context.Background(), rctx, 2)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Score != b[i].Score {
			t.Fatalf("两次请求结果不一致: %v vs %v", a[i], b[i])
		}
	}
}

// 未知用户走热门降级，结果确定且非空。
func TestRecommendFallbackUnknownUser(t *testing.T) {
	svc, _, _, _ := newTrainedStack(t)

	items, err := svc.Recommend(context.Background(), &core.RecommendContext{UserID: "stranger"}, 5)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("降级结果不应为空")
	}
	// i1 交互 4 次 > i2 的 2 次
	if items[0].ID != "i1" {
		t.Fatalf("热门榜首位应为 i1, 得到 %s", items[0].ID)
	}
	if lbl := items[0].Labels["recall_source"]; lbl.Value != "popularity" || lbl.Source != "fallback" {
		t.Fatalf("降级结果标签错误: %+v", lbl)
	}
}

// 完全冷启动（无快照、无热门榜）：按注册序兜底。
func TestRecommendColdStartNoSnapshot(t *testing.T) {
	idx := core.NewEntityIndex()
	idx.Register(core.KindItem, "i1")
	idx.Register(core.KindItem, "i2")
	idx.Register(core.KindUser, "u1")

	lc := trainer.NewLifecycle(trainer.LifecycleConfig{Index: idx, Source: newScenario()})
	svc := New(Config{Index: idx, Snapshots: lc})

	items, err := svc.Recommend(context.Background(), &core.RecommendContext{UserID: "u1"}, 10)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(items) != 2 || items[0].ID != "i1" || items[1].ID != "i2" {
		t.Fatalf("冷启动应按注册序兜底, 得到 %v", items)
	}
}

func TestRecommendFilters(t *testing.T) {
	svc, lc, idx, st := newTrainedStack(t)

	strict := New(Config{
		Index:     idx,
		Snapshots: lc,
		Store:     st,
		Filters:   []string{"item.score > 2.0"}, // 分数 ∈ (0,1)，全部被滤掉
	})
	items, err := strict.Recommend(context.Background(), &core.RecommendContext{UserID: "u1"}, 5)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("过滤后应为空, 得到 %d 条", len(items))
	}

	// 对照组：无过滤的服务返回非空
	if items, _ := svc.Recommend(context.Background(), &core.RecommendContext{UserID: "u1"}, 5); len(items) == 0 {
		t.Fatal("无过滤服务不应为空")
	}
}

func TestRecommendFilterCompileError(t *testing.T) {
	_, lc, idx, _ := newTrainedStack(t)
	bad := New(Config{
		Index:     idx,
		Snapshots: lc,
		Filters:   []string{"item.score >"},
	})
	if _, err := bad.Recommend(context.Background(), &core.RecommendContext{UserID: "u1"}, 5); err == nil {
		t.Fatal("非法表达式应返回错误")
	}
}

func TestPredictGroupSuccess(t *testing.T) {
	svc, _, _, _ := newTrainedStack(t)

	prob, err := svc.PredictGroupSuccess(context.Background(), "i1", "u1", []string{"u2"})
	if err != nil {
		t.Fatalf("PredictGroupSuccess: %v", err)
	}
	if prob <= 0 || prob >= 1 {
		t.Fatalf("概率应位于 (0,1): %v", prob)
	}

	// 未知成员用群体平均向量替身，不报错
	prob2, err := svc.PredictGroupSuccess(context.Background(), "i1", "u1", []string{"newcomer"})
	if err != nil {
		t.Fatalf("含未知成员: %v", err)
	}
	if prob2 <= 0 || prob2 >= 1 {
		t.Fatalf("概率应位于 (0,1): %v", prob2)
	}
}

func TestPredictGroupSuccessColdStart(t *testing.T) {
	idx := core.NewEntityIndex()
	lc := trainer.NewLifecycle(trainer.LifecycleConfig{Index: idx, Source: newScenario()})
	svc := New(Config{Index: idx, Snapshots: lc})

	_, err := svc.PredictGroupSuccess(context.Background(), "i1", "u1", nil)
	if !core.IsColdStart(err) {
		t.Fatalf("无快照应返回 COLD_START, 得到 %v", err)
	}
}

// 未知物品用物品平均 Embedding 替身，不报错。
func TestPredictGroupSuccessUnknownItem(t *testing.T) {
	svc, _, _, _ := newTrainedStack(t)
	prob, err := svc.PredictGroupSuccess(context.Background(), "ghost", "u1", []string{"u2"})
	if err != nil {
		t.Fatalf("未知物品: %v", err)
	}
	if prob <= 0 || prob >= 1 {
		t.Fatalf("概率应位于 (0,1): %v", prob)
	}
}

func TestStatus(t *testing.T) {
	svc, _, _, _ := newTrainedStack(t)
	st := svc.Status()
	if !st.Ready {
		t.Fatal("训练后 Status 应为 Ready")
	}
	if st.Training {
		t.Fatal("无进行中的训练")
	}
	if st.NumUsers != 3 || st.NumItems != 2 {
		t.Fatalf("实体范围错误: %d/%d", st.NumUsers, st.NumItems)
	}
	if st.TrainedAt.IsZero() {
		t.Fatal("TrainedAt 不应为零值")
	}
	if st.RankAccuracy < 0 || st.RankAccuracy > 1 {
		t.Fatalf("排序准确率越界: %v", st.RankAccuracy)
	}
	if st.SuccessAccuracy < 0 || st.SuccessAccuracy > 1 {
		t.Fatalf("成团准确率越界: %v", st.SuccessAccuracy)
	}
}

func TestRecommendInvalidInput(t *testing.T) {
	svc, _, _, _ := newTrainedStack(t)
	if _, err := svc.Recommend(context.Background(), nil, 5); err == nil {
		t.Fatal("空请求应返回错误")
	}
	if _, err := svc.Recommend(context.Background(), &core.RecommendContext{}, 5); err == nil {
		t.Fatal("缺少用户 ID 应返回错误")
	}
}
