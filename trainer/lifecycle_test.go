package trainer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rushteam/groupkit/core"
	"github.com/rushteam/groupkit/graph"
	"github.com/rushteam/groupkit/model"
	"github.com/rushteam/groupkit/store"
)

// memSource 内存数据源测试替身。
type memSource struct {
	interactions []graph.InteractionRecord
	socials      []graph.SocialRecord
	outcomes     []graph.GroupOutcomeRecord

	outcomesErr error
}

func (s *memSource) Interactions(ctx context.Context) ([]graph.InteractionRecord, error) {
	return s.interactions, nil
}
func (s *memSource) SocialConnections(ctx context.Context) ([]graph.SocialRecord, error) {
	return s.socials, nil
}
func (s *memSource) GroupOutcomes(ctx context.Context) ([]graph.GroupOutcomeRecord, error) {
	if s.outcomesErr != nil {
		return nil, s.outcomesErr
	}
	return s.outcomes, nil
}

// groupScenario 三个用户、两个物品：u1 发起 i1 的拼团，u2 参与，
// u2-u3 有社交关系，u3 无任何交互（冷启动用户）。
func groupScenario() *memSource {
	now := time.Now()
	return &memSource{
		interactions: []graph.InteractionRecord{
			{UserID: "u1", ItemID: "i1", Type: graph.InteractionCreateGroup, Timestamp: now.Add(-100 * time.Second)},
			{UserID: "u2", ItemID: "i1", Type: graph.InteractionJoinGroup, Timestamp: now.Add(-90 * time.Second)},
			{UserID: "u1", ItemID: "i2", Type: graph.InteractionView, Timestamp: now.Add(-80 * time.Second)},
			{UserID: "u2", ItemID: "i2", Type: graph.InteractionClick, Timestamp: now.Add(-70 * time.Second)},
			{UserID: "u1", ItemID: "i1", Type: graph.InteractionPurchase, Timestamp: now.Add(-60 * time.Second)},
			{UserID: "u2", ItemID: "i1", Type: graph.InteractionPurchase, Timestamp: now.Add(-50 * time.Second)},
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

func smallLifecycle(src DataSource, st core.KeyValueStore) *Lifecycle {
	return NewLifecycle(LifecycleConfig{
		Index:  core.NewEntityIndex(),
		Source: src,
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
}

func TestTriggerRetrainPublishesSnapshot(t *testing.T) {
	lc := smallLifecycle(groupScenario(), store.NewMemoryStore())

	if lc.Snapshot() != nil {
		t.Fatal("训练前不应有快照")
	}
	snap, err := lc.TriggerRetrain(context.Background(), "scheduled")
	if err != nil {
		t.Fatalf("TriggerRetrain: %v", err)
	}
	if snap == nil || lc.Snapshot() != snap {
		t.Fatal("快照未发布")
	}
	if snap.NumUsers != 3 || snap.NumItems != 2 {
		t.Fatalf("快照实体范围错误: users=%d items=%d", snap.NumUsers, snap.NumItems)
	}
	if model.Diverged(snap.Metrics.Loss) {
		t.Fatalf("验证损失非有限值: %v", snap.Metrics.Loss)
	}
	if lc.LastTrainedAt().IsZero() {
		t.Fatal("LastTrainedAt 未更新")
	}
}

func TestTriggerRetrainRejectsConcurrent(t *testing.T) {
	lc := smallLifecycle(groupScenario(), nil)
	lc.training.Store(true)

	_, err := lc.TriggerRetrain(context.Background(), "scheduled")
	if err == nil {
		t.Fatal("进行中的训练应拒绝并发触发")
	}
	de := core.GetDomainError(err)
	if de == nil || de.Code != core.ErrorCodeUnavailable {
		t.Fatalf("期望 UNAVAILABLE 错误, 得到 %v", err)
	}
}

func TestTriggerRetrainCooldownSkip(t *testing.T) {
	lc := smallLifecycle(groupScenario(), nil)
	lc.cfg.Cooldown = 24 * time.Hour
	lc.lastTrainedAt.Store(time.Now().Unix())

	_, err := lc.TriggerRetrain(context.Background(), "scheduled")
	if !core.IsDataInsufficient(err) {
		t.Fatalf("冷却期内应跳过, 得到 %v", err)
	}
}

func TestTriggerRetrainMinNewInteractionsSkip(t *testing.T) {
	src := groupScenario()
	lc := smallLifecycle(src, nil)
	lc.cfg.MinNewInteractions = 100
	lc.lastTrainedAt.Store(time.Now().Add(-48 * time.Hour).Unix())
	lc.lastSeen.Store(time.Now().Unix()) // 全部交互都视为已消费

	_, err := lc.TriggerRetrain(context.Background(), "scheduled")
	if !core.IsDataInsufficient(err) {
		t.Fatalf("新增交互不足应跳过, 得到 %v", err)
	}
}

// 周期中途失败时，live 快照保持不变。
func TestFailedCycleKeepsLiveSnapshot(t *testing.T) {
	src := groupScenario()
	lc := smallLifecycle(src, nil)

	live, err := lc.TriggerRetrain(context.Background(), "scheduled")
	if err != nil {
		t.Fatalf("首次训练: %v", err)
	}

	src.outcomesErr = errors.New("warehouse offline")
	if _, err := lc.TriggerRetrain(context.Background(), "scheduled"); err == nil {
		t.Fatal("取数失败应返回错误")
	}
	if lc.Snapshot() != live {
		t.Fatal("失败周期不应替换 live 快照")
	}
	if lc.IsTraining() {
		t.Fatal("失败后训练标志应复位")
	}
}

// 病态学习率让损失溢出时，候选被丢弃且 live 快照与训练时间戳不变。
func TestTrainingDivergenceKeepsLiveSnapshot(t *testing.T) {
	lc := smallLifecycle(groupScenario(), nil)

	live, err := lc.TriggerRetrain(context.Background(), "scheduled")
	if err != nil {
		t.Fatalf("首次训练: %v", err)
	}
	trainedAt := lc.LastTrainedAt()

	lc.hyper.LearningRate = 1e200 // 一步更新后前向传播溢出
	_, err = lc.TriggerRetrain(context.Background(), "scheduled")
	if !core.IsTrainingDivergence(err) {
		t.Fatalf("期望 TRAINING_DIVERGENCE, 得到 %v", err)
	}
	if lc.Snapshot() != live {
		t.Fatal("发散的候选不应替换 live 快照")
	}
	if !lc.LastTrainedAt().Equal(trainedAt) {
		t.Fatal("发散周期不应更新 LastTrainedAt")
	}
}

// 被丢弃的周期也要先同步热门榜：冷启动降级不依赖训练成功。
func TestDiscardedCycleStillSyncsPopularity(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	lc := smallLifecycle(groupScenario(), st)
	lc.cfg.MinInteractionsPerUser = 10 // 构图后全部正样本被剔除

	if _, err := lc.TriggerRetrain(context.Background(), "scheduled"); !core.IsDataInsufficient(err) {
		t.Fatalf("期望 DATA_INSUFFICIENT, 得到 %v", err)
	}
	members, err := st.ZRange(context.Background(), PopularityKey, 0, -1)
	if err != nil {
		t.Fatalf("ZRange: %v", err)
	}
	if len(members) != 2 || members[0] != "i1" || members[1] != "i2" {
		t.Fatalf("丢弃周期后热门榜应可用: %v", members)
	}
}

// 候选显著劣于 live 快照时被丢弃。
func TestValidationRegressionDiscardsCandidate(t *testing.T) {
	lc := smallLifecycle(groupScenario(), nil)

	// 人为放置一个指标极优的 live 快照
	fake := &Snapshot{Metrics: model.EvalMetrics{Loss: 1e-9}, TrainedAt: time.Now().Add(-48 * time.Hour)}
	lc.snapshot.Store(fake)

	_, err := lc.TriggerRetrain(context.Background(), "scheduled")
	if !core.IsValidationRegression(err) {
		t.Fatalf("期望 VALIDATION_REGRESSION, 得到 %v", err)
	}
	if lc.Snapshot() != fake {
		t.Fatal("回退的候选不应替换 live 快照")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	lc := smallLifecycle(groupScenario(), st)

	snap, err := lc.TriggerRetrain(context.Background(), "scheduled")
	if err != nil {
		t.Fatalf("TriggerRetrain: %v", err)
	}

	m, ck, err := LoadCheckpoint(context.Background(), st, CheckpointKey, snap.NumUsers, snap.NumItems)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if ck.NumUsers != snap.NumUsers || ck.NumItems != snap.NumItems {
		t.Fatalf("checkpoint 实体范围不一致: %d/%d", ck.NumUsers, ck.NumItems)
	}
	for i := range snap.Model.UserEmb.W {
		for j := range snap.Model.UserEmb.W[i] {
			if m.UserEmb.W[i][j] != snap.Model.UserEmb.W[i][j] {
				t.Fatalf("用户 Embedding (%d,%d) 恢复后不一致", i, j)
			}
		}
	}
}

// checkpoint 之后注册的新实体行补零。
func TestLoadCheckpointZeroPadsNewEntities(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	lc := smallLifecycle(groupScenario(), st)

	snap, err := lc.TriggerRetrain(context.Background(), "scheduled")
	if err != nil {
		t.Fatalf("TriggerRetrain: %v", err)
	}

	m, _, err := LoadCheckpoint(context.Background(), st, CheckpointKey, snap.NumUsers+2, snap.NumItems+1)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if m.NumUsers != snap.NumUsers+2 || m.NumItems != snap.NumItems+1 {
		t.Fatalf("扩表失败: users=%d items=%d", m.NumUsers, m.NumItems)
	}
	for _, v := range m.UserEmb.W[m.NumUsers-1] {
		if v != 0 {
			t.Fatal("新用户行应为零向量")
		}
	}
}

func TestSyncPopularityWritesSortedSet(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	lc := smallLifecycle(groupScenario(), st)

	if _, err := lc.TriggerRetrain(context.Background(), "scheduled"); err != nil {
		t.Fatalf("TriggerRetrain: %v", err)
	}
	members, err := st.ZRange(context.Background(), PopularityKey, 0, -1)
	if err != nil {
		t.Fatalf("ZRange: %v", err)
	}
	// i1 有 4 次交互，i2 有 2 次
	if len(members) != 2 || members[0] != "i1" || members[1] != "i2" {
		t.Fatalf("热门榜顺序错误: %v", members)
	}
}

func TestRestoreFromCheckpoint(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	src := groupScenario()

	lc1 := smallLifecycle(src, st)
	snap1, err := lc1.TriggerRetrain(context.Background(), "scheduled")
	if err != nil {
		t.Fatalf("TriggerRetrain: %v", err)
	}

	// 模拟重启：新的 Lifecycle 从 checkpoint 恢复
	lc2 := smallLifecycle(src, st)
	snap2, err := lc2.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if lc2.Snapshot() != snap2 {
		t.Fatal("恢复的快照未发布")
	}
	if snap2.NumUsers != snap1.NumUsers || snap2.NumItems != snap1.NumItems {
		t.Fatal("恢复的快照实体范围不一致")
	}
}

func TestBuildDatasetDeterministic(t *testing.T) {
	idx := core.NewEntityIndex()
	src := groupScenario()
	b := &graph.Builder{RegisterMissing: true}
	if _, err := b.Build(context.Background(), src.interactions, src.socials, idx); err != nil {
		t.Fatalf("Build: %v", err)
	}
	cfg := core.TrainingConfig{BatchSize: 16, Seed: 42}
	cfg.Normalize()

	ds1, err := BuildDataset(src.interactions, src.outcomes, idx, cfg)
	if err != nil {
		t.Fatalf("BuildDataset: %v", err)
	}
	ds2, err := BuildDataset(src.interactions, src.outcomes, idx, cfg)
	if err != nil {
		t.Fatalf("BuildDataset: %v", err)
	}
	if len(ds1.Train) != len(ds2.Train) {
		t.Fatal("批数量不一致")
	}
	for i := range ds1.Train {
		for j := range ds1.Train[i].Triples {
			if ds1.Train[i].Triples[j] != ds2.Train[i].Triples[j] {
				t.Fatalf("批 %d 三元组 %d 不一致", i, j)
			}
		}
	}
}

func TestBuildDatasetInsufficientData(t *testing.T) {
	idx := core.NewEntityIndex()
	cfg := core.TrainingConfig{}
	cfg.Normalize()

	_, err := BuildDataset(nil, nil, idx, cfg)
	if !core.IsDataInsufficient(err) {
		t.Fatalf("空数据应返回 DATA_INSUFFICIENT, 得到 %v", err)
	}
}

func TestBuildDatasetMinInteractionThresholds(t *testing.T) {
	idx := core.NewEntityIndex()
	src := groupScenario()
	b := &graph.Builder{RegisterMissing: true}
	if _, err := b.Build(context.Background(), src.interactions, src.socials, idx); err != nil {
		t.Fatalf("Build: %v", err)
	}

	// i1 有 4 个正样本，i2 只有 2 个：门槛 3 应剔除 i2 的正样本
	cfg := core.TrainingConfig{BatchSize: 16, Seed: 42, MinInteractionsPerItem: 3}
	cfg.Normalize()
	ds, err := BuildDataset(src.interactions, src.outcomes, idx, cfg)
	if err != nil {
		t.Fatalf("BuildDataset: %v", err)
	}
	if ds.NumPositives != 4 {
		t.Fatalf("门槛过滤后应剩 4 个正样本, 得到 %d", ds.NumPositives)
	}

	// 门槛高于全部用户的交互数时应判定数据不足
	cfg = core.TrainingConfig{BatchSize: 16, Seed: 42, MinInteractionsPerUser: 10}
	cfg.Normalize()
	if _, err := BuildDataset(src.interactions, src.outcomes, idx, cfg); !core.IsDataInsufficient(err) {
		t.Fatalf("全部正样本被剔除应返回 DATA_INSUFFICIENT, 得到 %v", err)
	}
}
