package trainer

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/groupkit/core"
	"github.com/rushteam/groupkit/graph"
	"github.com/rushteam/groupkit/model"
)

// PopularityKey 热门榜有序集合的 key，物品交互热度降序。
const PopularityKey = "popular:items"

// DataSource 提供训练数据的不可变批快照，由业务侧实现
// （通常包装数仓查询或离线导出文件）。
type DataSource interface {
	Interactions(ctx context.Context) ([]graph.InteractionRecord, error)
	SocialConnections(ctx context.Context) ([]graph.SocialRecord, error)
	GroupOutcomes(ctx context.Context) ([]graph.GroupOutcomeRecord, error)
}

// LifecycleConfig 组装 Lifecycle 的依赖与配置。
type LifecycleConfig struct {
	Index   *core.EntityIndex
	Source  DataSource
	Builder *graph.Builder

	// Store 可选：提供时持久化 checkpoint 与热门榜
	Store core.KeyValueStore

	Hyper    core.Hyperparams
	Training core.TrainingConfig
	Logger   *zap.Logger
}

// Lifecycle 管理模型的训练周期与快照发布。
//
// 并发模型：
//   - 快照经 atomic.Pointer 整体替换，推理侧读到的永远是完整版本
//   - 同一时刻至多一个训练在跑：TriggerRetrain 以 CAS 抢占，
//     抢占失败立即返回 UNAVAILABLE，不排队
//   - 训练全程不持有快照锁，live 快照持续可用
type Lifecycle struct {
	index   *core.EntityIndex
	source  DataSource
	builder *graph.Builder
	store   core.KeyValueStore
	hyper   core.Hyperparams
	cfg     core.TrainingConfig
	log     *zap.Logger

	training atomic.Bool
	snapshot atomic.Pointer[Snapshot]

	// lastTrainedAt / lastSeen 只在训练协程内写（CAS 保证互斥）
	lastTrainedAt atomic.Int64 // Unix 秒，0 表示从未训练
	lastSeen      atomic.Int64 // 上次训练消费的交互时间戳上界
}

// NewLifecycle 构造生命周期管理器。Logger 为 nil 时静默。
func NewLifecycle(c LifecycleConfig) *Lifecycle {
	c.Hyper.Normalize()
	c.Training.Normalize()
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Builder == nil {
		c.Builder = &graph.Builder{RegisterMissing: true}
	}
	return &Lifecycle{
		index:   c.Index,
		source:  c.Source,
		builder: c.Builder,
		store:   c.Store,
		hyper:   c.Hyper,
		cfg:     c.Training,
		log:     c.Logger,
	}
}

// Snapshot 返回当前 live 快照，从未发布时为 nil。
func (lc *Lifecycle) Snapshot() *Snapshot {
	return lc.snapshot.Load()
}

// LastTrainedAt 返回上次成功发布的时间，零值表示从未训练。
func (lc *Lifecycle) LastTrainedAt() time.Time {
	sec := lc.lastTrainedAt.Load()
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// IsTraining 返回是否有训练周期在进行中。
func (lc *Lifecycle) IsTraining() bool {
	return lc.training.Load()
}

// TriggerRetrain 执行一个完整训练周期：取数、构图、训练、验证、发布。
// reason 标注触发来源（scheduled / manual / backfill），仅用于日志与审计。
//
// 返回错误的语义：
//   - UNAVAILABLE：已有训练在进行，本次请求被拒绝（不排队）
//   - DATA_INSUFFICIENT：冷却期未到 / 新增交互不足 / 样本太少，跳过
//   - TRAINING_DIVERGENCE：损失非有限值，候选被丢弃，live 快照不变
//   - VALIDATION_REGRESSION：候选显著劣于 live，被丢弃，live 快照不变
func (lc *Lifecycle) TriggerRetrain(ctx context.Context, reason string) (*Snapshot, error) {
	if !lc.training.CompareAndSwap(false, true) {
		return nil, core.NewDomainError(core.ModuleTrainer, core.ErrorCodeUnavailable,
			"trainer: retrain already in progress")
	}
	defer lc.training.Store(false)

	start := time.Now()
	lc.log.Info("retrain cycle started", zap.String("reason", reason))

	snap, err := lc.runCycle(ctx, start)
	if err != nil {
		lc.log.Warn("retrain cycle aborted",
			zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, err
	}

	lc.snapshot.Store(snap)
	lc.lastTrainedAt.Store(snap.TrainedAt.Unix())
	lc.log.Info("snapshot published",
		zap.Int("users", snap.NumUsers),
		zap.Int("items", snap.NumItems),
		zap.Float64("val_loss", snap.Metrics.Loss),
		zap.Float64("rank_acc", snap.Metrics.RankAccuracy),
		zap.Duration("elapsed", time.Since(start)))
	return snap, nil
}

func (lc *Lifecycle) runCycle(ctx context.Context, start time.Time) (*Snapshot, error) {
	// 节奏门槛：冷却期
	if last := lc.LastTrainedAt(); !last.IsZero() && lc.cfg.Cooldown > 0 {
		if since := start.Sub(last); since < lc.cfg.Cooldown {
			return nil, core.NewDomainError(core.ModuleTrainer, core.ErrorCodeDataInsufficient,
				fmt.Sprintf("trainer: cooldown not elapsed (%s < %s)", since, lc.cfg.Cooldown))
		}
	}

	interactions, err := lc.source.Interactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("trainer: fetch interactions: %w", err)
	}
	socials, err := lc.source.SocialConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("trainer: fetch social connections: %w", err)
	}
	outcomes, err := lc.source.GroupOutcomes(ctx)
	if err != nil {
		return nil, fmt.Errorf("trainer: fetch group outcomes: %w", err)
	}

	// 节奏门槛：最小新增交互数
	if lc.cfg.MinNewInteractions > 0 && lc.lastTrainedAt.Load() != 0 {
		if n := CountNew(interactions, time.Unix(lc.lastSeen.Load(), 0)); n < lc.cfg.MinNewInteractions {
			return nil, core.NewDomainError(core.ModuleTrainer, core.ErrorCodeDataInsufficient,
				fmt.Sprintf("trainer: only %d new interactions (need %d)", n, lc.cfg.MinNewInteractions))
		}
	}

	g, err := lc.builder.Build(ctx, interactions, socials, lc.index)
	if err != nil {
		return nil, err
	}
	lc.log.Info("graph built",
		zap.Int("users", g.NumUsers),
		zap.Int("items", g.NumItems),
		zap.Int("edges", g.NumEdges()),
		zap.Int("dropped_interactions", g.DroppedInteractions),
		zap.Int("dropped_social", g.DroppedSocial))

	// 热门榜在构图后立即同步：即使本周期被丢弃，冷启动降级也有数据
	if lc.store != nil {
		if err := lc.SyncPopularity(ctx, g); err != nil {
			lc.log.Warn("popularity sync failed", zap.Error(err))
		}
	}

	ds, err := BuildDataset(interactions, outcomes, lc.index, lc.cfg)
	if err != nil {
		return nil, err
	}

	m := model.New(g.NumUsers, g.NumItems, lc.hyper, rand.New(rand.NewSource(lc.cfg.Seed)))
	opt := model.NewAdam(lc.hyper.LearningRate, lc.hyper.WeightDecay)

	best := model.Evaluate(m, g, ds.Val)
	bestParams := cloneParams(m)
	sinceBest := 0
	for epoch := 0; epoch < lc.cfg.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trainLoss, err := model.TrainEpoch(ctx, m, g, ds.Train, opt, lc.cfg, epoch)
		if err != nil {
			return nil, err
		}
		if model.Diverged(trainLoss) {
			return nil, core.NewDomainError(core.ModuleTrainer, core.ErrorCodeTrainingDivergence,
				fmt.Sprintf("trainer: loss diverged at epoch %d", epoch))
		}

		val := model.Evaluate(m, g, ds.Val)
		if model.Diverged(val.Loss) {
			return nil, core.NewDomainError(core.ModuleTrainer, core.ErrorCodeTrainingDivergence,
				fmt.Sprintf("trainer: validation loss diverged at epoch %d", epoch))
		}
		lc.log.Debug("epoch finished",
			zap.Int("epoch", epoch),
			zap.Float64("train_loss", trainLoss),
			zap.Float64("val_loss", val.Loss))

		if val.Loss < best.Loss {
			best = val
			bestParams = cloneParams(m)
			sinceBest = 0
		} else {
			sinceBest++
			if sinceBest >= lc.cfg.Patience {
				lc.log.Info("early stop", zap.Int("epoch", epoch), zap.Float64("best_val_loss", best.Loss))
				break
			}
		}
	}
	restoreParams(m, bestParams)

	// 回退检查：候选显著劣于 live 快照则丢弃
	if live := lc.snapshot.Load(); live != nil {
		if best.Loss > live.Metrics.Loss*(1+lc.cfg.RegressionTolerance) {
			return nil, core.NewDomainError(core.ModuleTrainer, core.ErrorCodeValidationRegression,
				fmt.Sprintf("trainer: candidate val loss %.6f exceeds live %.6f by more than %.0f%%",
					best.Loss, live.Metrics.Loss, lc.cfg.RegressionTolerance*100))
		}
	}

	snap := NewSnapshot(m, g, best, start)
	lc.lastSeen.Store(maxTimestamp(interactions))

	if lc.store != nil {
		if err := SaveCheckpoint(ctx, lc.store, CheckpointKey, snap); err != nil {
			// checkpoint 失败不阻塞发布，下个周期重试
			lc.log.Warn("checkpoint save failed", zap.Error(err))
		}
	}
	return snap, nil
}

// SyncPopularity 把物品热度写入热门榜有序集合，冷启动降级从这里读。
func (lc *Lifecycle) SyncPopularity(ctx context.Context, g *graph.HeteroGraph) error {
	if lc.store == nil {
		return core.ErrStoreNotSupported
	}
	for i, pop := range g.ItemPopularity {
		id, ok := lc.index.Resolve(core.KindItem, i)
		if !ok {
			continue
		}
		if err := lc.store.ZAdd(ctx, PopularityKey, pop, id); err != nil {
			return fmt.Errorf("trainer: popularity zadd %q: %w", id, err)
		}
	}
	return nil
}

// Restore 从 checkpoint 恢复并发布快照，服务重启后调用。
// 需要图数据重算传播结果，因此仍会取数构图，但不训练。
func (lc *Lifecycle) Restore(ctx context.Context) (*Snapshot, error) {
	if lc.store == nil {
		return nil, core.ErrStoreNotSupported
	}
	interactions, err := lc.source.Interactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("trainer: fetch interactions: %w", err)
	}
	socials, err := lc.source.SocialConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("trainer: fetch social connections: %w", err)
	}
	g, err := lc.builder.Build(ctx, interactions, socials, lc.index)
	if err != nil {
		return nil, err
	}

	m, ck, err := LoadCheckpoint(ctx, lc.store, CheckpointKey,
		lc.index.Size(core.KindUser), lc.index.Size(core.KindItem))
	if err != nil {
		return nil, err
	}

	snap := NewSnapshot(m, g, ck.Metrics, ck.TrainedAt)
	lc.snapshot.Store(snap)
	lc.lastTrainedAt.Store(ck.TrainedAt.Unix())
	lc.lastSeen.Store(maxTimestamp(interactions))
	lc.log.Info("snapshot restored from checkpoint",
		zap.Time("trained_at", ck.TrainedAt),
		zap.Float64("val_loss", ck.Metrics.Loss))
	return snap, nil
}

func maxTimestamp(interactions []graph.InteractionRecord) int64 {
	var m time.Time
	for k := range interactions {
		if ts := interactions[k].Timestamp; ts.After(m) {
			m = ts
		}
	}
	if m.IsZero() {
		return 0
	}
	return m.Unix()
}

func cloneParams(m *model.Model) [][][]float64 {
	params := m.Params()
	out := make([][][]float64, len(params))
	for i, p := range params {
		c := p.Clone()
		out[i] = c.W
	}
	return out
}

func restoreParams(m *model.Model, saved [][][]float64) {
	for i, p := range m.Params() {
		for r := range saved[i] {
			copy(p.W[r], saved[i][r])
		}
	}
}
