package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/groupkit/core"
	"github.com/rushteam/groupkit/graph"
	"github.com/rushteam/groupkit/pkg/dsl"
	"github.com/rushteam/groupkit/pkg/utils"
	"github.com/rushteam/groupkit/trainer"
)

// SnapshotProvider 提供当前 live 快照，由 trainer.Lifecycle 实现。
type SnapshotProvider interface {
	Snapshot() *trainer.Snapshot
	IsTraining() bool
	LastTrainedAt() time.Time
}

// Config 组装推理服务的依赖与配置。
type Config struct {
	Index     *core.EntityIndex
	Snapshots SnapshotProvider

	// Store 可选：热门榜有序集合，冷启动降级的首选来源
	Store core.KeyValueStore

	// Catalog 可选：商品目录，附着到结果的 Meta 并可被过滤表达式引用
	Catalog []graph.CatalogRecord

	// Filters CEL 过滤表达式，全部通过的物品才进入结果
	Filters []string

	// TopK 默认返回条数（请求未指定时）
	TopK int

	// Workers 打分并发度
	Workers int

	Logger *zap.Logger
}

// Service 是拼团推荐的推理服务。
//
// 并发模型：每次请求开头取一次快照引用，整个请求基于同一版本打分；
// 训练发布新快照不影响进行中的请求。
type Service struct {
	index     *core.EntityIndex
	snapshots SnapshotProvider
	store     core.KeyValueStore
	catalog   map[string]graph.CatalogRecord
	filters   []string
	topK      int
	workers   int
	log       *zap.Logger
}

func New(c Config) *Service {
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	catalog := make(map[string]graph.CatalogRecord, len(c.Catalog))
	for _, rec := range c.Catalog {
		catalog[rec.ItemID] = rec
	}
	return &Service{
		index:     c.Index,
		snapshots: c.Snapshots,
		store:     c.Store,
		catalog:   catalog,
		filters:   c.Filters,
		topK:      c.TopK,
		workers:   c.Workers,
		log:       c.Logger,
	}
}

// Recommend 为用户返回 top-k 拼团推荐。
//
// 路径选择：
//   - 用户在 live 快照范围内 → 模型打分（全量候选并行打分）
//   - 无快照 / 未知用户 → 热门降级（热门榜 → 快照热度 → 注册序）
//
// 结果带 recall_source 标签标明来源，分数降序，同分按物品下标升序。
func (s *Service) Recommend(ctx context.Context, rctx *core.RecommendContext, k int) ([]*core.Item, error) {
	if rctx == nil || rctx.UserID == "" {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput,
			"service: user id is required")
	}
	if k <= 0 {
		k = s.topK
	}

	snap := s.snapshots.Snapshot()
	if snap != nil {
		if uidx, ok := s.index.Lookup(core.KindUser, rctx.UserID); ok && uidx < snap.NumUsers {
			return s.recommendModel(ctx, rctx, snap, uidx, k)
		}
	}
	s.log.Debug("falling back to popularity",
		zap.String("user_id", rctx.UserID), zap.Bool("has_snapshot", snap != nil))
	return s.recommendPopular(ctx, rctx, snap, k)
}

// recommendModel 用快照模型为已知用户全量打分。
func (s *Service) recommendModel(ctx context.Context, rctx *core.RecommendContext, snap *trainer.Snapshot, uidx, k int) ([]*core.Item, error) {
	init, part, social, _ := snap.UserVectors(uidx)

	scores := make([]float64, snap.NumItems)
	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	const chunk = 256
	for lo := 0; lo < snap.NumItems; lo += chunk {
		lo := lo
		hi := lo + chunk
		if hi > snap.NumItems {
			hi = snap.NumItems
		}
		eg.Go(func() error {
			for i := lo; i < hi; i++ {
				scores[i] = snap.Model.ScoreRecommendation(init, part, social, snap.ItemVector(i))
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	order := make([]int, snap.NumItems)
	for i := range order {
		order[i] = i
	}
	// 分数降序，同分按物品下标升序，保证结果确定
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return order[a] < order[b]
	})

	items := make([]*core.Item, 0, k)
	for _, idx := range order {
		id, ok := s.index.Resolve(core.KindItem, idx)
		if !ok {
			continue
		}
		it := s.buildItem(id, scores[idx], "gbgcn", "recall")
		pass, err := s.applyFilters(it, rctx)
		if err != nil {
			return nil, err
		}
		if !pass {
			continue
		}
		items = append(items, it)
		if len(items) >= k {
			break
		}
	}
	return items, nil
}

// recommendPopular 热门降级：热门榜有序集合优先，退化到快照热度，
// 再退化到注册序。三条路径都是确定性的。
func (s *Service) recommendPopular(ctx context.Context, rctx *core.RecommendContext, snap *trainer.Snapshot, k int) ([]*core.Item, error) {
	var ids []string
	if s.store != nil {
		members, err := s.store.ZRange(ctx, trainer.PopularityKey, 0, -1)
		if err != nil && !core.IsStoreNotFound(err) && !core.IsStoreNotSupported(err) {
			return nil, fmt.Errorf("service: popularity zrange: %w", err)
		}
		ids = members
	}
	if len(ids) == 0 && snap != nil && len(snap.ItemPopularity) > 0 {
		ids = popularFromSnapshot(snap, s.index)
	}
	if len(ids) == 0 {
		ids = s.index.ItemIDs()
	}

	items := make([]*core.Item, 0, k)
	for _, id := range ids {
		it := s.buildItem(id, 0, "popularity", "fallback")
		pass, err := s.applyFilters(it, rctx)
		if err != nil {
			return nil, err
		}
		if !pass {
			continue
		}
		items = append(items, it)
		if len(items) >= k {
			break
		}
	}
	return items, nil
}

// popularFromSnapshot 按快照热度降序排列物品 ID，同热度按下标升序。
func popularFromSnapshot(snap *trainer.Snapshot, index *core.EntityIndex) []string {
	order := make([]int, len(snap.ItemPopularity))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if snap.ItemPopularity[order[a]] != snap.ItemPopularity[order[b]] {
			return snap.ItemPopularity[order[a]] > snap.ItemPopularity[order[b]]
		}
		return order[a] < order[b]
	})
	ids := make([]string, 0, len(order))
	for _, idx := range order {
		if id, ok := index.Resolve(core.KindItem, idx); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Service) buildItem(id string, score float64, source, channel string) *core.Item {
	it := core.NewItem(id)
	it.Score = score
	it.PutLabel("recall_source", utils.Label{Value: source, Source: channel})
	if rec, ok := s.catalog[id]; ok {
		it.Meta["min_group_size"] = rec.MinGroupSize
		it.Meta["max_group_size"] = rec.MaxGroupSize
		for name, v := range rec.Attributes {
			it.Meta[name] = v
		}
	}
	return it
}

func (s *Service) applyFilters(it *core.Item, rctx *core.RecommendContext) (bool, error) {
	for _, expr := range s.filters {
		ok, err := dsl.NewEval(it, rctx).Evaluate(expr)
		if err != nil {
			return false, fmt.Errorf("service: filter %q: %w", expr, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
