package trainer

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rushteam/groupkit/core"
	"github.com/rushteam/groupkit/graph"
	"github.com/rushteam/groupkit/model"
)

// Dataset 是一次训练周期的采样产物：训练批与验证批。
type Dataset struct {
	Train []model.Batch
	Val   []model.Batch

	// NumPositives 有效正样本（交互）数量
	NumPositives int
}

// BuildDataset 把交互与成团结果采样为 BPR 三元组与标签对：
//
//   - 每条有效交互是一个正样本 (u, i⁺)
//   - 每个正样本配 NegativeRatio 个负样本：均匀采样该用户未交互过的物品
//   - 成团结果直接成为标签对 (u, i, y)
//   - 正样本与标签对各自按 TrainRatio 切分，再按 BatchSize 分批
//
// 采样全程使用 cfg.Seed 推出的随机源，固定种子下产出一致。
func BuildDataset(
	interactions []graph.InteractionRecord,
	outcomes []graph.GroupOutcomeRecord,
	idx *core.EntityIndex,
	cfg core.TrainingConfig,
) (*Dataset, error) {
	numItems := idx.Size(core.KindItem)
	if numItems < 2 {
		return nil, core.NewDomainError(core.ModuleTrainer, core.ErrorCodeDataInsufficient,
			fmt.Sprintf("trainer: need at least 2 items for negative sampling, have %d", numItems))
	}

	type positive struct{ u, i int }
	var positives []positive
	interacted := map[int]map[int]bool{}
	for k := range interactions {
		rec := &interactions[k]
		u, okU := idx.Lookup(core.KindUser, rec.UserID)
		i, okI := idx.Lookup(core.KindItem, rec.ItemID)
		if !okU || !okI {
			continue
		}
		positives = append(positives, positive{u, i})
		if interacted[u] == nil {
			interacted[u] = map[int]bool{}
		}
		interacted[u][i] = true
	}
	if len(positives) == 0 {
		return nil, core.NewDomainError(core.ModuleTrainer, core.ErrorCodeDataInsufficient,
			"trainer: no valid interactions after index lookup")
	}

	// 采样门槛：交互过少的用户/物品的正样本不进入训练集
	if cfg.MinInteractionsPerUser > 0 || cfg.MinInteractionsPerItem > 0 {
		userCount := map[int]int{}
		itemCount := map[int]int{}
		for _, p := range positives {
			userCount[p.u]++
			itemCount[p.i]++
		}
		kept := positives[:0]
		for _, p := range positives {
			if userCount[p.u] < cfg.MinInteractionsPerUser || itemCount[p.i] < cfg.MinInteractionsPerItem {
				continue
			}
			kept = append(kept, p)
		}
		positives = kept
		if len(positives) == 0 {
			return nil, core.NewDomainError(core.ModuleTrainer, core.ErrorCodeDataInsufficient,
				fmt.Sprintf("trainer: no positives left after min-interaction thresholds (user>=%d item>=%d)",
					cfg.MinInteractionsPerUser, cfg.MinInteractionsPerItem))
		}
	}

	var labeled []model.LabeledPair
	for k := range outcomes {
		rec := &outcomes[k]
		u, okU := idx.Lookup(core.KindUser, rec.UserID)
		i, okI := idx.Lookup(core.KindItem, rec.ItemID)
		if !okU || !okI {
			continue
		}
		label := 0.0
		if rec.Success {
			label = 1.0
		}
		labeled = append(labeled, model.LabeledPair{U: u, I: i, Label: label})
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	rng.Shuffle(len(positives), func(a, b int) { positives[a], positives[b] = positives[b], positives[a] })
	rng.Shuffle(len(labeled), func(a, b int) { labeled[a], labeled[b] = labeled[b], labeled[a] })

	// 每个正样本展开 NegativeRatio 个三元组
	sampleNeg := func(u int) int {
		seen := interacted[u]
		if len(seen) >= numItems {
			// 该用户交互过全部物品：退化为任意不同物品
			return rng.Intn(numItems)
		}
		for {
			cand := rng.Intn(numItems)
			if !seen[cand] {
				return cand
			}
		}
	}
	triples := make([]model.Triple, 0, len(positives)*cfg.NegativeRatio)
	for _, p := range positives {
		for n := 0; n < cfg.NegativeRatio; n++ {
			triples = append(triples, model.Triple{U: p.u, Pos: p.i, Neg: sampleNeg(p.u)})
		}
	}

	cutT := int(float64(len(triples)) * cfg.TrainRatio)
	cutL := int(float64(len(labeled)) * cfg.TrainRatio)

	ds := &Dataset{NumPositives: len(positives)}
	ds.Train = assemble(triples[:cutT], labeled[:cutL], cfg.BatchSize)
	ds.Val = assemble(triples[cutT:], labeled[cutL:], cfg.BatchSize)
	if len(ds.Train) == 0 || len(ds.Val) == 0 {
		return nil, core.NewDomainError(core.ModuleTrainer, core.ErrorCodeDataInsufficient,
			fmt.Sprintf("trainer: split too small (train=%d val=%d batches)", len(ds.Train), len(ds.Val)))
	}
	return ds, nil
}

// assemble 按 batchSize 切分三元组，标签对在批间轮转分摊。
func assemble(triples []model.Triple, labeled []model.LabeledPair, batchSize int) []model.Batch {
	var batches []model.Batch
	for start := 0; start < len(triples); start += batchSize {
		end := start + batchSize
		if end > len(triples) {
			end = len(triples)
		}
		batches = append(batches, model.Batch{Triples: triples[start:end]})
	}
	if len(batches) == 0 && len(labeled) > 0 {
		batches = append(batches, model.Batch{})
	}
	for k, lp := range labeled {
		b := &batches[k%len(batches)]
		b.Labeled = append(b.Labeled, lp)
	}
	return batches
}

// CountNew 统计时间戳晚于 since 的交互数，
// 供 Lifecycle 判定是否满足最小新增交互门槛。
func CountNew(interactions []graph.InteractionRecord, since time.Time) int {
	n := 0
	for k := range interactions {
		if interactions[k].Timestamp.After(since) {
			n++
		}
	}
	return n
}
