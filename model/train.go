package model

import (
	"context"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/groupkit/core"
	"github.com/rushteam/groupkit/graph"
)

// TrainEpoch 训练一个 epoch：全图传播一次，mini-batch 并行计算损失与
// 稀疏梯度，按批序合并后整体反传，最后执行一步 Adam。
//
// 确定性保证：每批的随机源由 (Seed, epoch, 批序号) 推出，梯度按批
// 序号合并，worker 调度顺序不影响结果。固定种子下两次训练逐位一致。
func TrainEpoch(
	ctx context.Context,
	m *Model,
	g *graph.HeteroGraph,
	batches []Batch,
	opt *Adam,
	cfg core.TrainingConfig,
	epoch int,
) (float64, error) {
	propRNG := rand.New(rand.NewSource(cfg.Seed + int64(epoch)*1_000_003))
	p := m.Propagate(g, true, propRNG)

	results := make([]*batchResult, len(batches))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(cfg.Workers)
	for i := range batches {
		i := i
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(cfg.Seed + int64(epoch)*1_000_003 + int64(i+1)*7919))
			results[i] = lossBatch(m, p, batches[i], true, rng)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	d := m.Hyper.Dim
	sink := NewGradSink()
	dInit := zeros(m.NumUsers, d)
	dPart := zeros(m.NumUsers, d)
	dSocial := zeros(m.NumUsers, d)
	dItem := map[int][]float64{}
	total := 0.0
	for _, r := range results {
		total += r.loss
		sink.Merge(r.sink)
		for u, grad := range r.dInit {
			addVec(dInit[u], grad)
		}
		for u, grad := range r.dPart {
			addVec(dPart[u], grad)
		}
		for u, grad := range r.dSocial {
			addVec(dSocial[u], grad)
		}
		for idx, grad := range r.dItem {
			row, ok := dItem[idx]
			if !ok {
				row = make([]float64, d)
				dItem[idx] = row
			}
			addVec(row, grad)
		}
	}

	m.BackwardGraph(g, p, dInit, dPart, dSocial, dItem, sink)
	opt.Step(sink, m.Params())

	mean := total
	if len(batches) > 0 {
		mean /= float64(len(batches))
	}
	return mean, nil
}

// EvalMetrics 验证集指标。
type EvalMetrics struct {
	Loss            float64 // 复合损失（推理模式，无 dropout）
	RankAccuracy    float64 // s⁺ > s⁻ 的三元组占比
	SuccessAccuracy float64 // 成团预测四舍五入后与标签一致的占比
}

// Evaluate 在验证批上计算指标，不产生梯度。
func Evaluate(m *Model, g *graph.HeteroGraph, batches []Batch) EvalMetrics {
	p := m.Propagate(g, false, nil)

	var out EvalMetrics
	var total float64
	rankHit, rankN := 0, 0
	succHit, succN := 0, 0
	for _, b := range batches {
		r := lossBatch(m, p, b, false, nil)
		total += r.loss
		for _, t := range b.Triples {
			sPos := m.ScoreRecommendation(p.InitUser[t.U], p.PartUser[t.U], p.SocialUser[t.U], m.ItemEmb.W[t.Pos])
			sNeg := m.ScoreRecommendation(p.InitUser[t.U], p.PartUser[t.U], p.SocialUser[t.U], m.ItemEmb.W[t.Neg])
			if sPos > sNeg {
				rankHit++
			}
			rankN++
		}
		for _, lp := range b.Labeled {
			prob := m.ScoreGroupSuccess(p.InitUser[lp.U], p.PartUser[lp.U], p.SocialUser[lp.U], m.ItemEmb.W[lp.I])
			if (prob >= 0.5) == (lp.Label >= 0.5) {
				succHit++
			}
			succN++
		}
	}
	if len(batches) > 0 {
		out.Loss = total / float64(len(batches))
	}
	if rankN > 0 {
		out.RankAccuracy = float64(rankHit) / float64(rankN)
	}
	if succN > 0 {
		out.SuccessAccuracy = float64(succHit) / float64(succN)
	}
	return out
}

// Diverged 判断损失是否已发散。
func Diverged(loss float64) bool {
	return math.IsNaN(loss) || math.IsInf(loss, 0)
}
