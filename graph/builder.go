package graph

import (
	"context"
	"fmt"

	"github.com/rushteam/groupkit/core"
	"github.com/rushteam/groupkit/feature"
)

// Builder 把原始交互/社交记录构建为 HeteroGraph。
//
// 设计规则：
//   - 交互按类型路由：发起类 → 发起者边集，其余 → 参与者边集
//   - 交互边权重关于交互类型单调（purchase > join > like > view）
//   - 社交边权重取存储的连接强度
//   - 悬空引用（实体索引中不存在的节点）静默丢弃并计数，
//     仅当全部边都非法时返回 GraphConstructionError
type Builder struct {
	// Features 可选的节点特征提供者（内存 / Feast）
	Features feature.Provider

	// FeatureNames 需要拉取的特征列（为空则跳过特征附着）
	FeatureNames []string

	// RegisterMissing 为 true 时，构图过程中把缺失实体注册进索引；
	// 为 false 时缺失实体的边按悬空引用丢弃
	RegisterMissing bool
}

// Build 消费不可变批快照，产出三个边集与可选节点特征。
func (b *Builder) Build(
	ctx context.Context,
	interactions []InteractionRecord,
	socials []SocialRecord,
	idx *core.EntityIndex,
) (*HeteroGraph, error) {
	if b.RegisterMissing {
		for i := range interactions {
			// 注册失败（非法 ID）按悬空引用处理，留给下面的 Lookup 丢弃
			idx.Register(core.KindUser, interactions[i].UserID)
			idx.Register(core.KindItem, interactions[i].ItemID)
		}
		for i := range socials {
			idx.Register(core.KindUser, socials[i].UserID)
			idx.Register(core.KindUser, socials[i].FriendID)
		}
	}

	numUsers := idx.Size(core.KindUser)
	numItems := idx.Size(core.KindItem)

	g := &HeteroGraph{
		NumUsers:       numUsers,
		NumItems:       numItems,
		Initiator:      newBipartite(numUsers, numItems),
		Participant:    newBipartite(numUsers, numItems),
		Social:         make([][]Edge, numUsers),
		ItemPopularity: make([]float64, numItems),
	}

	for i := range interactions {
		rec := &interactions[i]
		u, okU := idx.Lookup(core.KindUser, rec.UserID)
		v, okI := idx.Lookup(core.KindItem, rec.ItemID)
		w := rec.EdgeWeight()
		if !okU || !okI || w == 0 {
			g.DroppedInteractions++
			continue
		}
		if rec.Type.IsInitiator() {
			g.Initiator.add(u, v, w)
		} else {
			g.Participant.add(u, v, w)
		}
		g.ItemPopularity[v]++
	}

	for i := range socials {
		rec := &socials[i]
		u, okU := idx.Lookup(core.KindUser, rec.UserID)
		f, okF := idx.Lookup(core.KindUser, rec.FriendID)
		if !okU || !okF || u == f || rec.Strength <= 0 || rec.Strength > 1 {
			g.DroppedSocial++
			continue
		}
		g.Social[u] = append(g.Social[u], Edge{To: f, Weight: rec.Strength})
		if rec.Bidirectional {
			g.Social[f] = append(g.Social[f], Edge{To: u, Weight: rec.Strength})
		}
	}

	total := len(interactions) + len(socials)
	if total > 0 && g.NumEdges() == 0 {
		return nil, core.NewDomainError(core.ModuleGraph, core.ErrorCodeGraphConstruction,
			fmt.Sprintf("graph: all %d edges invalid", total))
	}

	if b.Features != nil && len(b.FeatureNames) > 0 {
		if err := b.attachFeatures(ctx, g, idx); err != nil {
			// 特征缺失不阻塞构图，只降级为无特征
			g.UserFeatures = nil
			g.ItemFeatures = nil
		}
	}

	return g, nil
}

// attachFeatures 从 Provider 拉取节点特征，按实体下标对齐为矩阵。
// 缺失实体的行为零向量。
func (b *Builder) attachFeatures(ctx context.Context, g *HeteroGraph, idx *core.EntityIndex) error {
	dim := len(b.FeatureNames)

	userIDs := make([]string, g.NumUsers)
	for i := 0; i < g.NumUsers; i++ {
		userIDs[i], _ = idx.Resolve(core.KindUser, i)
	}
	userFeats, err := b.Features.UserFeatures(ctx, userIDs, b.FeatureNames)
	if err != nil {
		return fmt.Errorf("graph: user features: %w", err)
	}

	itemIDs := idx.ItemIDs()
	itemFeats, err := b.Features.ItemFeatures(ctx, itemIDs, b.FeatureNames)
	if err != nil {
		return fmt.Errorf("graph: item features: %w", err)
	}

	g.UserFeatures = make([][]float64, g.NumUsers)
	for i, id := range userIDs {
		if vec, ok := userFeats[id]; ok && len(vec) == dim {
			g.UserFeatures[i] = vec
		} else {
			g.UserFeatures[i] = make([]float64, dim)
		}
	}
	g.ItemFeatures = make([][]float64, g.NumItems)
	for i, id := range itemIDs {
		if vec, ok := itemFeats[id]; ok && len(vec) == dim {
			g.ItemFeatures[i] = vec
		} else {
			g.ItemFeatures[i] = make([]float64, dim)
		}
	}
	return nil
}
