package graph

// Edge 是带权邻接表中的一条出边。To 在双部图里是对侧实体的下标，
// 在社交图里是另一个用户的下标。
type Edge struct {
	To     int
	Weight float64
}

// Bipartite 是用户-物品双部图的一个视图（发起者或参与者），
// 以显式邻接表存储两个方向，供图卷积逐层聚合。
type Bipartite struct {
	// UserNeighbors[u] 是用户 u 的物品出边
	UserNeighbors [][]Edge

	// ItemNeighbors[i] 是物品 i 的用户出边
	ItemNeighbors [][]Edge

	// NumEdges 交互边总数（单向计数）
	NumEdges int
}

func newBipartite(numUsers, numItems int) *Bipartite {
	return &Bipartite{
		UserNeighbors: make([][]Edge, numUsers),
		ItemNeighbors: make([][]Edge, numItems),
	}
}

func (b *Bipartite) add(user, item int, weight float64) {
	b.UserNeighbors[user] = append(b.UserNeighbors[user], Edge{To: item, Weight: weight})
	b.ItemNeighbors[item] = append(b.ItemNeighbors[item], Edge{To: user, Weight: weight})
	b.NumEdges++
}

// HeteroGraph 是构图器的产物：三个带权边集 + 可选的节点特征矩阵。
//
// 节点自身的先验 Embedding 通过每层的 self 变换路径参与下一层表示
// （自环保证），邻居均值聚合不包含自环，避免邻居数量影响聚合量纲。
type HeteroGraph struct {
	NumUsers int
	NumItems int

	// Initiator 发起者视图边集（create_group / initiate）
	Initiator *Bipartite

	// Participant 参与者视图边集（view / click / like / share / join / purchase）
	Participant *Bipartite

	// Social 社交图邻接表：Social[u] 是用户 u 的出边，权重为连接强度
	Social [][]Edge

	// UserFeatures / ItemFeatures 可选的节点特征矩阵（来自 feature.Provider）
	UserFeatures [][]float64
	ItemFeatures [][]float64

	// ItemPopularity 物品被交互次数（喂给热门榜，冷启动降级用）
	ItemPopularity []float64

	// DroppedInteractions / DroppedSocial 因悬空引用被静默丢弃的边数，
	// 只作为可观测计数暴露，不会让构建失败
	DroppedInteractions int
	DroppedSocial       int
}

// NumEdges 返回三个边集的总边数。
func (g *HeteroGraph) NumEdges() int {
	n := g.Initiator.NumEdges + g.Participant.NumEdges
	for _, edges := range g.Social {
		n += len(edges)
	}
	return n
}
