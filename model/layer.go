package model

import (
	"math/rand"

	"github.com/rushteam/groupkit/graph"
)

// GCNLayer 是一层图卷积：
//
//	out_i = LeakyReLU( W_self·x_i + mean_{j∈N(i)}( w_ij · W_neigh·x_j ) + b )
//
// 再接 dropout。均值聚合（而非求和）保证节点度数不影响输出量纲——
// 发起者/参与者两个视图的度分布差异很大，这一点是必须的。
// 节点自身的贡献走 W_self 路径（自环语义），邻居均值不含自环：
// 孤立节点的输出就是 LeakyReLU(W_self·x_i + b)，不会出现 NaN。
//
// 每个视图、每一层都有独立的 W_self / W_neigh / b。
type GCNLayer struct {
	Dim     int
	Dropout float64

	WSelf  *Mat // D×D
	WNeigh *Mat // D×D
	Bias   *Mat // 1×D
}

func NewGCNLayer(dim int, dropout float64, rng *rand.Rand) *GCNLayer {
	l := &GCNLayer{
		Dim:     dim,
		Dropout: dropout,
		WSelf:   NewMat(dim, dim),
		WNeigh:  NewMat(dim, dim),
		Bias:    NewMat(1, dim),
	}
	l.WSelf.XavierInit(rng)
	l.WNeigh.XavierInit(rng)
	return l
}

func (l *GCNLayer) params() []*Mat {
	return []*Mat{l.WSelf, l.WNeigh, l.Bias}
}

// sideState 缓存一侧节点的前向中间量，供反向传播使用。
type sideState struct {
	in   [][]float64 // 输入（引用，不拷贝）
	agg  [][]float64 // 邻居聚合和 s_i = Σ c_ij · x_j
	pre  [][]float64 // 激活前
	mask [][]float64 // dropout 掩码（eval 模式为 nil）
}

// bipartiteState 缓存双部图一层的用户侧与物品侧状态。
type bipartiteState struct {
	user *sideState
	item *sideState
}

// socialLayerState 缓存社交图一层的状态。
type socialLayerState struct {
	user *sideState
}

// forwardSide 对一侧节点做前向。nbrs[i] 的 To 指向 xOther 的行。
// weightedMean 为 true 时按权重和归一（社交图：强度加权均值）；
// 否则按邻居数归一、权重进分子（交互图：spec 公式逐字）。
func (l *GCNLayer) forwardSide(
	x, xOther [][]float64,
	nbrs [][]graph.Edge,
	weightedMean bool,
	training bool,
	rng *rand.Rand,
) ([][]float64, *sideState) {
	n := len(x)
	st := &sideState{
		in:  x,
		agg: make([][]float64, n),
		pre: make([][]float64, n),
	}
	if training && l.Dropout > 0 {
		st.mask = make([][]float64, n)
	}

	out := make([][]float64, n)
	keep := 1 - l.Dropout
	for i := 0; i < n; i++ {
		agg := make([]float64, l.Dim)
		edges := nbrs[i]
		if len(edges) > 0 {
			norm := float64(len(edges))
			if weightedMean {
				norm = 0
				for _, e := range edges {
					norm += e.Weight
				}
			}
			if norm > 0 {
				for _, e := range edges {
					addScaled(agg, xOther[e.To], e.Weight/norm)
				}
			}
		}
		st.agg[i] = agg

		pre := matVec(l.WSelf, x[i])
		addVec(pre, matVec(l.WNeigh, agg))
		addVec(pre, l.Bias.W[0])
		st.pre[i] = pre

		row := make([]float64, l.Dim)
		for j := range pre {
			row[j] = leakyReLU(pre[j])
		}
		if st.mask != nil {
			mask := make([]float64, l.Dim)
			for j := range mask {
				if rng.Float64() < keep {
					mask[j] = 1 / keep
				}
				row[j] *= mask[j]
			}
			st.mask[i] = mask
		}
		out[i] = row
	}
	return out, st
}

// backwardSide 对一侧节点做反向。返回对本侧输入的梯度；对侧输入的梯度
// 通过 dOther 累加（邻居路径）。
func (l *GCNLayer) backwardSide(
	st *sideState,
	nbrs [][]graph.Edge,
	weightedMean bool,
	dOut [][]float64,
	dOther [][]float64,
	sink GradSink,
) [][]float64 {
	n := len(st.in)
	dIn := make([][]float64, n)
	for i := range dIn {
		dIn[i] = make([]float64, l.Dim)
	}

	gWSelf := sink.Of(l.WSelf)
	gWNeigh := sink.Of(l.WNeigh)
	gBias := sink.Of(l.Bias)

	for i := 0; i < n; i++ {
		d := dOut[i]
		if d == nil {
			continue
		}
		// dropout 与 LeakyReLU 的反向
		dpre := make([]float64, l.Dim)
		for j := range dpre {
			g := d[j]
			if st.mask != nil {
				g *= st.mask[i][j]
			}
			dpre[j] = g * leakyReLUGrad(st.pre[i][j])
		}

		addVec(gBias[0], dpre)
		addOuter(gWSelf, dpre, st.in[i])
		addVec(dIn[i], matTVec(l.WSelf, dpre))

		edges := nbrs[i]
		if len(edges) == 0 {
			continue
		}
		addOuter(gWNeigh, dpre, st.agg[i])
		h := matTVec(l.WNeigh, dpre)
		norm := float64(len(edges))
		if weightedMean {
			norm = 0
			for _, e := range edges {
				norm += e.Weight
			}
		}
		if norm <= 0 {
			continue
		}
		for _, e := range edges {
			addScaled(dOther[e.To], h, e.Weight/norm)
		}
	}
	return dIn
}

// ForwardBipartite 在一个用户-物品视图上前向一层：两侧同时更新，
// 同一套层参数（一个节点空间的两类节点）。
func (l *GCNLayer) ForwardBipartite(
	u, v [][]float64,
	bip *graph.Bipartite,
	training bool,
	rng *rand.Rand,
) ([][]float64, [][]float64, *bipartiteState) {
	uOut, uState := l.forwardSide(u, v, bip.UserNeighbors, false, training, rng)
	vOut, vState := l.forwardSide(v, u, bip.ItemNeighbors, false, training, rng)
	return uOut, vOut, &bipartiteState{user: uState, item: vState}
}

// BackwardBipartite 反向一层，返回对两侧输入的梯度。
func (l *GCNLayer) BackwardBipartite(
	st *bipartiteState,
	bip *graph.Bipartite,
	dU, dV [][]float64,
	sink GradSink,
) ([][]float64, [][]float64) {
	dInU := make([][]float64, len(st.user.in))
	for i := range dInU {
		dInU[i] = make([]float64, l.Dim)
	}
	dInV := make([][]float64, len(st.item.in))
	for i := range dInV {
		dInV[i] = make([]float64, l.Dim)
	}

	// 用户侧输出的梯度：self 路径进 dInU，邻居路径进 dInV
	duSelf := l.backwardSide(st.user, bip.UserNeighbors, false, dU, dInV, sink)
	for i := range duSelf {
		addVec(dInU[i], duSelf[i])
	}
	// 物品侧输出的梯度：self 路径进 dInV，邻居路径进 dInU
	dvSelf := l.backwardSide(st.item, bip.ItemNeighbors, false, dV, dInU, sink)
	for i := range dvSelf {
		addVec(dInV[i], dvSelf[i])
	}
	return dInU, dInV
}

// ForwardSocial 在社交图上前向一层（仅用户节点，强度加权均值）。
func (l *GCNLayer) ForwardSocial(
	u [][]float64,
	social [][]graph.Edge,
	training bool,
	rng *rand.Rand,
) ([][]float64, *socialLayerState) {
	out, st := l.forwardSide(u, u, social, true, training, rng)
	return out, &socialLayerState{user: st}
}

// BackwardSocial 反向一层社交卷积。
func (l *GCNLayer) BackwardSocial(
	st *socialLayerState,
	social [][]graph.Edge,
	dOut [][]float64,
	sink GradSink,
) [][]float64 {
	dIn := make([][]float64, len(st.user.in))
	for i := range dIn {
		dIn[i] = make([]float64, l.Dim)
	}
	dSelf := l.backwardSide(st.user, social, true, dOut, dIn, sink)
	for i := range dSelf {
		addVec(dIn[i], dSelf[i])
	}
	return dIn
}
