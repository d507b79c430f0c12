package model

import (
	"math/rand"

	"github.com/rushteam/groupkit/core"
	"github.com/rushteam/groupkit/graph"
)

// Model 是拼团推荐的多视图图卷积模型：
//
//   - 用户/物品原始 Embedding 表（唯一的可学习状态，除层权重外）
//   - 发起者视图 / 参与者视图：各 L 层独立参数的图卷积栈，
//     从同一张原始表出发，在各自的边集上传播
//   - 跨视图交换：两栈完成后执行一次门控交换
//   - 社交影响栈：L2 层卷积作用在社交图上，输入仍为原始表
//   - 融合头：combined = α·init + (1−α)·part + β·social；
//     推荐头吃 [combined; item; init; part]，成功头吃 [combined; item]，
//     两头不共享权重
type Model struct {
	Hyper    core.Hyperparams
	NumUsers int
	NumItems int

	UserEmb *Mat // numUsers×D
	ItemEmb *Mat // numItems×D

	InitStack []*GCNLayer
	PartStack []*GCNLayer
	Social    *SocialStack
	Cross     *CrossView

	RecHead     *MLP // 4D → 2D → D → 1
	SuccessHead *MLP // 2D → D → 1
}

// New 随机初始化一个新模型。
func New(numUsers, numItems int, h core.Hyperparams, rng *rand.Rand) *Model {
	h.Normalize()
	d := h.Dim

	m := &Model{
		Hyper:       h,
		NumUsers:    numUsers,
		NumItems:    numItems,
		UserEmb:     NewMat(numUsers, d),
		ItemEmb:     NewMat(numItems, d),
		Social:      NewSocialStack(d, h.SocialLayers, h.Dropout, rng),
		Cross:       NewCrossView(d, h.Dropout, rng),
		RecHead:     NewMLP([]int{4 * d, 2 * d, d, 1}, h.Dropout, rng),
		SuccessHead: NewMLP([]int{2 * d, d, 1}, h.Dropout, rng),
	}
	m.UserEmb.NormalInit(rng, 0.1)
	m.ItemEmb.NormalInit(rng, 0.1)
	for i := 0; i < h.Layers; i++ {
		m.InitStack = append(m.InitStack, NewGCNLayer(d, h.Dropout, rng))
		m.PartStack = append(m.PartStack, NewGCNLayer(d, h.Dropout, rng))
	}
	return m
}

func (m *Model) Name() string { return "gbgcn" }

// Params 返回全部可训练参数矩阵（含 Embedding 表）。
func (m *Model) Params() []*Mat {
	out := []*Mat{m.UserEmb, m.ItemEmb}
	for _, l := range m.InitStack {
		out = append(out, l.params()...)
	}
	for _, l := range m.PartStack {
		out = append(out, l.params()...)
	}
	out = append(out, m.Social.params()...)
	out = append(out, m.Cross.params()...)
	out = append(out, m.RecHead.params()...)
	out = append(out, m.SuccessHead.params()...)
	return out
}

// Resize 随实体索引增长扩表：保留既有行。rng 非空时新行随机初始化
// （训练场景），为 nil 时补零（checkpoint 加载语义）。
func (m *Model) Resize(numUsers, numItems int, rng *rand.Rand) {
	if numUsers > m.NumUsers {
		m.UserEmb.Grow(numUsers-m.NumUsers, rng, 0.1)
		m.NumUsers = numUsers
	}
	if numItems > m.NumItems {
		m.ItemEmb.Grow(numItems-m.NumItems, rng, 0.1)
		m.NumItems = numItems
	}
}

// Propagated 是一次全图传播的产物：三路用户 Embedding 与反向所需的
// 全部中间状态。推理模式（training=false）下状态仅含最终矩阵。
type Propagated struct {
	InitUser   [][]float64 // 跨视图交换后的发起者视图
	PartUser   [][]float64 // 跨视图交换后的参与者视图
	SocialUser [][]float64

	initStates  []*bipartiteState
	partStates  []*bipartiteState
	initItems   [][]float64 // 发起者视图物品侧末层输出（仅反向用）
	partItems   [][]float64
	crossState  *crossViewState
	socialState *socialStackState
}

// Propagate 执行一次全图前向传播（每个 epoch 一次，mini-batch 只作用于损失）。
func (m *Model) Propagate(g *graph.HeteroGraph, training bool, rng *rand.Rand) *Propagated {
	p := &Propagated{}

	u := m.UserEmb.W
	v := m.ItemEmb.W

	cu, cv := u, v
	for _, l := range m.InitStack {
		var st *bipartiteState
		cu, cv, st = l.ForwardBipartite(cu, cv, g.Initiator, training, rng)
		p.initStates = append(p.initStates, st)
	}
	initUser, initItems := cu, cv

	cu, cv = u, v
	for _, l := range m.PartStack {
		var st *bipartiteState
		cu, cv, st = l.ForwardBipartite(cu, cv, g.Participant, training, rng)
		p.partStates = append(p.partStates, st)
	}
	partUser, partItems := cu, cv

	p.InitUser, p.PartUser, p.crossState = m.Cross.Forward(initUser, partUser, training, rng)
	p.initItems, p.partItems = initItems, partItems

	p.SocialUser, p.socialState = m.Social.Forward(u, g.Social, training, rng)
	return p
}

// BackwardGraph 把三路用户 Embedding 的梯度与物品原始表的直连梯度
// 反传到所有层权重与 Embedding 表。dInit/dPart/dSocial 是稠密矩阵
// （numUsers×D），dItemDirect 是物品原始表的稀疏行梯度。
func (m *Model) BackwardGraph(
	g *graph.HeteroGraph,
	p *Propagated,
	dInit, dPart, dSocial [][]float64,
	dItemDirect map[int][]float64,
	sink GradSink,
) {
	d := m.Hyper.Dim

	// 跨视图交换反向
	dInitL, dPartL := m.Cross.Backward(p.crossState, dInit, dPart, sink)

	// 视图栈反向（物品侧末层输出无下游，梯度为零矩阵）
	dU := dInitL
	dV := zeros(m.NumItems, d)
	for li := len(m.InitStack) - 1; li >= 0; li-- {
		dU, dV = m.InitStack[li].BackwardBipartite(p.initStates[li], g.Initiator, dU, dV, sink)
	}
	gUser := sink.Of(m.UserEmb)
	gItem := sink.Of(m.ItemEmb)
	for i := range dU {
		addVec(gUser[i], dU[i])
	}
	for i := range dV {
		addVec(gItem[i], dV[i])
	}

	dU = dPartL
	dV = zeros(m.NumItems, d)
	for li := len(m.PartStack) - 1; li >= 0; li-- {
		dU, dV = m.PartStack[li].BackwardBipartite(p.partStates[li], g.Participant, dU, dV, sink)
	}
	for i := range dU {
		addVec(gUser[i], dU[i])
	}
	for i := range dV {
		addVec(gItem[i], dV[i])
	}

	// 社交栈反向
	dUSocial := m.Social.Backward(p.socialState, g.Social, dSocial, sink)
	for i := range dUSocial {
		addVec(gUser[i], dUSocial[i])
	}

	// 融合头对物品原始表的直连梯度
	for idx, grad := range dItemDirect {
		addVec(gItem[idx], grad)
	}
}

// CombineUser 计算融合用户向量：α·init + (1−α)·part + β·social。
func (m *Model) CombineUser(init, part, social []float64) []float64 {
	a, b := m.Hyper.Alpha, m.Hyper.Beta
	out := make([]float64, m.Hyper.Dim)
	for j := range out {
		out[j] = a*init[j] + (1-a)*part[j] + b*social[j]
	}
	return out
}

// recFeatures 拼接推荐头输入：[combined; item; init; part]。
func (m *Model) recFeatures(combined, item, init, part []float64) []float64 {
	d := m.Hyper.Dim
	x := make([]float64, 4*d)
	copy(x[:d], combined)
	copy(x[d:2*d], item)
	copy(x[2*d:3*d], init)
	copy(x[3*d:], part)
	return x
}

// successFeatures 拼接成功头输入：[combined; item]。
func (m *Model) successFeatures(combined, item []float64) []float64 {
	d := m.Hyper.Dim
	x := make([]float64, 2*d)
	copy(x[:d], combined)
	copy(x[d:], item)
	return x
}

// ScoreRecommendation 推理模式计算推荐分 ∈ (0,1)。
func (m *Model) ScoreRecommendation(init, part, social, item []float64) float64 {
	combined := m.CombineUser(init, part, social)
	return sigmoid(m.RecHead.Predict(m.recFeatures(combined, item, init, part)))
}

// ScoreGroupSuccess 推理模式计算成团概率 ∈ (0,1)。
func (m *Model) ScoreGroupSuccess(init, part, social, item []float64) float64 {
	combined := m.CombineUser(init, part, social)
	return sigmoid(m.SuccessHead.Predict(m.successFeatures(combined, item)))
}
