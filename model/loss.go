package model

import (
	"math"
	"math/rand"
	"sort"
)

// socialRegWeight 社交正则系数，固定值。
const socialRegWeight = 0.001

// Triple 是一条 BPR 训练样本：用户 u 对正例 pos 的偏好应高于负例 neg。
type Triple struct {
	U   int
	Pos int
	Neg int
}

// LabeledPair 是一条成团结果样本，Label ∈ {0,1}。
type LabeledPair struct {
	U     int
	I     int
	Label float64
}

// Batch 是一个 mini-batch：排序三元组 + 成团标签对。
type Batch struct {
	Triples []Triple
	Labeled []LabeledPair
}

// batchResult 承载单批的损失与稀疏梯度：sink 收层权重梯度，
// 行梯度映射表收三路用户 Embedding 与物品原始表的梯度，
// 由调用方按批序合并，保证并行训练结果确定。
type batchResult struct {
	loss float64
	sink GradSink

	dInit   map[int][]float64
	dPart   map[int][]float64
	dSocial map[int][]float64
	dItem   map[int][]float64
}

func newBatchResult() *batchResult {
	return &batchResult{
		sink:    NewGradSink(),
		dInit:   map[int][]float64{},
		dPart:   map[int][]float64{},
		dSocial: map[int][]float64{},
		dItem:   map[int][]float64{},
	}
}

func (r *batchResult) row(m map[int][]float64, idx, dim int) []float64 {
	g, ok := m[idx]
	if !ok {
		g = make([]float64, dim)
		m[idx] = g
	}
	return g
}

// lossBatch 计算一个 mini-batch 的复合损失并反传到头部权重与
// 传播结果的行梯度：
//
//	L = BPR(三元组均值) + β·BCE(标签对均值) + 0.001·mean‖social_u‖₂
//
// 两处梯度都对 logit 求（BPR 经 s=σ(logit) 链式），数值稳定。
func lossBatch(m *Model, p *Propagated, b Batch, training bool, rng *rand.Rand) *batchResult {
	res := newBatchResult()
	d := m.Hyper.Dim
	beta := m.Hyper.Beta

	// 组合向量对三路用户向量的链式系数
	spreadCombined := func(u int, dCombined []float64) {
		a := m.Hyper.Alpha
		addScaled(res.row(res.dInit, u, d), dCombined, a)
		addScaled(res.row(res.dPart, u, d), dCombined, 1-a)
		addScaled(res.row(res.dSocial, u, d), dCombined, beta)
	}

	// 推荐头单次前向：返回分数与把 dLogit 反传回行梯度的闭包
	scoreRec := func(u, item int) (float64, func(dLogit float64)) {
		init, part, social := p.InitUser[u], p.PartUser[u], p.SocialUser[u]
		combined := m.CombineUser(init, part, social)
		x := m.recFeatures(combined, m.ItemEmb.W[item], init, part)
		logit, st := m.RecHead.Forward(x, training, rng)
		s := sigmoid(logit)
		back := func(dLogit float64) {
			dx := m.RecHead.Backward(st, dLogit, res.sink)
			spreadCombined(u, dx[:d])
			addVec(res.row(res.dItem, item, d), dx[d:2*d])
			addVec(res.row(res.dInit, u, d), dx[2*d:3*d])
			addVec(res.row(res.dPart, u, d), dx[3*d:])
		}
		return s, back
	}

	if n := len(b.Triples); n > 0 {
		for _, t := range b.Triples {
			sPos, backPos := scoreRec(t.U, t.Pos)
			sNeg, backNeg := scoreRec(t.U, t.Neg)

			// BPR：-ln σ(s⁺ − s⁻)，对分数的梯度为 ∓σ(s⁻ − s⁺)
			diff := sigmoid(sNeg - sPos)
			res.loss += -math.Log(1-diff+1e-12) / float64(n)

			scale := diff / float64(n)
			backPos(-scale * sPos * (1 - sPos))
			backNeg(scale * sNeg * (1 - sNeg))
		}
	}

	if mLab := len(b.Labeled); mLab > 0 {
		for _, lp := range b.Labeled {
			init, part, social := p.InitUser[lp.U], p.PartUser[lp.U], p.SocialUser[lp.U]
			combined := m.CombineUser(init, part, social)
			x := m.successFeatures(combined, m.ItemEmb.W[lp.I])
			logit, st := m.SuccessHead.Forward(x, training, rng)
			prob := sigmoid(logit)

			res.loss += beta * bce(prob, lp.Label) / float64(mLab)

			dLogit := beta * (prob - lp.Label) / float64(mLab)
			dx := m.SuccessHead.Backward(st, dLogit, res.sink)
			spreadCombined(lp.U, dx[:d])
			addVec(res.row(res.dItem, lp.I, d), dx[d:])
		}
	}

	// 社交正则：批内用户（去重）社交向量 L2 范数的均值。
	// 按升序遍历，浮点求和顺序固定。
	seen := map[int]struct{}{}
	var users []int
	for _, t := range b.Triples {
		if _, ok := seen[t.U]; !ok {
			seen[t.U] = struct{}{}
			users = append(users, t.U)
		}
	}
	for _, lp := range b.Labeled {
		if _, ok := seen[lp.U]; !ok {
			seen[lp.U] = struct{}{}
			users = append(users, lp.U)
		}
	}
	sort.Ints(users)
	if n := len(users); n > 0 {
		for _, u := range users {
			norm := l2norm(p.SocialUser[u])
			res.loss += socialRegWeight * norm / float64(n)
			if norm > 0 {
				addScaled(res.row(res.dSocial, u, d), p.SocialUser[u], socialRegWeight/(norm*float64(n)))
			}
		}
	}

	return res
}

// bce 二元交叉熵，带下溢保护。
func bce(p, y float64) float64 {
	const eps = 1e-12
	return -(y*math.Log(p+eps) + (1-y)*math.Log(1-p+eps))
}
