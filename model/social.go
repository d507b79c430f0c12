package model

import (
	"math/rand"

	"github.com/rushteam/groupkit/graph"
)

// SocialStack 是社交影响
// 传播栈：L2 层图卷积（层数可与视图栈不同）作用在社交图上，
// 输入是原始用户 Embedding 表（而非视图 Embedding），邻居聚合按
// 连接强度加权，最后过一层线性聚合得到每个用户的社交 Embedding。
//
// 无社交边的孤立用户只走 self 变换路径，输出永远是有限值。
type SocialStack struct {
	Dim    int
	Layers []*GCNLayer

	Agg  *Mat // D×D 影响聚合
	AggB *Mat // 1×D
}

func NewSocialStack(dim, numLayers int, dropout float64, rng *rand.Rand) *SocialStack {
	s := &SocialStack{
		Dim:  dim,
		Agg:  NewMat(dim, dim),
		AggB: NewMat(1, dim),
	}
	s.Agg.XavierInit(rng)
	for i := 0; i < numLayers; i++ {
		s.Layers = append(s.Layers, NewGCNLayer(dim, dropout, rng))
	}
	return s
}

func (s *SocialStack) params() []*Mat {
	out := []*Mat{s.Agg, s.AggB}
	for _, l := range s.Layers {
		out = append(out, l.params()...)
	}
	return out
}

type socialStackState struct {
	layers []*socialLayerState
	aggIn  [][]float64 // 聚合线性层的输入（最后一层卷积输出）
}

// Forward 返回每个用户的社交 Embedding。
func (s *SocialStack) Forward(
	u [][]float64,
	social [][]graph.Edge,
	training bool,
	rng *rand.Rand,
) ([][]float64, *socialStackState) {
	st := &socialStackState{}
	cur := u
	for _, l := range s.Layers {
		var ls *socialLayerState
		cur, ls = l.ForwardSocial(cur, social, training, rng)
		st.layers = append(st.layers, ls)
	}
	st.aggIn = cur

	out := make([][]float64, len(cur))
	for i := range cur {
		row := matVec(s.Agg, cur[i])
		addVec(row, s.AggB.W[0])
		out[i] = row
	}
	return out, st
}

// Backward 返回对原始用户 Embedding 表的梯度。
func (s *SocialStack) Backward(
	st *socialStackState,
	social [][]graph.Edge,
	dOut [][]float64,
	sink GradSink,
) [][]float64 {
	gAgg := sink.Of(s.Agg)
	gAggB := sink.Of(s.AggB)

	d := make([][]float64, len(dOut))
	for i := range dOut {
		addOuter(gAgg, dOut[i], st.aggIn[i])
		addVec(gAggB[0], dOut[i])
		d[i] = matTVec(s.Agg, dOut[i])
	}

	for li := len(s.Layers) - 1; li >= 0; li-- {
		d = s.Layers[li].BackwardSocial(st.layers[li], social, d, sink)
	}
	return d
}
