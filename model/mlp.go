package model

import "math/rand"

// MLP 是前馈预测头：隐藏层 ReLU + dropout，输出层线性（logit）。
// Sigmoid 由调用方施加——损失对 logit 求导在数值上更稳。
type MLP struct {
	Sizes   []int // 例如 [4D, 2D, D, 1]
	Dropout float64

	W []*Mat // W[l]: Sizes[l+1]×Sizes[l]
	B []*Mat // B[l]: 1×Sizes[l+1]
}

func NewMLP(sizes []int, dropout float64, rng *rand.Rand) *MLP {
	m := &MLP{Sizes: sizes, Dropout: dropout}
	for l := 0; l+1 < len(sizes); l++ {
		w := NewMat(sizes[l+1], sizes[l])
		w.XavierInit(rng)
		m.W = append(m.W, w)
		m.B = append(m.B, NewMat(1, sizes[l+1]))
	}
	return m
}

func (m *MLP) params() []*Mat {
	out := make([]*Mat, 0, len(m.W)*2)
	for l := range m.W {
		out = append(out, m.W[l], m.B[l])
	}
	return out
}

type mlpState struct {
	in    [][]float64 // 每层输入（in[0] 为原始输入）
	pre   [][]float64 // 每层激活前
	masks [][]float64 // 隐藏层 dropout 掩码
}

// Forward 返回输出 logit（Sizes 末位必须为 1）。
func (m *MLP) Forward(x []float64, training bool, rng *rand.Rand) (float64, *mlpState) {
	st := &mlpState{
		in:    make([][]float64, len(m.W)),
		pre:   make([][]float64, len(m.W)),
		masks: make([][]float64, len(m.W)),
	}
	keep := 1 - m.Dropout

	cur := x
	for l := range m.W {
		st.in[l] = cur
		pre := matVec(m.W[l], cur)
		addVec(pre, m.B[l].W[0])
		st.pre[l] = pre

		if l == len(m.W)-1 {
			cur = pre // 输出层不激活
			break
		}
		next := make([]float64, len(pre))
		for j := range pre {
			next[j] = relu(pre[j])
		}
		if training && m.Dropout > 0 {
			mask := dropMask(len(next), keep, rng)
			for j := range next {
				next[j] *= mask[j]
			}
			st.masks[l] = mask
		}
		cur = next
	}
	return cur[0], st
}

// Backward 依据 dLogit 反传，返回对输入向量的梯度。
func (m *MLP) Backward(st *mlpState, dLogit float64, sink GradSink) []float64 {
	d := []float64{dLogit}
	for l := len(m.W) - 1; l >= 0; l-- {
		if l < len(m.W)-1 {
			// dropout + ReLU 反向
			for j := range d {
				if st.masks[l] != nil {
					d[j] *= st.masks[l][j]
				}
				if st.pre[l][j] <= 0 {
					d[j] = 0
				}
			}
		}
		addOuter(sink.Of(m.W[l]), d, st.in[l])
		addVec(sink.Of(m.B[l])[0], d)
		d = matTVec(m.W[l], d)
	}
	return d
}

// Predict 推理模式前向（无 dropout、无状态缓存的便捷入口）。
func (m *MLP) Predict(x []float64) float64 {
	cur := x
	for l := range m.W {
		pre := matVec(m.W[l], cur)
		addVec(pre, m.B[l].W[0])
		if l == len(m.W)-1 {
			return pre[0]
		}
		for j := range pre {
			pre[j] = relu(pre[j])
		}
		cur = pre
	}
	return 0
}
