package model

import "math"

// Adam 是 Adam 优化器（带 L2 权重衰减）。
// 每个训练周期持有一个实例；一阶/二阶动量按参数矩阵懒分配，
// 参数表扩容（实体索引增长）时对应动量自动重置。
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	t     int
	state map[*Mat]*adamState
}

type adamState struct {
	m [][]float64
	v [][]float64
}

func NewAdam(lr, weightDecay float64) *Adam {
	return &Adam{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		state:       make(map[*Mat]*adamState),
	}
}

// Step 对 sink 中出现的参数执行一步更新。未出现在 sink 中的参数不动。
func (a *Adam) Step(sink GradSink, params []*Mat) {
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for _, p := range params {
		g, ok := sink[p]
		if !ok {
			continue
		}
		st := a.state[p]
		if st == nil || len(st.m) != p.Rows {
			st = &adamState{m: zeros(p.Rows, p.Cols), v: zeros(p.Rows, p.Cols)}
			a.state[p] = st
		}
		for i := 0; i < p.Rows; i++ {
			for j := 0; j < p.Cols; j++ {
				grad := g[i][j] + a.WeightDecay*p.W[i][j]
				st.m[i][j] = a.Beta1*st.m[i][j] + (1-a.Beta1)*grad
				st.v[i][j] = a.Beta2*st.v[i][j] + (1-a.Beta2)*grad*grad
				mhat := st.m[i][j] / bc1
				vhat := st.v[i][j] / bc2
				p.W[i][j] -= a.LR * mhat / (math.Sqrt(vhat) + a.Eps)
			}
		}
	}
}

func zeros(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}
