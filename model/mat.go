package model

import (
	"math"
	"math/rand"
)

// Mat 是一个稠密参数矩阵（行优先）。偏置向量用 Rows=1 的 Mat 表示。
// 梯度不随参数存放：每次反向传播写入独立的 GradSink，
// 按 batch 顺序归并，保证浮点归约顺序与调度无关（可复现）。
type Mat struct {
	Rows int         `json:"rows"`
	Cols int         `json:"cols"`
	W    [][]float64 `json:"w"`
}

func NewMat(rows, cols int) *Mat {
	w := make([][]float64, rows)
	for i := range w {
		w[i] = make([]float64, cols)
	}
	return &Mat{Rows: rows, Cols: cols, W: w}
}

// XavierInit 均匀 Xavier 初始化：U(-a, a)，a = sqrt(6/(fanIn+fanOut))。
func (m *Mat) XavierInit(rng *rand.Rand) {
	a := math.Sqrt(6.0 / float64(m.Rows+m.Cols))
	for i := range m.W {
		for j := range m.W[i] {
			m.W[i][j] = (rng.Float64()*2 - 1) * a
		}
	}
}

// NormalInit 正态初始化 N(0, std²)，用于 Embedding 表。
func (m *Mat) NormalInit(rng *rand.Rand, std float64) {
	for i := range m.W {
		for j := range m.W[i] {
			m.W[i][j] = rng.NormFloat64() * std
		}
	}
}

// Grow 纵向扩表：保留既有行，追加 extra 行。
// rng 非空时新行按 N(0, std²) 初始化，否则补零（checkpoint 加载语义）。
func (m *Mat) Grow(extra int, rng *rand.Rand, std float64) {
	for i := 0; i < extra; i++ {
		row := make([]float64, m.Cols)
		if rng != nil {
			for j := range row {
				row[j] = rng.NormFloat64() * std
			}
		}
		m.W = append(m.W, row)
	}
	m.Rows += extra
}

// Clone 深拷贝。
func (m *Mat) Clone() *Mat {
	out := NewMat(m.Rows, m.Cols)
	for i := range m.W {
		copy(out.W[i], m.W[i])
	}
	return out
}

// GradSink 收集一次反向传播产生的参数梯度，key 为参数矩阵。
// 每个 batch worker 持有独立的 sink，归并按 batch 下标序进行。
type GradSink map[*Mat][][]float64

func NewGradSink() GradSink { return make(GradSink) }

// Of 返回参数对应的梯度缓冲（懒分配零矩阵）。
func (s GradSink) Of(m *Mat) [][]float64 {
	g, ok := s[m]
	if !ok {
		g = make([][]float64, m.Rows)
		for i := range g {
			g[i] = make([]float64, m.Cols)
		}
		s[m] = g
	}
	return g
}

// Merge 把 other 的梯度累加进 s（调用方负责归并顺序）。
func (s GradSink) Merge(other GradSink) {
	for p, g := range other {
		dst := s.Of(p)
		for i := range g {
			for j := range g[i] {
				dst[i][j] += g[i][j]
			}
		}
	}
}

// 基础向量/矩阵运算

// matVec 计算 W·x（W: rows×cols, x: cols）。
func matVec(w *Mat, x []float64) []float64 {
	out := make([]float64, w.Rows)
	for i := 0; i < w.Rows; i++ {
		row := w.W[i]
		var sum float64
		for j := range row {
			sum += row[j] * x[j]
		}
		out[i] = sum
	}
	return out
}

// matTVec 计算 Wᵀ·y（y: rows）。
func matTVec(w *Mat, y []float64) []float64 {
	out := make([]float64, w.Cols)
	for i := 0; i < w.Rows; i++ {
		row := w.W[i]
		yi := y[i]
		if yi == 0 {
			continue
		}
		for j := range row {
			out[j] += row[j] * yi
		}
	}
	return out
}

// addOuter 累加外积：G += y ⊗ x（G: len(y)×len(x)）。
func addOuter(g [][]float64, y, x []float64) {
	for i := range y {
		yi := y[i]
		if yi == 0 {
			continue
		}
		row := g[i]
		for j := range x {
			row[j] += yi * x[j]
		}
	}
}

func addVec(dst, src []float64) {
	for i := range src {
		dst[i] += src[i]
	}
}

func addScaled(dst, src []float64, s float64) {
	for i := range src {
		dst[i] += src[i] * s
	}
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func l2norm(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// sigmoid Sigmoid 激活函数。
func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// leakyReLU 负半轴斜率 0.2 的 Leaky ReLU。
const leakySlope = 0.2

func leakyReLU(x float64) float64 {
	if x > 0 {
		return x
	}
	return leakySlope * x
}

func leakyReLUGrad(pre float64) float64 {
	if pre > 0 {
		return 1
	}
	return leakySlope
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}
