package model

import "math/rand"

// CrossView 是跨视图交换模块：两个视图传播完成后，各节点计算一个
// 标量门控 g = sigmoid(Linear([A_i·init ; A_p·part]))，再按门控交换信息。
//
// 交换作用在两个视图的“差值”上，且双向更新都取交换前的值：
//
//	init' = init + dropout( g ⊙ T(part − init) )
//	part' = part + dropout( (1−g) ⊙ T(init − part) )
//
// 这样 init == part 的不动点处交换严格为恒等（不会产生顺序相关的漂移），
// 门控的直觉保持不变：以发团为主的用户降低参与者视图信号的权重，反之亦然。
// T 是无偏置的线性变换——带偏置会破坏不动点。
//
// 每次前向恰好执行一次（不随层数重复）。
type CrossView struct {
	Dim     int
	Dropout float64

	AttnInit  *Mat // D×D
	AttnInitB *Mat // 1×D
	AttnPart  *Mat // D×D
	AttnPartB *Mat // 1×D
	Combine   *Mat // 1×2D
	CombineB  *Mat // 1×1
	Transform *Mat // D×D（无偏置）
}

func NewCrossView(dim int, dropout float64, rng *rand.Rand) *CrossView {
	cv := &CrossView{
		Dim:       dim,
		Dropout:   dropout,
		AttnInit:  NewMat(dim, dim),
		AttnInitB: NewMat(1, dim),
		AttnPart:  NewMat(dim, dim),
		AttnPartB: NewMat(1, dim),
		Combine:   NewMat(1, 2*dim),
		CombineB:  NewMat(1, 1),
		Transform: NewMat(dim, dim),
	}
	cv.AttnInit.XavierInit(rng)
	cv.AttnPart.XavierInit(rng)
	cv.Combine.XavierInit(rng)
	cv.Transform.XavierInit(rng)
	return cv
}

func (cv *CrossView) params() []*Mat {
	return []*Mat{cv.AttnInit, cv.AttnInitB, cv.AttnPart, cv.AttnPartB, cv.Combine, cv.CombineB, cv.Transform}
}

type crossViewState struct {
	init, part [][]float64 // 交换前输入（引用）
	hi, hp     [][]float64 // 注意力变换输出
	gate       []float64   // 每节点标量门控
	diff       [][]float64 // part − init
	t          [][]float64 // T(part − init)
	maskI      [][]float64 // dropout 掩码（eval 为 nil）
	maskP      [][]float64
}

// Forward 对全体用户执行一次跨视图交换。
func (cv *CrossView) Forward(
	init, part [][]float64,
	training bool,
	rng *rand.Rand,
) ([][]float64, [][]float64, *crossViewState) {
	n := len(init)
	st := &crossViewState{
		init: init,
		part: part,
		hi:   make([][]float64, n),
		hp:   make([][]float64, n),
		gate: make([]float64, n),
		diff: make([][]float64, n),
		t:    make([][]float64, n),
	}
	if training && cv.Dropout > 0 {
		st.maskI = make([][]float64, n)
		st.maskP = make([][]float64, n)
	}

	initOut := make([][]float64, n)
	partOut := make([][]float64, n)
	keep := 1 - cv.Dropout

	for i := 0; i < n; i++ {
		hi := matVec(cv.AttnInit, init[i])
		addVec(hi, cv.AttnInitB.W[0])
		hp := matVec(cv.AttnPart, part[i])
		addVec(hp, cv.AttnPartB.W[0])
		st.hi[i] = hi
		st.hp[i] = hp

		z := cv.CombineB.W[0][0]
		z += dot(cv.Combine.W[0][:cv.Dim], hi)
		z += dot(cv.Combine.W[0][cv.Dim:], hp)
		g := sigmoid(z)
		st.gate[i] = g

		diff := make([]float64, cv.Dim)
		for j := range diff {
			diff[j] = part[i][j] - init[i][j]
		}
		st.diff[i] = diff
		t := matVec(cv.Transform, diff)
		st.t[i] = t

		io := make([]float64, cv.Dim)
		po := make([]float64, cv.Dim)
		var mi, mp []float64
		if st.maskI != nil {
			mi = dropMask(cv.Dim, keep, rng)
			mp = dropMask(cv.Dim, keep, rng)
			st.maskI[i] = mi
			st.maskP[i] = mp
		}
		for j := 0; j < cv.Dim; j++ {
			di := g * t[j]        // T(part−init) 的门控份额
			dp := (1 - g) * -t[j] // T(init−part) = −T(part−init)
			if mi != nil {
				di *= mi[j]
				dp *= mp[j]
			}
			io[j] = init[i][j] + di
			po[j] = part[i][j] + dp
		}
		initOut[i] = io
		partOut[i] = po
	}
	return initOut, partOut, st
}

// Backward 反向传播跨视图交换，返回对交换前 init/part 的梯度。
func (cv *CrossView) Backward(
	st *crossViewState,
	dInitOut, dPartOut [][]float64,
	sink GradSink,
) ([][]float64, [][]float64) {
	n := len(st.init)
	dInit := make([][]float64, n)
	dPart := make([][]float64, n)

	gAttnInit := sink.Of(cv.AttnInit)
	gAttnInitB := sink.Of(cv.AttnInitB)
	gAttnPart := sink.Of(cv.AttnPart)
	gAttnPartB := sink.Of(cv.AttnPartB)
	gCombine := sink.Of(cv.Combine)
	gCombineB := sink.Of(cv.CombineB)
	gTransform := sink.Of(cv.Transform)

	for i := 0; i < n; i++ {
		g := st.gate[i]
		di := make([]float64, cv.Dim)
		dp := make([]float64, cv.Dim)
		copy(di, dInitOut[i]) // 恒等直通路径
		copy(dp, dPartOut[i])

		// 交换项的梯度（过 dropout 掩码）
		u1 := make([]float64, cv.Dim)
		u2 := make([]float64, cv.Dim)
		for j := 0; j < cv.Dim; j++ {
			u1[j] = dInitOut[i][j]
			u2[j] = dPartOut[i][j]
			if st.maskI != nil {
				u1[j] *= st.maskI[i][j]
				u2[j] *= st.maskP[i][j]
			}
		}

		// init 路径：g·t_j；part 路径：(1−g)·(−t_j)
		var dg float64
		dt := make([]float64, cv.Dim)
		for j := 0; j < cv.Dim; j++ {
			dg += u1[j] * st.t[i][j]   // ∂(g·t)/∂g
			dg += u2[j] * st.t[i][j]   // ∂((1−g)·(−t))/∂g = t
			dt[j] += u1[j] * g         // ∂(g·t)/∂t
			dt[j] -= u2[j] * (1 - g)   // ∂((1−g)·(−t))/∂t
		}

		// t = Transform·diff
		addOuter(gTransform, dt, st.diff[i])
		dDiff := matTVec(cv.Transform, dt)
		for j := 0; j < cv.Dim; j++ {
			di[j] -= dDiff[j] // diff = part − init
			dp[j] += dDiff[j]
		}

		// 门控：g = σ(z)，z = Combine·[hi;hp] + b
		dz := dg * g * (1 - g)
		if dz != 0 {
			gCombineB[0][0] += dz
			dhi := make([]float64, cv.Dim)
			dhp := make([]float64, cv.Dim)
			for j := 0; j < cv.Dim; j++ {
				gCombine[0][j] += dz * st.hi[i][j]
				gCombine[0][cv.Dim+j] += dz * st.hp[i][j]
				dhi[j] = dz * cv.Combine.W[0][j]
				dhp[j] = dz * cv.Combine.W[0][cv.Dim+j]
			}
			addOuter(gAttnInit, dhi, st.init[i])
			addVec(gAttnInitB[0], dhi)
			addVec(di, matTVec(cv.AttnInit, dhi))
			addOuter(gAttnPart, dhp, st.part[i])
			addVec(gAttnPartB[0], dhp)
			addVec(dp, matTVec(cv.AttnPart, dhp))
		}

		dInit[i] = di
		dPart[i] = dp
	}
	return dInit, dPart
}

func dropMask(dim int, keep float64, rng *rand.Rand) []float64 {
	mask := make([]float64, dim)
	for j := range mask {
		if rng.Float64() < keep {
			mask[j] = 1 / keep
		}
	}
	return mask
}
