package trainer

import (
	"time"

	"github.com/rushteam/groupkit/graph"
	"github.com/rushteam/groupkit/model"
)

// Snapshot 是一个不可变的已发布模型版本：冻结的权重、推理模式下
// 预计算好的三路用户 Embedding、给未知用户兜底的群体平均向量，
// 以及训练时的验证指标。
//
// 发布后只读：推理路径只读快照，训练产出新快照后整体原子替换。
type Snapshot struct {
	Model     *model.Model
	TrainedAt time.Time
	Metrics   model.EvalMetrics

	// NumUsers/NumItems 快照覆盖的实体范围；
	// 之后注册的实体视为未知，走降级路径
	NumUsers int
	NumItems int

	// 推理模式全图传播的结果（无 dropout）
	InitUser   [][]float64
	PartUser   [][]float64
	SocialUser [][]float64

	// 群体平均向量：成团预测中未知成员/未知物品的替身
	AvgInit   []float64
	AvgPart   []float64
	AvgSocial []float64
	AvgItem   []float64

	// ItemPopularity 按物品下标的交互热度，冷启动降级用
	ItemPopularity []float64
}

// NewSnapshot 用训练完成的模型与图做一次推理模式传播，固化为快照。
func NewSnapshot(m *model.Model, g *graph.HeteroGraph, metrics model.EvalMetrics, at time.Time) *Snapshot {
	p := m.Propagate(g, false, nil)

	s := &Snapshot{
		Model:      m,
		TrainedAt:  at,
		Metrics:    metrics,
		NumUsers:   g.NumUsers,
		NumItems:   g.NumItems,
		InitUser:   p.InitUser,
		PartUser:   p.PartUser,
		SocialUser: p.SocialUser,
	}
	if g.ItemPopularity != nil {
		s.ItemPopularity = append([]float64(nil), g.ItemPopularity...)
	}

	d := m.Hyper.Dim
	s.AvgInit = columnMean(p.InitUser, d)
	s.AvgPart = columnMean(p.PartUser, d)
	s.AvgSocial = columnMean(p.SocialUser, d)
	s.AvgItem = columnMean(m.ItemEmb.W, d)
	return s
}

// UserVectors 返回用户的三路向量；未知用户（快照范围外）返回 ok=false。
func (s *Snapshot) UserVectors(idx int) (init, part, social []float64, ok bool) {
	if idx < 0 || idx >= s.NumUsers {
		return nil, nil, nil, false
	}
	return s.InitUser[idx], s.PartUser[idx], s.SocialUser[idx], true
}

// PopulationVectors 返回群体平均的三路向量。
func (s *Snapshot) PopulationVectors() (init, part, social []float64) {
	return s.AvgInit, s.AvgPart, s.AvgSocial
}

// PopulationItemVector 返回物品平均 Embedding。
func (s *Snapshot) PopulationItemVector() []float64 {
	return s.AvgItem
}

// ItemVector 返回物品的原始 Embedding；范围外返回 nil。
func (s *Snapshot) ItemVector(idx int) []float64 {
	if idx < 0 || idx >= s.NumItems {
		return nil
	}
	return s.Model.ItemEmb.W[idx]
}

func columnMean(rows [][]float64, dim int) []float64 {
	out := make([]float64, dim)
	if len(rows) == 0 {
		return out
	}
	for _, r := range rows {
		for j, v := range r {
			out[j] += v
		}
	}
	inv := 1.0 / float64(len(rows))
	for j := range out {
		out[j] *= inv
	}
	return out
}
