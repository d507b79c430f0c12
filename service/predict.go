package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/groupkit/core"
)

// PredictGroupSuccess 预测发起者与候选参与者对某商品的拼团成功概率。
//
// 每个成员（发起者 + 参与者）独立过一次成功头，组级概率取成员均值；
// 快照范围外的成员或物品（新注册 / 从未出现）用群体平均向量替身。
// 从未发布过快照时返回 COLD_START。
func (s *Service) PredictGroupSuccess(ctx context.Context, itemID, initiatorID string, participantIDs []string) (float64, error) {
	if initiatorID == "" {
		return 0, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput,
			"service: initiator id is required")
	}
	if itemID == "" {
		return 0, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput,
			"service: item id is required")
	}

	snap := s.snapshots.Snapshot()
	if snap == nil {
		return 0, core.NewDomainError(core.ModuleService, core.ErrorCodeColdStart,
			"service: no snapshot published yet")
	}

	var item []float64
	if iidx, ok := s.index.Lookup(core.KindItem, itemID); ok {
		item = snap.ItemVector(iidx)
	}
	if item == nil {
		item = snap.PopulationItemVector()
		s.log.Debug("group prediction used average item vector", zap.String("item_id", itemID))
	}

	memberIDs := append([]string{initiatorID}, participantIDs...)
	var sum float64
	unknown := 0
	for _, memberID := range memberIDs {
		init, part, social := snap.PopulationVectors()
		if uidx, ok := s.index.Lookup(core.KindUser, memberID); ok {
			if i2, p2, s2, ok2 := snap.UserVectors(uidx); ok2 {
				init, part, social = i2, p2, s2
			} else {
				unknown++
			}
		} else {
			unknown++
		}
		sum += snap.Model.ScoreGroupSuccess(init, part, social, item)
	}
	if unknown > 0 {
		s.log.Debug("group prediction used population fallback",
			zap.Int("unknown_members", unknown), zap.Int("total_members", len(memberIDs)))
	}
	return sum / float64(len(memberIDs)), nil
}

// Status 是服务的自描述状态。
type Status struct {
	// Ready 是否已有 live 快照（false 时推荐走降级、预测返回 COLD_START）
	Ready bool

	// Training 是否有训练周期进行中
	Training bool

	// TrainedAt live 快照的发布时间，零值表示从未训练
	TrainedAt time.Time

	// NumUsers/NumItems live 快照覆盖的实体范围
	NumUsers int
	NumItems int

	// ValLoss / RankAccuracy / SuccessAccuracy live 快照的验证指标
	ValLoss         float64
	RankAccuracy    float64
	SuccessAccuracy float64
}

// Status 返回服务当前状态。
func (s *Service) Status() Status {
	st := Status{
		Training:  s.snapshots.IsTraining(),
		TrainedAt: s.snapshots.LastTrainedAt(),
	}
	if snap := s.snapshots.Snapshot(); snap != nil {
		st.Ready = true
		st.NumUsers = snap.NumUsers
		st.NumItems = snap.NumItems
		st.ValLoss = snap.Metrics.Loss
		st.RankAccuracy = snap.Metrics.RankAccuracy
		st.SuccessAccuracy = snap.Metrics.SuccessAccuracy
	}
	return st
}
