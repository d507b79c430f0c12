package core

import "github.com/rushteam/groupkit/pkg/utils"

// RecommendContext 承载一次推荐请求的用户/场景/实时信息。
type RecommendContext struct {
	UserID string // 外部用户 ID
	Scene  string // 场景标识（feed / detail / share 等）

	// Labels 是用户级标签，可驱动过滤与降级行为
	// 例如：新用户、价格敏感、拼团活跃等
	Labels map[string]utils.Label

	// Params 请求级上下文参数，包含：
	// - 请求参数：latitude, longitude, device_type 等
	// - 实时特征：realtime_ctr 等（建议加 realtime_ 前缀区分）
	Params map[string]any
}

// PutLabel 写入用户级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取用户级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}
