package graph

import "time"

// InteractionType 是用户-物品交互类型。
// 类型决定两件事：路由到哪个视图（发起者 / 参与者），以及边权重大小。
type InteractionType string

const (
	InteractionView        InteractionType = "view"
	InteractionClick       InteractionType = "click"
	InteractionLike        InteractionType = "like"
	InteractionShare       InteractionType = "share"
	InteractionJoinGroup   InteractionType = "join_group"
	InteractionPurchase    InteractionType = "purchase"
	InteractionCreateGroup InteractionType = "create_group"
	InteractionInitiate    InteractionType = "initiate"
)

// IsInitiator 判断交互是否路由到发起者视图。
// 只有“发起/创建拼团”的行为进入发起者边集；浏览/点击/分享/参团等进入参与者边集。
// 这是模型的核心结构选择：让网络为“发团的人”和“跟团的人”学习不同的传播动态。
func (t InteractionType) IsInitiator() bool {
	return t == InteractionCreateGroup || t == InteractionInitiate
}

// BaseWeight 返回交互类型的基础权重，关于交互强度单调：
// purchase > join > share > like > click > view。
// create_group / initiate 在发起者视图内取最高权重。
func (t InteractionType) BaseWeight() float64 {
	switch t {
	case InteractionView:
		return 0.1
	case InteractionClick:
		return 0.2
	case InteractionLike:
		return 0.3
	case InteractionShare:
		return 0.4
	case InteractionJoinGroup:
		return 0.7
	case InteractionPurchase:
		return 1.0
	case InteractionCreateGroup, InteractionInitiate:
		return 1.0
	default:
		return 0
	}
}

// InteractionRecord 是数据层提供的只读交互记录。
// 构图时视为不可变批快照；新交互追加而非覆盖旧交互。
type InteractionRecord struct {
	UserID    string
	ItemID    string
	Type      InteractionType
	Weight    float64 // 可选的记录级强度 (0,1]，为 0 时取 1
	Timestamp time.Time
}

// EdgeWeight 计算交互边的最终权重 ∈ [0,1]：
// 类型基础权重 × 记录级强度（缺省为 1），保持类型间单调不变。
func (r *InteractionRecord) EdgeWeight() float64 {
	w := r.Type.BaseWeight()
	if w == 0 {
		return 0
	}
	s := r.Weight
	if s <= 0 || s > 1 {
		s = 1
	}
	return w * s
}

// SocialRecord 是社交连接记录。边可以是非对称的；
// Bidirectional 为 true 时物化双向两条边（强度相同）。
type SocialRecord struct {
	UserID        string
	FriendID      string
	Strength      float64 // 连接质量分 ∈ [0,1]
	Bidirectional bool
}

// GroupOutcomeRecord 是拼团结果记录：(用户, 物品, 是否成团)。
// 作为成功预测头的监督信号；没有标签的 batch 该项损失为 0。
type GroupOutcomeRecord struct {
	UserID  string
	ItemID  string
	Success bool
}

// CatalogRecord 是商品目录记录。MinGroupSize/MaxGroupSize 仅供下游
// 拼团业务逻辑使用，不进入模型。
type CatalogRecord struct {
	ItemID       string
	MinGroupSize int
	MaxGroupSize int
	Attributes   map[string]float64
}
