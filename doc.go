// Package groupkit 是一个拼团（Group-Buying）社交电商推荐引擎。
//
// 设计要点：
// - Multi-view 图卷积：发起者视图 / 参与者视图 / 社交影响图三路传播，学习用户与物品 Embedding
// - Lifecycle-first: 训练周期由 Lifecycle 管理（资格检查 → 训练 → 验证 → 原子发布/丢弃）
// - Snapshot 隔离：推理始终读取 live 快照，训练与推理互不阻塞
// - Labels-first: 推荐结果携带来源标签（gbgcn / popularity），支持 explain 与降级观测
package groupkit

import (
	"github.com/rushteam/groupkit/service"
	"github.com/rushteam/groupkit/trainer"
)

// 轻量 facade：便于用户直接 import "groupkit" 使用核心抽象。
type Service = service.Service
type Lifecycle = trainer.Lifecycle
type Snapshot = trainer.Snapshot
