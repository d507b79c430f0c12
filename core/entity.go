package core

import (
	"fmt"
	"sync"
)

// EntityKind 表示实体类型（用户 / 物品）。
type EntityKind string

const (
	KindUser EntityKind = "user"
	KindItem EntityKind = "item"
)

// MaxExternalIDLen 外部 ID 的最大长度，超出视为非法输入。
const MaxExternalIDLen = 128

// EntityIndex 维护外部 ID 与稠密下标的双向映射。
//
// Embedding 表按稠密下标寻址，外部系统（数据库 / API）使用字符串 ID，
// EntityIndex 是两者之间的唯一桥梁，也是引擎内所有组件的叶子依赖。
//
// 设计原则：
//   - Register 幂等：同一 ID 重复注册返回同一下标
//   - 只增不删：下标一旦发出永不失效（快照的 Embedding 行号依赖于此）
//   - 并发安全：推理读、训练写可同时发生
type EntityIndex struct {
	mu      sync.RWMutex
	userIdx map[string]int
	itemIdx map[string]int
	userIDs []string
	itemIDs []string
}

func NewEntityIndex() *EntityIndex {
	return &EntityIndex{
		userIdx: make(map[string]int),
		itemIdx: make(map[string]int),
	}
}

// Register 注册一个外部 ID，返回其稠密下标。
// 幂等：已注册的 ID 返回既有下标。非法 ID（空串 / 超长）返回校验错误。
func (ix *EntityIndex) Register(kind EntityKind, externalID string) (int, error) {
	if externalID == "" || len(externalID) > MaxExternalIDLen {
		return 0, NewDomainError(ModuleEntity, ErrorCodeInvalidInput,
			fmt.Sprintf("entity: invalid external id (len=%d)", len(externalID)))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	switch kind {
	case KindUser:
		if idx, ok := ix.userIdx[externalID]; ok {
			return idx, nil
		}
		idx := len(ix.userIDs)
		ix.userIdx[externalID] = idx
		ix.userIDs = append(ix.userIDs, externalID)
		return idx, nil
	case KindItem:
		if idx, ok := ix.itemIdx[externalID]; ok {
			return idx, nil
		}
		idx := len(ix.itemIDs)
		ix.itemIdx[externalID] = idx
		ix.itemIDs = append(ix.itemIDs, externalID)
		return idx, nil
	default:
		return 0, NewDomainError(ModuleEntity, ErrorCodeInvalidInput,
			fmt.Sprintf("entity: unknown kind %q", kind))
	}
}

// Lookup 查询外部 ID 对应的下标（不注册）。
func (ix *EntityIndex) Lookup(kind EntityKind, externalID string) (int, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	switch kind {
	case KindUser:
		idx, ok := ix.userIdx[externalID]
		return idx, ok
	case KindItem:
		idx, ok := ix.itemIdx[externalID]
		return idx, ok
	}
	return 0, false
}

// Resolve 反查下标对应的外部 ID。
func (ix *EntityIndex) Resolve(kind EntityKind, idx int) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	switch kind {
	case KindUser:
		if idx < 0 || idx >= len(ix.userIDs) {
			return "", false
		}
		return ix.userIDs[idx], true
	case KindItem:
		if idx < 0 || idx >= len(ix.itemIDs) {
			return "", false
		}
		return ix.itemIDs[idx], true
	}
	return "", false
}

// Size 返回某类实体的当前数量。
func (ix *EntityIndex) Size(kind EntityKind) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	switch kind {
	case KindUser:
		return len(ix.userIDs)
	case KindItem:
		return len(ix.itemIDs)
	}
	return 0
}

// ItemIDs 返回全部物品的外部 ID（按下标序），用于候选集遍历与降级兜底。
func (ix *EntityIndex) ItemIDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]string, len(ix.itemIDs))
	copy(out, ix.itemIDs)
	return out
}
