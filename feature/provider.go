package feature

import (
	"context"
	"sync"
)

// Provider 按实体批量提供数值特征向量，构图时附着为节点特征。
//
// 设计原则：
//   - 领域层定义接口，基础设施层（内存 / Feast）实现
//   - 缺失实体不报错：结果 map 中没有该 key，由调用方决定兜底
//   - 返回向量与 names 等长、同序
type Provider interface {
	// UserFeatures 批量拉取用户特征
	UserFeatures(ctx context.Context, userIDs []string, names []string) (map[string][]float64, error)

	// ItemFeatures 批量拉取物品特征
	ItemFeatures(ctx context.Context, itemIDs []string, names []string) (map[string][]float64, error)
}

// MemoryProvider 内存实现的 Provider，用于测试/开发/离线导入。
type MemoryProvider struct {
	mu    sync.RWMutex
	users map[string]map[string]float64
	items map[string]map[string]float64
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		users: make(map[string]map[string]float64),
		items: make(map[string]map[string]float64),
	}
}

// SetUser 写入一个用户的特征键值。
func (p *MemoryProvider) SetUser(userID string, features map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[userID] = features
}

// SetItem 写入一个物品的特征键值。
func (p *MemoryProvider) SetItem(itemID string, features map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[itemID] = features
}

func (p *MemoryProvider) UserFeatures(ctx context.Context, userIDs []string, names []string) (map[string][]float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return gather(p.users, userIDs, names), nil
}

func (p *MemoryProvider) ItemFeatures(ctx context.Context, itemIDs []string, names []string) (map[string][]float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return gather(p.items, itemIDs, names), nil
}

func gather(table map[string]map[string]float64, ids, names []string) map[string][]float64 {
	out := make(map[string][]float64, len(ids))
	for _, id := range ids {
		kv, ok := table[id]
		if !ok {
			continue
		}
		vec := make([]float64, len(names))
		for j, name := range names {
			vec[j] = kv[name]
		}
		out[id] = vec
	}
	return out
}

var _ Provider = (*MemoryProvider)(nil)
