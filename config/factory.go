package config

import (
	"fmt"

	"github.com/rushteam/groupkit/core"
	"github.com/rushteam/groupkit/feature"
	"github.com/rushteam/groupkit/store"
)

// NewStore 按配置构建存储后端。
func (c *Config) NewStore() (core.KeyValueStore, error) {
	switch c.Store.Backend {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		if c.Store.Addr == "" {
			return nil, fmt.Errorf("store.addr is required for redis backend")
		}
		return store.NewRedisStore(c.Store.Addr, c.Store.DB)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", c.Store.Backend)
	}
}

// NewFeatureProvider 按配置构建节点特征源。
// 未配置 feast.host 时返回 nil，构图走纯 Embedding（无节点特征）。
func (c *Config) NewFeatureProvider() (feature.Provider, error) {
	if c.Feast.Host == "" {
		return nil, nil
	}
	return feature.NewFeastProvider(c.Feast.Host, c.Feast.Port, c.Feast.Project)
}
