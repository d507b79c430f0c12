package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/groupkit/core"
)

// Config 是引擎的顶层配置结构（支持 YAML/JSON）。
//
// 示例（YAML）：
//
//	model:
//	  dim: 64
//	  layers: 3
//	  alpha: 0.6
//	training:
//	  batch_size: 512
//	  max_epochs: 500
//	  cooldown: 24h
//	store:
//	  backend: redis
//	  addr: "127.0.0.1:6379"
//	service:
//	  top_k: 10
//	  filters:
//	    - 'item.score > 0.1'
type Config struct {
	Model    core.Hyperparams    `yaml:"model" json:"model"`
	Training core.TrainingConfig `yaml:"training" json:"training"`
	Store    StoreConfig         `yaml:"store" json:"store"`
	Feast    FeastConfig         `yaml:"feast" json:"feast"`
	Service  ServiceConfig       `yaml:"service" json:"service"`
}

// StoreConfig 存储后端配置。
type StoreConfig struct {
	// Backend 后端类型：memory（默认）/ redis
	Backend string `yaml:"backend" json:"backend"`

	// Addr Redis 地址（backend=redis 时必填）
	Addr string `yaml:"addr" json:"addr"`

	// DB Redis 库号
	DB int `yaml:"db" json:"db"`
}

// FeastConfig 特征平台配置。Host 为空时不启用节点特征。
type FeastConfig struct {
	Host    string   `yaml:"host" json:"host"`
	Port    int      `yaml:"port" json:"port"`
	Project string   `yaml:"project" json:"project"`
	Names   []string `yaml:"names" json:"names"` // 拉取的特征列
}

// ServiceConfig 推理服务配置。
type ServiceConfig struct {
	TopK    int      `yaml:"top_k" json:"top_k"`
	Workers int      `yaml:"workers" json:"workers"`

	// Filters CEL 过滤表达式（见 pkg/dsl）
	Filters []string `yaml:"filters" json:"filters"`
}

// LoadFromYAML 从 YAML 文件加载配置。
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML 解析 YAML 配置并应用默认值。
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// LoadFromJSON 从 JSON 文件加载配置。
func LoadFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Model.Normalize()
	c.Training.Normalize()
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Feast.Port == 0 {
		c.Feast.Port = 6565
	}
	if c.Service.TopK <= 0 {
		c.Service.TopK = 10
	}
	if c.Service.Workers <= 0 {
		c.Service.Workers = 4
	}
}

// Validate 校验配置的一致性。
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported store backend %q (supported: memory, redis)", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.Addr == "" {
		return fmt.Errorf("store.addr is required for redis backend")
	}
	return nil
}
