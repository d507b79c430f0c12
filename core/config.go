package core

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Hyperparams 是模型超参数，随快照固化：发布后不变。
type Hyperparams struct {
	// Dim Embedding 维度 D
	Dim int `yaml:"dim" json:"dim"`

	// Layers 发起者/参与者视图的图卷积层数 L
	Layers int `yaml:"layers" json:"layers"`

	// SocialLayers 社交影响图的卷积层数 L2（可与 L 不同）
	SocialLayers int `yaml:"social_layers" json:"social_layers"`

	// Dropout 各层 dropout 比例
	Dropout float64 `yaml:"dropout" json:"dropout"`

	// Alpha 角色混合系数 α ∈ [0,1]：发起者视图 vs 参与者视图
	Alpha float64 `yaml:"alpha" json:"alpha"`

	// Beta 损失/社交混合系数 β ∈ [0,1]：
	// 同一个 β 同时用于融合（社交信号权重）与损失（成功预测任务权重）
	Beta float64 `yaml:"beta" json:"beta"`

	// LearningRate Adam 学习率
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`

	// WeightDecay L2 权重衰减
	WeightDecay float64 `yaml:"weight_decay" json:"weight_decay"`
}

// Normalize 对零值字段应用默认值，并把 α/β 截断到 [0,1]。
func (h *Hyperparams) Normalize() {
	if h.Dim <= 0 {
		h.Dim = 64
	}
	if h.Layers <= 0 {
		h.Layers = 3
	}
	if h.SocialLayers <= 0 {
		h.SocialLayers = 2
	}
	if h.Dropout < 0 || h.Dropout >= 1 {
		h.Dropout = 0.1
	}
	if h.Alpha == 0 {
		h.Alpha = 0.6
	}
	if h.Beta == 0 {
		h.Beta = 0.4
	}
	h.Alpha = clamp01(h.Alpha)
	h.Beta = clamp01(h.Beta)
	if h.LearningRate <= 0 {
		h.LearningRate = 0.001
	}
	if h.WeightDecay < 0 {
		h.WeightDecay = 1e-5
	}
}

// TrainingConfig 是训练周期与节奏的配置。
type TrainingConfig struct {
	// BatchSize 每个 mini-batch 的三元组数量
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// MaxEpochs 单个训练周期的最大 epoch 数
	MaxEpochs int `yaml:"max_epochs" json:"max_epochs"`

	// Patience 早停耐心值：验证损失连续 N 个 epoch 未改善则停止
	Patience int `yaml:"patience" json:"patience"`

	// NegativeRatio 每个正样本采样的负样本数
	NegativeRatio int `yaml:"negative_ratio" json:"negative_ratio"`

	// TrainRatio 训练/验证切分比例
	TrainRatio float64 `yaml:"train_ratio" json:"train_ratio"`

	// MinNewInteractions 距上次成功训练的最少新增交互数（低于则跳过）
	MinNewInteractions int `yaml:"min_new_interactions" json:"min_new_interactions"`

	// MinInteractionsPerUser / MinInteractionsPerItem 采样门槛：
	// 交互数不足的用户/物品的正样本不进入训练集（0 表示不过滤）
	MinInteractionsPerUser int `yaml:"min_interactions_per_user" json:"min_interactions_per_user"`
	MinInteractionsPerItem int `yaml:"min_interactions_per_item" json:"min_interactions_per_item"`

	// Cooldown 距上次成功训练的最短间隔（未到则跳过）
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`

	// RegressionTolerance 新快照验证损失允许比 live 差多少（超出则丢弃）
	RegressionTolerance float64 `yaml:"regression_tolerance" json:"regression_tolerance"`

	// Workers mini-batch 梯度计算的并发 worker 数
	Workers int `yaml:"workers" json:"workers"`

	// Seed 随机种子（固定种子 + 固定图 = 可复现的单 epoch 损失）
	Seed int64 `yaml:"seed" json:"seed"`
}

// UnmarshalYAML 支持 "24h" / "30m" 形式的 Cooldown 写法。
func (c *TrainingConfig) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		BatchSize              int     `yaml:"batch_size"`
		MaxEpochs              int     `yaml:"max_epochs"`
		Patience               int     `yaml:"patience"`
		NegativeRatio          int     `yaml:"negative_ratio"`
		TrainRatio             float64 `yaml:"train_ratio"`
		MinNewInteractions     int     `yaml:"min_new_interactions"`
		MinInteractionsPerUser int     `yaml:"min_interactions_per_user"`
		MinInteractionsPerItem int     `yaml:"min_interactions_per_item"`
		Cooldown               string  `yaml:"cooldown"`
		RegressionTolerance    float64 `yaml:"regression_tolerance"`
		Workers                int     `yaml:"workers"`
		Seed                   int64   `yaml:"seed"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	c.BatchSize = aux.BatchSize
	c.MaxEpochs = aux.MaxEpochs
	c.Patience = aux.Patience
	c.NegativeRatio = aux.NegativeRatio
	c.TrainRatio = aux.TrainRatio
	c.MinNewInteractions = aux.MinNewInteractions
	c.MinInteractionsPerUser = aux.MinInteractionsPerUser
	c.MinInteractionsPerItem = aux.MinInteractionsPerItem
	c.RegressionTolerance = aux.RegressionTolerance
	c.Workers = aux.Workers
	c.Seed = aux.Seed
	if aux.Cooldown != "" {
		d, err := time.ParseDuration(aux.Cooldown)
		if err != nil {
			return fmt.Errorf("config: invalid cooldown %q: %w", aux.Cooldown, err)
		}
		c.Cooldown = d
	}
	return nil
}

// Normalize 对零值字段应用默认值。
func (c *TrainingConfig) Normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = 512
	}
	if c.MaxEpochs <= 0 {
		c.MaxEpochs = 500
	}
	if c.Patience <= 0 {
		c.Patience = 20
	}
	if c.NegativeRatio <= 0 {
		c.NegativeRatio = 4
	}
	if c.TrainRatio <= 0 || c.TrainRatio >= 1 {
		c.TrainRatio = 0.8
	}
	if c.MinNewInteractions < 0 {
		c.MinNewInteractions = 0
	}
	if c.MinInteractionsPerUser < 0 {
		c.MinInteractionsPerUser = 0
	}
	if c.MinInteractionsPerItem < 0 {
		c.MinInteractionsPerItem = 0
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.RegressionTolerance <= 0 {
		c.RegressionTolerance = 0.05
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
