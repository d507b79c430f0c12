package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/rushteam/groupkit/core"
	"github.com/rushteam/groupkit/model"
)

// CheckpointKey 最新快照的存储 key。
const CheckpointKey = "ckpt:gbgcn:latest"

// Checkpoint 是快照的持久化形态：超参 + 实体范围 + 全部参数矩阵
// （按 Params() 的确定顺序排列）+ 训练元信息。
//
// 仅作换入换出的载体，不参与推理。
type Checkpoint struct {
	Hyper     core.Hyperparams  `json:"hyper"`
	NumUsers  int               `json:"num_users"`
	NumItems  int               `json:"num_items"`
	Params    [][][]float64     `json:"params"`
	Metrics   model.EvalMetrics `json:"metrics"`
	TrainedAt time.Time         `json:"trained_at"`

	ItemPopularity []float64 `json:"item_popularity,omitempty"`
}

// SaveCheckpoint 把快照序列化写入存储。
func SaveCheckpoint(ctx context.Context, st core.Store, key string, snap *Snapshot) error {
	params := snap.Model.Params()
	file := Checkpoint{
		Hyper:          snap.Model.Hyper,
		NumUsers:       snap.NumUsers,
		NumItems:       snap.NumItems,
		Params:         make([][][]float64, len(params)),
		Metrics:        snap.Metrics,
		TrainedAt:      snap.TrainedAt,
		ItemPopularity: snap.ItemPopularity,
	}
	for i, p := range params {
		file.Params[i] = p.W
	}

	raw, err := json.Marshal(&file)
	if err != nil {
		return fmt.Errorf("trainer: marshal checkpoint: %w", err)
	}
	if err := st.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("trainer: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint 从存储恢复模型。numUsers/numItems 为当前实体索引规模：
// 超出 checkpoint 范围的新实体行补零（加载语义不引入随机性），
// 推理时这些行走降级路径。
func LoadCheckpoint(ctx context.Context, st core.Store, key string, numUsers, numItems int) (*model.Model, *Checkpoint, error) {
	raw, err := st.Get(ctx, key)
	if err != nil {
		if core.IsStoreNotFound(err) {
			return nil, nil, core.NewDomainError(core.ModuleTrainer, core.ErrorCodeNotFound,
				fmt.Sprintf("trainer: checkpoint %q not found", key))
		}
		return nil, nil, fmt.Errorf("trainer: load checkpoint: %w", err)
	}

	var file Checkpoint
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, nil, fmt.Errorf("trainer: unmarshal checkpoint: %w", err)
	}

	// 先按 checkpoint 的规模重建结构，再整体覆盖权重
	m := model.New(file.NumUsers, file.NumItems, file.Hyper, rand.New(rand.NewSource(1)))
	params := m.Params()
	if len(params) != len(file.Params) {
		return nil, nil, fmt.Errorf("trainer: checkpoint param count mismatch: have %d want %d",
			len(file.Params), len(params))
	}
	for i, p := range params {
		saved := file.Params[i]
		if len(saved) != p.Rows {
			return nil, nil, fmt.Errorf("trainer: checkpoint param %d row mismatch: have %d want %d",
				i, len(saved), p.Rows)
		}
		for r := range saved {
			if len(saved[r]) != p.Cols {
				return nil, nil, fmt.Errorf("trainer: checkpoint param %d col mismatch", i)
			}
			copy(p.W[r], saved[r])
		}
	}

	if numUsers > file.NumUsers || numItems > file.NumItems {
		m.Resize(numUsers, numItems, nil)
	}
	return m, &file, nil
}
