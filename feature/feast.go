package feature

import (
	"context"
	"fmt"

	feastsdk "github.com/feast-dev/feast/sdk/go"
	feasttypes "github.com/feast-dev/feast/sdk/go/protos/feast/types"
)

// FeastProvider 是基于官方 Feast Go SDK 的 Provider 实现。
//
// 工程特征：
//   - 实时性：优秀（gRPC 低延迟、连接复用）
//   - 一致性：在线特征与离线训练特征同源（Feast 物化管道）
//
// 实体列约定：用户实体列 "user_id"，物品实体列 "item_id"。
type FeastProvider struct {
	client  *feastsdk.GrpcClient
	project string
}

// NewFeastProvider 连接 Feast Feature Server。port 为 0 时使用默认 6565。
func NewFeastProvider(host string, port int, project string) (*FeastProvider, error) {
	if port == 0 {
		port = 6565
	}
	client, err := feastsdk.NewGrpcClient(host, port)
	if err != nil {
		return nil, fmt.Errorf("feature: connect feast %s:%d: %w", host, port, err)
	}
	return &FeastProvider{client: client, project: project}, nil
}

func (p *FeastProvider) UserFeatures(ctx context.Context, userIDs []string, names []string) (map[string][]float64, error) {
	return p.fetch(ctx, "user_id", userIDs, names)
}

func (p *FeastProvider) ItemFeatures(ctx context.Context, itemIDs []string, names []string) (map[string][]float64, error) {
	return p.fetch(ctx, "item_id", itemIDs, names)
}

func (p *FeastProvider) fetch(ctx context.Context, entityCol string, ids, names []string) (map[string][]float64, error) {
	if len(ids) == 0 || len(names) == 0 {
		return map[string][]float64{}, nil
	}

	rows := make([]feastsdk.Row, len(ids))
	for i, id := range ids {
		rows[i] = feastsdk.Row{entityCol: feastsdk.StrVal(id)}
	}

	resp, err := p.client.GetOnlineFeatures(ctx, &feastsdk.OnlineFeaturesRequest{
		Features: names,
		Entities: rows,
		Project:  p.project,
	})
	if err != nil {
		return nil, fmt.Errorf("feature: feast online features: %w", err)
	}

	respRows := resp.Rows()
	if len(respRows) != len(ids) {
		return nil, fmt.Errorf("feature: feast row count mismatch: want %d got %d", len(ids), len(respRows))
	}

	out := make(map[string][]float64, len(ids))
	for i, id := range ids {
		vec := make([]float64, len(names))
		complete := true
		for j, name := range names {
			v, ok := respRows[i][name]
			if !ok {
				complete = false
				break
			}
			f, ok := numericValue(v)
			if !ok {
				complete = false
				break
			}
			vec[j] = f
		}
		// 部分缺失按整行缺失处理，调用方统一兜底
		if complete {
			out[id] = vec
		}
	}
	return out, nil
}

// numericValue 从 Feast protobuf Value 中提取数值。
func numericValue(v *feasttypes.Value) (float64, bool) {
	switch t := v.GetVal().(type) {
	case *feasttypes.Value_DoubleVal:
		return t.DoubleVal, true
	case *feasttypes.Value_FloatVal:
		return float64(t.FloatVal), true
	case *feasttypes.Value_Int64Val:
		return float64(t.Int64Val), true
	case *feasttypes.Value_Int32Val:
		return float64(t.Int32Val), true
	}
	return 0, false
}

var _ Provider = (*FeastProvider)(nil)
