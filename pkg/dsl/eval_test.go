package dsl

import (
	"testing"

	"github.com/rushteam/groupkit/core"
	"github.com/rushteam/groupkit/pkg/utils"
)

func sampleItem() *core.Item {
	it := core.NewItem("i1")
	it.Score = 0.83
	it.Meta["min_group_size"] = 2
	it.PutLabel("recall_source", utils.Label{Value: "gbgcn", Source: "recall"})
	return it
}

func sampleCtx() *core.RecommendContext {
	return &core.RecommendContext{UserID: "u1", Scene: "feed"}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"空表达式恒真", "", true},
		{"标签等值", `label.recall_source == "gbgcn"`, true},
		{"标签不等", `label.recall_source == "popularity"`, false},
		{"分数阈值", `item.score > 0.7`, true},
		{"分数阈值不满足", `item.score > 0.9`, false},
		{"场景与分数组合", `rctx.scene == "feed" && item.score > 0.5`, true},
		{"元信息访问", `item.meta.min_group_size <= 3`, true},
		{"物品 ID", `item.id == "i1"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEval(sampleItem(), sampleCtx()).Evaluate(tt.expr)
			if err != nil {
				t.Fatalf("Evaluate(%q): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Fatalf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	if _, err := NewEval(sampleItem(), sampleCtx()).Evaluate("item.score >"); err == nil {
		t.Fatal("语法错误应返回 error")
	}
	if _, err := NewEval(sampleItem(), sampleCtx()).Evaluate("item.score + 1.0"); err == nil {
		t.Fatal("非布尔表达式应返回 error")
	}
}
