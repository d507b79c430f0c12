package feature

import (
	"context"
	"testing"
)

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider()
	p.SetUser("u1", map[string]float64{"age": 30, "ltv": 12.5})
	p.SetItem("i1", map[string]float64{"price": 49.9})

	users, err := p.UserFeatures(context.Background(), []string{"u1", "ghost"}, []string{"age", "ltv"})
	if err != nil {
		t.Fatalf("UserFeatures: %v", err)
	}
	vec, ok := users["u1"]
	if !ok || len(vec) != 2 || vec[0] != 30 || vec[1] != 12.5 {
		t.Fatalf("u1 特征错误: %v", vec)
	}
	if _, ok := users["ghost"]; ok {
		t.Fatal("缺失实体不应出现在结果中")
	}

	items, err := p.ItemFeatures(context.Background(), []string{"i1"}, []string{"price", "discount"})
	if err != nil {
		t.Fatalf("ItemFeatures: %v", err)
	}
	// 未知特征名取零值，向量与 names 等长同序
	if vec := items["i1"]; len(vec) != 2 || vec[0] != 49.9 || vec[1] != 0 {
		t.Fatalf("i1 特征错误: %v", vec)
	}
}
