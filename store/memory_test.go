package store

import (
	"context"
	"testing"

	"github.com/rushteam/groupkit/core"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	if _, err := ms.Get(ctx, "missing"); !core.IsStoreNotFound(err) {
		t.Fatalf("缺失 key 应返回 NOT_FOUND, 得到 %v", err)
	}

	if err := ms.Set(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := ms.Get(ctx, "k1")
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := ms.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := ms.Get(ctx, "k1"); !core.IsStoreNotFound(err) {
		t.Fatal("删除后应返回 NOT_FOUND")
	}
}

func TestMemoryStoreBatch(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	kvs := map[string][]byte{"a": []byte("1"), "b": []byte("2")}
	if err := ms.BatchSet(ctx, kvs); err != nil {
		t.Fatalf("BatchSet: %v", err)
	}
	got, err := ms.BatchGet(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	if len(got) != 2 || string(got["a"]) != "1" || string(got["b"]) != "2" {
		t.Fatalf("BatchGet 结果错误: %v", got)
	}
}

func TestMemoryStoreZSetOrdering(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	// 同分成员按字典序升序，不同分按 score 降序
	for member, score := range map[string]float64{
		"pear": 2, "apple": 5, "mango": 5, "fig": 1,
	} {
		if err := ms.ZAdd(ctx, "hot", score, member); err != nil {
			t.Fatalf("ZAdd: %v", err)
		}
	}

	got, err := ms.ZRange(ctx, "hot", 0, -1)
	if err != nil {
		t.Fatalf("ZRange: %v", err)
	}
	want := []string{"apple", "mango", "pear", "fig"}
	if len(got) != len(want) {
		t.Fatalf("ZRange 长度错误: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ZRange[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// 范围截取
	top2, err := ms.ZRange(ctx, "hot", 0, 1)
	if err != nil || len(top2) != 2 || top2[0] != "apple" || top2[1] != "mango" {
		t.Fatalf("ZRange top2 = %v, %v", top2, err)
	}
}

func TestMemoryStoreZScore(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	if _, err := ms.ZScore(ctx, "hot", "ghost"); !core.IsStoreNotFound(err) {
		t.Fatal("缺失成员应返回 NOT_FOUND")
	}
	if err := ms.ZAdd(ctx, "hot", 3.5, "i1"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	score, err := ms.ZScore(ctx, "hot", "i1")
	if err != nil || score != 3.5 {
		t.Fatalf("ZScore = %v, %v", score, err)
	}
}
