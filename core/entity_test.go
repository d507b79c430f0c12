package core

import (
	"strings"
	"sync"
	"testing"
)

func TestEntityIndexRegisterIdempotent(t *testing.T) {
	ix := NewEntityIndex()

	a, err := ix.Register(KindUser, "u1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	b, err := ix.Register(KindUser, "u1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if a != b {
		t.Fatalf("重复注册应返回同一下标: %d vs %d", a, b)
	}

	c, _ := ix.Register(KindUser, "u2")
	if c != a+1 {
		t.Fatalf("下标应连续分配: %d", c)
	}

	// 用户与物品下标空间独立
	i0, _ := ix.Register(KindItem, "u1")
	if i0 != 0 {
		t.Fatalf("物品下标应从 0 开始: %d", i0)
	}
}

func TestEntityIndexInvalidID(t *testing.T) {
	ix := NewEntityIndex()

	if _, err := ix.Register(KindUser, ""); err == nil {
		t.Fatal("空 ID 应返回校验错误")
	}
	long := strings.Repeat("x", MaxExternalIDLen+1)
	if _, err := ix.Register(KindUser, long); err == nil {
		t.Fatal("超长 ID 应返回校验错误")
	}
	if _, err := ix.Register(EntityKind("group"), "g1"); err == nil {
		t.Fatal("未知实体类型应返回校验错误")
	}

	// 校验失败不应污染索引
	if ix.Size(KindUser) != 0 {
		t.Fatalf("失败注册不应占用下标: size=%d", ix.Size(KindUser))
	}
}

func TestEntityIndexLookupResolve(t *testing.T) {
	ix := NewEntityIndex()
	idx, _ := ix.Register(KindItem, "i1")

	got, ok := ix.Lookup(KindItem, "i1")
	if !ok || got != idx {
		t.Fatalf("Lookup = %d, %v", got, ok)
	}
	if _, ok := ix.Lookup(KindItem, "ghost"); ok {
		t.Fatal("未注册 ID 不应命中")
	}

	id, ok := ix.Resolve(KindItem, idx)
	if !ok || id != "i1" {
		t.Fatalf("Resolve = %q, %v", id, ok)
	}
	if _, ok := ix.Resolve(KindItem, 99); ok {
		t.Fatal("越界下标不应命中")
	}
}

func TestEntityIndexConcurrent(t *testing.T) {
	ix := NewEntityIndex()
	var wg sync.WaitGroup
	ids := []string{"a", "b", "c", "d"}
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range ids {
				ix.Register(KindUser, id)
				ix.Lookup(KindUser, id)
			}
		}()
	}
	wg.Wait()
	if ix.Size(KindUser) != len(ids) {
		t.Fatalf("并发注册后 size=%d, want %d", ix.Size(KindUser), len(ids))
	}
}

func TestDomainErrorChecks(t *testing.T) {
	err := NewDomainError(ModuleTrainer, ErrorCodeDataInsufficient, "not enough data")
	if !IsDataInsufficient(err) {
		t.Fatal("IsDataInsufficient 应命中")
	}
	if IsColdStart(err) {
		t.Fatal("IsColdStart 不应命中")
	}
	if IsDataInsufficient(nil) {
		t.Fatal("nil 不应命中")
	}

	if !IsStoreNotFound(ErrStoreNotFound) {
		t.Fatal("IsStoreNotFound 应命中")
	}
	if IsStoreNotFound(NewDomainError(ModuleTrainer, ErrorCodeNotFound, "x")) {
		t.Fatal("非 store 模块的 NOT_FOUND 不应命中 IsStoreNotFound")
	}
}
