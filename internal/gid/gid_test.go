package gid

import (
	"sync"
	"testing"
)

func TestGet_StableOnSameGoroutine(t *testing.T) {
	a := Get()
	b := Get()
	if a == 0 {
		t.Fatal("goroutine id should be non-zero")
	}
	if a != b {
		t.Errorf("same goroutine returned different ids: %d vs %d", a, b)
	}
}

func TestGet_DiffersAcrossGoroutines(t *testing.T) {
	here := Get()

	var there uint64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		there = Get()
	}()
	wg.Wait()

	if there == 0 {
		t.Fatal("goroutine id should be non-zero")
	}
	if here == there {
		t.Errorf("distinct goroutines returned the same id: %d", here)
	}
}
