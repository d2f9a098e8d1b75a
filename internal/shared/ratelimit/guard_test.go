package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestAllow_WithinBudget(t *testing.T) {
	g := NewGuard()
	l := Limit{Events: 3, Per: time.Minute}

	for i := 0; i < 3; i++ {
		if !g.Allow("user-1", l) {
			t.Fatalf("Allow() = false on request %d, want true", i+1)
		}
	}
}

func TestAllow_RejectsOverBudget(t *testing.T) {
	g := NewGuard()
	l := Limit{Events: 2, Per: time.Hour}

	g.Allow("user-1", l)
	g.Allow("user-1", l)

	if g.Allow("user-1", l) {
		t.Error("Allow() = true after budget exhausted, want false")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	g := NewGuard()
	l := Limit{Events: 1, Per: time.Hour}

	if !g.Allow("user-1", l) {
		t.Fatal("Allow(user-1) first call = false")
	}
	if g.Allow("user-1", l) {
		t.Error("Allow(user-1) second call = true, want false")
	}
	if !g.Allow("user-2", l) {
		t.Error("Allow(user-2) = false, want true (separate bucket)")
	}
}

func TestAllow_ZeroLimitDisablesGuard(t *testing.T) {
	g := NewGuard()

	for i := 0; i < 100; i++ {
		if !g.Allow("user-1", Limit{}) {
			t.Fatal("Allow() with zero limit = false, want true")
		}
	}
}

func TestAllow_ConcurrentCallers(t *testing.T) {
	g := NewGuard()
	l := Limit{Events: 5, Per: time.Hour}

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(n int) {
			done <- g.Allow(fmt.Sprintf("user-%d", n%2), l)
		}(i)
	}

	allowed := 0
	for i := 0; i < 10; i++ {
		if <-done {
			allowed++
		}
	}

	// 2 keys x 5 tokens each
	if allowed != 10 {
		t.Errorf("allowed = %d, want 10", allowed)
	}
}
