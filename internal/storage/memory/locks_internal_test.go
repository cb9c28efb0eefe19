package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func (l *keyedLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func TestKeyedLocksPrunesReleasedSlots(t *testing.T) {
	locks := newKeyedLocks()
	ctx := context.Background()

	for i := range 100 {
		release, err := locks.lock(ctx, fmt.Sprintf("cart:user-%d", i))
		if err != nil {
			t.Fatalf("lock: %v", err)
		}
		release()
		release()
	}
	if got := locks.size(); got != 0 {
		t.Fatalf("expected no slots after release, got %d", got)
	}
}

func TestKeyedLocksKeepsSlotWhileContended(t *testing.T) {
	locks := newKeyedLocks()
	ctx := context.Background()

	release, err := locks.lock(ctx, "product:p-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		next, err := locks.lock(ctx, "product:p-1")
		if err != nil {
			t.Errorf("second lock: %v", err)
			return
		}
		close(acquired)
		next()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder must wait for release")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	wg.Wait()

	if got := locks.size(); got != 0 {
		t.Fatalf("expected no slots after both holders released, got %d", got)
	}
}

func TestKeyedLocksCanceledWaiterDropsSlot(t *testing.T) {
	locks := newKeyedLocks()

	release, err := locks.lock(context.Background(), "cart:user-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.lock(ctx, "cart:user-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := locks.size(); got != 1 {
		t.Fatalf("holder slot must survive canceled waiter, got %d slots", got)
	}

	release()
	if got := locks.size(); got != 0 {
		t.Fatalf("expected no slots after release, got %d", got)
	}
}
