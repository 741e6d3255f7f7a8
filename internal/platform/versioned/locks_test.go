package versioned

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIDLocks_Serializes(t *testing.T) {
	l := newIDLocks()
	unlock, err := l.Lock(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(context.Background(), "p1")
		if err == nil {
			u()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock should wait for the first")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired")
	}
	if n := l.size(); n != 0 {
		t.Errorf("lock table should drain, has %d entries", n)
	}
}

func TestIDLocks_OtherIDsIndependent(t *testing.T) {
	l := newIDLocks()
	u1, _ := l.Lock(context.Background(), "p1")
	defer u1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	u2, err := l.Lock(ctx, "p2")
	if err != nil {
		t.Fatalf("Lock(p2): %v", err)
	}
	u2()
}

func TestIDLocks_ContextEnds(t *testing.T) {
	l := newIDLocks()
	unlock, _ := l.Lock(context.Background(), "p1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "p1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	unlock()
	if n := l.size(); n != 0 {
		t.Errorf("abandoned waiter should not leak an entry, have %d", n)
	}
}

func TestStore_WriteGivesUpWhenContextEnds(t *testing.T) {
	s, _, _ := newTestStore()
	unlock, _ := s.locks.Lock(context.Background(), "p1")
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Update(ctx, "p1", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Update = %v, want context.Canceled", err)
	}
	if _, err := s.Remove(ctx, "p1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Remove = %v, want context.Canceled", err)
	}
}
