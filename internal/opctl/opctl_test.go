package opctl

import (
	"sync"
	"testing"
	"time"
)

func TestNewOpRequiresEmptySlot(t *testing.T) {
	c := New()
	if !c.NewOp(1, StatusStart) {
		t.Fatal("first NewOp should succeed")
	}
	if c.NewOp(2, StatusStart) {
		t.Fatal("NewOp with an existing op should fail")
	}
}

func TestCancelOpMatchesCurrentOrZero(t *testing.T) {
	c := New()
	c.NewOp(7, StatusStart)

	if c.CancelOp(8, nil) {
		t.Fatal("CancelOp with mismatched id should not transition")
	}
	op, _ := c.CurrentOp()
	if op.Status != StatusStart {
		t.Fatalf("status = %v, want unchanged START", op.Status)
	}

	if !c.CancelOp(0, nil) {
		t.Fatal("CancelOp(0) should cancel the current op")
	}
	op, _ = c.CurrentOp()
	if op.Status != StatusCancelled {
		t.Fatalf("status = %v, want CANCELLED", op.Status)
	}
}

func TestCancelOpBroadcastsCond(t *testing.T) {
	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	c := New()
	c.NewOp(1, StatusStart)

	woke := make(chan struct{})
	mu.Lock()
	go func() {
		mu.Lock()
		defer mu.Unlock()
		cond.Wait()
		close(woke)
	}()
	mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	c.CancelOp(1, cond)
	mu.Unlock()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("CancelOp did not wake the waiter")
	}
}

func TestOpTimeoutInfiniteBeforeRefresh(t *testing.T) {
	c := New()
	c.NewOp(1, StatusStart)
	if got := c.OpTimeout(); got != InfiniteTimeoutMs {
		t.Fatalf("OpTimeout() = %d, want InfiniteTimeoutMs", got)
	}
}

func TestOpTimeoutCountsDownAfterRefresh(t *testing.T) {
	c := New()
	c.NewOp(1, StatusStart)
	c.SetDeadline(50 * time.Millisecond)
	c.RefreshOpTime()

	first := c.OpTimeout()
	if first == InfiniteTimeoutMs {
		t.Fatal("OpTimeout should not be infinite after refresh")
	}
	time.Sleep(60 * time.Millisecond)
	if got := c.OpTimeout(); got != 0 {
		t.Fatalf("OpTimeout() after deadline = %d, want 0", got)
	}
}

func TestMarkStreamingOnlyFromStart(t *testing.T) {
	c := New()
	c.NewOp(1, StatusStart)
	if !c.MarkStreaming() {
		t.Fatal("MarkStreaming from START should succeed")
	}
	op, _ := c.CurrentOp()
	if op.Status != StatusStreaming {
		t.Fatalf("status = %v, want STREAMING", op.Status)
	}
	if c.MarkStreaming() {
		t.Fatal("MarkStreaming from STREAMING should be a no-op")
	}
}

func TestRemoveFrontOpAllowsNewOp(t *testing.T) {
	c := New()
	c.NewOp(1, StatusStart)
	c.FinishOp()
	c.RemoveFrontOp()
	if !c.NewOp(2, StatusStart) {
		t.Fatal("NewOp after RemoveFrontOp should succeed")
	}
}

func TestWaitOpFinishReturnsImmediatelyWhenTerminal(t *testing.T) {
	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	c := New()
	c.NewOp(1, StatusStart)
	c.FinishOp()

	mu.Lock()
	done := make(chan struct{})
	go func() {
		c.WaitOpFinish(1, cond)
		close(done)
	}()
	mu.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitOpFinish should return immediately for a terminal op")
	}
}

func TestWaitOpFinishBlocksUntilTerminalThenReturns(t *testing.T) {
	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	c := New()
	c.NewOp(1, StatusStart)

	done := make(chan struct{})
	go func() {
		mu.Lock()
		c.WaitOpFinish(1, cond)
		mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitOpFinish returned before the op finished")
	case <-time.After(30 * time.Millisecond):
	}

	mu.Lock()
	c.FinishOp()
	mu.Unlock()
	cond.Broadcast()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitOpFinish did not return after FinishOp")
	}
}
