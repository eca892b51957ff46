package truenas

import (
	"testing"
	"time"
)

func TestWithCalls(t *testing.T) {
	calls := []Call{{Key: "pool.query", Method: "pool.query", Params: []any{"tank"}}}
	c, err := newCoordinator(&fakeSession{}, discardErrors, WithCalls(calls))
	if err != nil {
		t.Fatalf("newCoordinator() error: %v", err)
	}
	if len(c.calls) != 1 || c.calls[0].Key != "pool.query" {
		t.Errorf("calls = %v, want the configured batch", c.calls)
	}
}

func TestWithRefreshTimeout(t *testing.T) {
	c, _ := newCoordinator(&fakeSession{}, discardErrors, WithRefreshTimeout(5*time.Second))
	if c.refreshTimeout != 5*time.Second {
		t.Errorf("refreshTimeout = %v, want 5s", c.refreshTimeout)
	}

	c, _ = newCoordinator(&fakeSession{}, discardErrors, WithRefreshTimeout(0))
	if c.refreshTimeout != 30*time.Second {
		t.Errorf("refreshTimeout = %v, zero must keep the default", c.refreshTimeout)
	}
}

func TestWithReadyWait(t *testing.T) {
	c, _ := newCoordinator(&fakeSession{}, discardErrors, WithReadyWait(10*time.Millisecond, 5))
	if c.readyInterval != 10*time.Millisecond {
		t.Errorf("readyInterval = %v, want 10ms", c.readyInterval)
	}
	if c.readyAttempts != 5 {
		t.Errorf("readyAttempts = %d, want 5", c.readyAttempts)
	}
}

func TestDefaultCalls(t *testing.T) {
	calls := DefaultCalls()
	keys := map[string]bool{}
	for _, call := range calls {
		if keys[call.Key] {
			t.Errorf("duplicate key %q in default batch", call.Key)
		}
		keys[call.Key] = true
	}
	if !keys["system.info"] {
		t.Error("default batch should include system.info")
	}
}
