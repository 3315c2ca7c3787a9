package testutil

import (
	"fmt"
	"testing"
	"time"
)

// Eventually polls cond every 10ms until it returns true or timeout expires.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string, args ...any) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met after %v: %s", timeout, fmt.Sprintf(msg, args...))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// RunWithTimeout runs fn and returns an error if it does not finish in time.
// fn keeps running in the background after a timeout.
func RunWithTimeout(timeout time.Duration, fn func()) error {
	done := make(chan struct{})

	go func() {
		fn()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout after %v", timeout)
	}
}
