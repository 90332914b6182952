// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeAfter(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := Fake(start)

	t.Run("fires after advance", func(t *testing.T) {
		ch := fake.After(5 * time.Second)
		select {
		case <-ch:
			t.Fatal("timer fired before advance")
		default:
		}

		fake.Advance(5 * time.Second)
		select {
		case fired := <-ch:
			if !fired.Equal(start.Add(5 * time.Second)) {
				t.Errorf("unexpected fire time: %v", fired)
			}
		default:
			t.Fatal("timer did not fire after advance")
		}
	})

	t.Run("non-positive fires immediately", func(t *testing.T) {
		select {
		case <-fake.After(0):
		default:
			t.Fatal("After(0) should fire immediately")
		}
	})

	t.Run("ordering", func(t *testing.T) {
		first := fake.After(time.Second)
		second := fake.After(2 * time.Second)
		fake.Advance(3 * time.Second)
		firstTime := <-first
		secondTime := <-second
		if !firstTime.Before(secondTime) {
			t.Error("waiters must fire in deadline order")
		}
	})
}

func TestFakeWaitForTimers(t *testing.T) {
	fake := Fake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		fake.Sleep(time.Minute)
		close(done)
	}()

	fake.WaitForTimers(1)
	if fake.PendingCount() != 1 {
		t.Errorf("expected one pending waiter, got %d", fake.PendingCount())
	}
	fake.Advance(time.Minute)
	<-done
}
