// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresInOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := Fake(start)

	first := fake.After(1 * time.Second)
	second := fake.After(2 * time.Second)

	fake.Advance(3 * time.Second)

	firstAt := <-first
	secondAt := <-second
	if !firstAt.Equal(start.Add(1 * time.Second)) {
		t.Errorf("first fired at %v, want %v", firstAt, start.Add(1*time.Second))
	}
	if !secondAt.Equal(start.Add(2 * time.Second)) {
		t.Errorf("second fired at %v, want %v", secondAt, start.Add(2*time.Second))
	}
	if !fake.Now().Equal(start.Add(3 * time.Second)) {
		t.Errorf("Now = %v, want %v", fake.Now(), start.Add(3*time.Second))
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	fired := false
	timer := fake.AfterFunc(time.Minute, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop returned false for a pending timer")
	}
	fake.Advance(2 * time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFakeTickerRepeatsAndDrops(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	ticker := fake.NewTicker(time.Second)
	defer ticker.Stop()

	// Three intervals elapse but the capacity-1 channel holds only the
	// earliest undrained tick.
	fake.Advance(3 * time.Second)

	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire")
	}
	select {
	case at := <-ticker.C:
		t.Fatalf("unexpected queued tick at %v", at)
	default:
	}

	// After draining, the next interval fires again.
	fake.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after drain")
	}
}

func TestFakeAfterFuncSchedulesFromCallback(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	var order []string
	fake.AfterFunc(time.Second, func() {
		order = append(order, "outer")
		fake.AfterFunc(time.Second, func() {
			order = append(order, "inner")
		})
	})

	fake.Advance(5 * time.Second)

	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("order = %v, want [outer inner]", order)
	}
}
