// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"testing"
	"time"
)

func TestRenderGateBatchThreshold(t *testing.T) {
	g := NewRenderGate(5, 1) // 1fps: the time path never triggers in-test

	for i := 0; i < 4; i++ {
		g.Note()
	}
	if g.ShouldRender() {
		t.Error("rendered below batch threshold")
	}

	g.Note()
	if !g.ShouldRender() {
		t.Error("batch threshold should trigger a render")
	}
	if g.Pending() != 0 {
		t.Errorf("pending = %d after render", g.Pending())
	}
}

func TestRenderGateTimeThreshold(t *testing.T) {
	g := NewRenderGate(1000, 100) // 10ms interval

	g.Note()
	if g.ShouldRender() {
		t.Error("rendered before the frame interval elapsed")
	}

	time.Sleep(15 * time.Millisecond)
	if !g.ShouldRender() {
		t.Error("elapsed interval should trigger a render")
	}
}

func TestRenderGateEmptyNeverRenders(t *testing.T) {
	g := NewRenderGate(1, 1000)
	time.Sleep(5 * time.Millisecond)
	if g.ShouldRender() {
		t.Error("rendered with nothing pending")
	}
}

func TestRenderGateForceRender(t *testing.T) {
	g := NewRenderGate(100, 1)

	if g.ForceRender() {
		t.Error("ForceRender reported pending work on an empty gate")
	}

	g.Note()
	if !g.ForceRender() {
		t.Error("ForceRender should consume pending updates")
	}
	if g.Pending() != 0 {
		t.Error("pending not cleared")
	}
}

func TestRenderGateDefaults(t *testing.T) {
	g := NewRenderGate(0, 0)
	if g.batchSize != defaultBatchSize {
		t.Errorf("batchSize = %d", g.batchSize)
	}
	if g.minInterval != time.Second/defaultMaxFPS {
		t.Errorf("minInterval = %v", g.minInterval)
	}

	// Over-cap fps falls back too
	g = NewRenderGate(10, 500)
	if g.minInterval != time.Second/defaultMaxFPS {
		t.Errorf("minInterval = %v for out-of-range fps", g.minInterval)
	}
}

func TestRenderGateReset(t *testing.T) {
	g := NewRenderGate(1, 1000)
	g.Note()
	g.Reset()
	if g.Pending() != 0 {
		t.Error("Reset did not clear pending")
	}
}

func TestWaitStoreCmdCoalesces(t *testing.T) {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}

	msg := waitStoreCmd(ch)()
	if _, ok := msg.(StoreChangedMsg); !ok {
		t.Fatalf("msg = %T, want StoreChangedMsg", msg)
	}
}

func TestWaitStoreCmdClosedChannel(t *testing.T) {
	ch := make(chan struct{})
	close(ch)

	if msg := waitStoreCmd(ch)(); msg != nil {
		t.Errorf("closed channel should yield nil, got %T", msg)
	}
}
