// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/parley-tui/internal/model"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndTotals(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	if err := l.Record(ctx, "parley-large", model.Usage{PromptTokens: 100, CompletionTokens: 50, Cost: 0.003}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := l.Record(ctx, "parley-mini", model.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	totals, err := l.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.Exchanges != 2 {
		t.Errorf("exchanges = %d, want 2", totals.Exchanges)
	}
	if totals.PromptTokens != 120 || totals.CompletionTokens != 60 {
		t.Errorf("tokens = %d/%d", totals.PromptTokens, totals.CompletionTokens)
	}
	// TotalTokens derived when the record omits it
	if totals.TotalTokens != 180 {
		t.Errorf("total tokens = %d, want 180", totals.TotalTokens)
	}
	if totals.Cost != 0.003 {
		t.Errorf("cost = %v", totals.Cost)
	}
}

func TestTotalsByModel(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	l.Record(ctx, "parley-mini", model.Usage{PromptTokens: 10, CompletionTokens: 5})
	l.Record(ctx, "parley-large", model.Usage{PromptTokens: 1000, CompletionTokens: 500})
	l.Record(ctx, "parley-large", model.Usage{PromptTokens: 200, CompletionTokens: 100})

	byModel, err := l.TotalsByModel(ctx)
	if err != nil {
		t.Fatalf("TotalsByModel failed: %v", err)
	}
	if len(byModel) != 2 {
		t.Fatalf("models = %d, want 2", len(byModel))
	}
	// Highest total first
	if byModel[0].ModelID != "parley-large" || byModel[0].Exchanges != 2 {
		t.Errorf("first = %+v", byModel[0])
	}
	if byModel[0].TotalTokens != 1800 {
		t.Errorf("large total = %d", byModel[0].TotalTokens)
	}
	if byModel[1].ModelID != "parley-mini" {
		t.Errorf("second = %+v", byModel[1])
	}
}

func TestTotalsByDay(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.Local)
	l.now = func() time.Time { return base.AddDate(0, 0, -2) }
	l.Record(ctx, "parley-large", model.Usage{PromptTokens: 10, CompletionTokens: 10})

	l.now = func() time.Time { return base }
	l.Record(ctx, "parley-large", model.Usage{PromptTokens: 30, CompletionTokens: 30})
	l.Record(ctx, "parley-large", model.Usage{PromptTokens: 40, CompletionTokens: 40})

	days, err := l.TotalsByDay(ctx, 7)
	if err != nil {
		t.Fatalf("TotalsByDay failed: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("days = %d, want 2", len(days))
	}
	if days[0].Day != "2025-06-10" || days[0].Exchanges != 2 || days[0].TotalTokens != 140 {
		t.Errorf("first day = %+v", days[0])
	}
	if days[1].Day != "2025-06-08" || days[1].Exchanges != 1 {
		t.Errorf("second day = %+v", days[1])
	}
}

func TestLedgerPersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	ctx := context.Background()

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	l.Record(ctx, "parley-large", model.Usage{PromptTokens: 5, CompletionTokens: 5})
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer l2.Close()

	totals, err := l2.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.Exchanges != 1 {
		t.Errorf("exchanges = %d, want 1", totals.Exchanges)
	}
}

func TestClosedLedgerRejectsOperations(t *testing.T) {
	l := openTestLedger(t)
	l.Close()

	ctx := context.Background()
	if err := l.Record(ctx, "m", model.Usage{}); !errors.Is(err, ErrLedgerClosed) {
		t.Errorf("Record after close: %v", err)
	}
	if _, err := l.Totals(ctx); !errors.Is(err, ErrLedgerClosed) {
		t.Errorf("Totals after close: %v", err)
	}
}
