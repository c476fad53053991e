package app

import (
	"context"
	"testing"

	"github.com/referralpay/commission_engine/internal/app/domain/allocation"
	"github.com/referralpay/commission_engine/internal/app/domain/commission"
	allocatorsvc "github.com/referralpay/commission_engine/internal/app/services/allocator"
	ledgersvc "github.com/referralpay/commission_engine/internal/app/services/ledger"
	"github.com/referralpay/commission_engine/internal/app/system"
)

func TestNew_DefaultsToMemoryStore(t *testing.T) {
	application, err := New(Stores{}, Options{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if application.Ledger == nil || application.Allocator == nil {
		t.Fatalf("services not wired")
	}
	if application.Runner != nil {
		t.Fatalf("runner built without a schedule")
	}

	// The default store is usable end to end.
	dist, err := application.Ledger.Distribute(context.Background(), 100,
		[]commission.Recipient{"a", "b"}, allocation.WeightVector{0.5, 0.5})
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if dist.Credits[0].Amount != 50 {
		t.Fatalf("credit: got %d, want 50", dist.Credits[0].Amount)
	}
}

func TestNew_WithRunnerSchedule(t *testing.T) {
	application, err := New(Stores{}, Options{
		AllocatorOptions: []allocatorsvc.Option{allocatorsvc.WithSeed(1)},
		RunnerSchedule:   "@every 1h",
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if application.Runner == nil {
		t.Fatalf("runner not built for a configured schedule")
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := application.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	if _, err := New(Stores{}, Options{RunnerSchedule: "bogus"}, nil); err == nil {
		t.Fatalf("invalid schedule accepted")
	}
}

func TestNew_LedgerOptionsApplied(t *testing.T) {
	application, err := New(Stores{}, Options{
		LedgerOptions: []ledgersvc.Option{ledgersvc.WithRemainderDiscard()},
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	dist, err := application.Ledger.Distribute(context.Background(), 10001,
		[]commission.Recipient{"a", "b"}, allocation.WeightVector{0.5, 0.5})
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	var total int64
	for _, credit := range dist.Credits {
		total += credit.Amount
	}
	if total+dist.Record.Remainder != 10001 {
		t.Fatalf("discard conservation violated: %d + %d", total, dist.Record.Remainder)
	}
	if total == 10001 {
		t.Fatalf("remainder was not discarded")
	}
	if dist.Record.RemainderPolicy != commission.RemainderDiscard {
		t.Fatalf("policy not recorded: %s", dist.Record.RemainderPolicy)
	}
}

func TestApplication_Attach(t *testing.T) {
	application, err := New(Stores{}, Options{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := application.Attach(system.NoopService{ServiceName: "extra"}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := application.Attach(system.NoopService{ServiceName: "extra"}); err == nil {
		t.Fatalf("duplicate attach accepted")
	}
}
