package core

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/vlebedev/distlab/pkg/distlab/types"
)

func TestLaunchBarrierOnly(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink, err := NewEventSink(t.TempDir()+"/events.log", nil)
	if err != nil {
		t.Fatalf("NewEventSink: %v", err)
	}
	defer sink.Close()

	invoker := NewGoroutineInvoker()
	result, err := Launch(RunConfig{
		N:      3,
		Events: NewEventLog(sink),
	}, invoker)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if result.Histories != nil {
		t.Fatalf("want no histories for a bank-disabled run, got %v", result.Histories)
	}
}

func TestLaunchBankAndMutex(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink, err := NewEventSink(t.TempDir()+"/events.log", nil)
	if err != nil {
		t.Fatalf("NewEventSink: %v", err)
	}
	defer sink.Close()

	balances := map[types.LocalID]int16{1: 50, 2: 50, 3: 50}
	robbery := RandomRobbery(6, 5, 7)

	invoker := NewGoroutineInvoker()
	result, err := Launch(RunConfig{
		N:            4,
		BankEnabled:  true,
		Balances:     balances,
		Robbery:      robbery,
		MutexEnabled: true,
		MutexVariant: MutexLamport,
		Events:       NewEventLog(sink),
	}, invoker)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	var total int16
	for _, b := range balances {
		total += b
	}
	var final int16
	for _, h := range result.Histories {
		final += h.Entries[len(h.Entries)-1].Balance
	}
	if final != total {
		t.Fatalf("conservation violated: want %d, got %d", total, final)
	}
}

func TestLaunchRejectsTooFewPeers(t *testing.T) {
	if _, err := Launch(RunConfig{N: 1}, NewGoroutineInvoker()); err == nil {
		t.Fatal("want an error for N=1")
	}
}
