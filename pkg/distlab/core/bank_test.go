package core

import (
	"sync"
	"testing"

	"github.com/vlebedev/distlab/pkg/distlab/types"
)

// runBankScenario wires n-1 children around a coordinator, drives
// robbery through CoordinatorBank/ChildBank, and returns the
// reconciled histories (scenario S2's shape).
func runBankScenario(t *testing.T, n int, initial map[types.LocalID]int16, robbery Robbery) map[types.LocalID]types.BalanceHistory {
	t.Helper()
	endpoints, events := newTestMesh(t, n)

	var wg sync.WaitGroup
	var histories map[types.LocalID]types.BalanceHistory
	errs := make(chan error, n)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := SynchronisedStart(endpoints[0], events, types.RoleParent); err != nil {
			errs <- err
			return
		}
		h, err := CoordinatorBank(endpoints[0], events, initial, robbery)
		if err != nil {
			errs <- err
			return
		}
		histories = h
		errs <- SynchronisedDone(endpoints[0], events, types.RoleParent, nil)
	}()

	for id := types.LocalID(1); int(id) < n; id++ {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := SynchronisedStart(endpoints[id], events, types.RoleChild); err != nil {
				errs <- err
				return
			}
			state := NewChildBankState(initial[id])
			if err := ChildBank(endpoints[id], events, state); err != nil {
				errs <- err
				return
			}
			errs <- SynchronisedDone(endpoints[id], events, types.RoleChild, nil)
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("peer failed: %v", err)
		}
	}
	return histories
}

func TestBankSingleTransfer(t *testing.T) {
	const n = 3 // coordinator + 2 children
	initial := map[types.LocalID]int16{1: 100, 2: 50}

	robbery := func(cap Capability, events *EventLog, childCount int) error {
		return Transfer(cap, events, 1, 2, 30)
	}

	histories := runBankScenario(t, n, initial, robbery)

	final1 := histories[1].Entries[len(histories[1].Entries)-1].Balance
	final2 := histories[2].Entries[len(histories[2].Entries)-1].Balance
	if final1 != 70 {
		t.Fatalf("child 1 final balance: want 70, got %d", final1)
	}
	if final2 != 80 {
		t.Fatalf("child 2 final balance: want 80, got %d", final2)
	}
}

func TestBankConservationAtFinalTime(t *testing.T) {
	// pending_in is intentionally not tracked (spec §4.7), so the
	// conservation property only holds exactly at the final reconciled
	// time index, once every debit has a matching credit recorded.
	const n = 4 // coordinator + 3 children
	initial := map[types.LocalID]int16{1: 100, 2: 100, 3: 100}
	total := int16(0)
	for _, b := range initial {
		total += b
	}

	robbery := RandomRobbery(8, 10, 42)
	histories := runBankScenario(t, n, initial, robbery)

	sum := int16(0)
	for id := types.LocalID(1); int(id) < n; id++ {
		h := histories[id]
		sum += h.Entries[len(h.Entries)-1].Balance
	}
	if sum != total {
		t.Fatalf("conservation violated: want total %d, got %d", total, sum)
	}
}

func TestReconcileHistoriesCarriesForward(t *testing.T) {
	initial := map[types.LocalID]int16{1: 10, 2: 20}
	raw := map[types.LocalID]types.BalanceHistory{
		1: {Owner: 1, Entries: []types.BalanceEntry{
			{Balance: 5, Time: types.UnsetTime},
			{Balance: 5, Time: 1},
		}},
		2: {Owner: 2, Entries: []types.BalanceEntry{
			{Balance: 25, Time: 0},
		}},
	}

	out := ReconcileHistories(initial, raw)
	if len(out[1].Entries) != 2 || len(out[2].Entries) != 2 {
		t.Fatalf("reconciled histories not uniform length: %d, %d", len(out[1].Entries), len(out[2].Entries))
	}
	if out[2].Entries[1].Balance != 25 {
		t.Fatalf("child 2 did not carry its balance forward: got %d", out[2].Entries[1].Balance)
	}
	if out[2].Entries[1].PendingIn != 0 {
		t.Fatalf("carried-forward entry must have pending_in=0, got %d", out[2].Entries[1].PendingIn)
	}
}
