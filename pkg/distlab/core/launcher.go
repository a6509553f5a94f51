package core

import (
	"fmt"
	"sync"

	"github.com/vlebedev/distlab/pkg/distlab/types"
)

// RunConfig is everything a launched run needs beyond the mesh itself:
// whether the bank phase runs at all, initial balances (indexed by
// child id), the transfer schedule, whether the mutex phase
// synchronises its work loop and with which variant, and where
// protocol events go.
type RunConfig struct {
	N            int
	BankEnabled  bool
	Balances     map[types.LocalID]int16
	Robbery      Robbery
	MutexEnabled bool
	MutexVariant MutexVariant
	Events       *EventLog
	Pipes        *EventSink
}

// RunResult is what a launch reports once every peer has returned.
type RunResult struct {
	Histories map[types.LocalID]types.BalanceHistory
	Errors    map[types.LocalID]error
}

// Launch builds the N-peer mesh and runs the coordinator and every
// child concurrently via invoker, enforcing spec §4.3's ordering
// constraint: the whole mesh exists before any peer begins protocol
// code. It blocks until every peer has returned.
func Launch(cfg RunConfig, invoker Invoker) (*RunResult, error) {
	if cfg.N < 2 {
		return nil, fmt.Errorf("distlab: need at least 2 peers (1 coordinator + 1 child), got %d", cfg.N)
	}

	rows, err := BuildMesh(cfg.N, cfg.Pipes)
	if err != nil {
		return nil, fmt.Errorf("distlab: building mesh: %w", err)
	}

	endpoints := make(map[types.LocalID]*Endpoint, cfg.N)
	for id := types.LocalID(0); int(id) < cfg.N; id++ {
		role := types.RoleChild
		if id == types.ParentID {
			role = types.RoleParent
		}
		endpoints[id] = NewEndpoint(id, cfg.N, role, rows[id])
	}

	result := &RunResult{Errors: make(map[types.LocalID]error, cfg.N)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(1)
	invoker.Spawn(func() {
		defer wg.Done()
		peer := NewPeer(endpoints[types.ParentID], cfg.Events, types.RoleParent, cfg.MutexVariant)
		histories, err := peer.RunCoordinator(cfg.BankEnabled, cfg.Balances, cfg.Robbery)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Errors[types.ParentID] = err
			return
		}
		result.Histories = histories
	})

	for id := types.LocalID(1); int(id) < cfg.N; id++ {
		id := id
		wg.Add(1)
		invoker.Spawn(func() {
			defer wg.Done()
			peer := NewPeer(endpoints[id], cfg.Events, types.RoleChild, cfg.MutexVariant)
			balance := cfg.Balances[id]
			err := peer.RunChild(cfg.BankEnabled, balance, cfg.MutexEnabled)
			mu.Lock()
			defer mu.Unlock()
			result.Errors[id] = err
		})
	}

	wg.Wait()
	for _, ep := range endpoints {
		ep.Close()
	}

	for id, err := range result.Errors {
		if err != nil {
			return result, fmt.Errorf("distlab: peer %d failed: %w", id, err)
		}
	}
	return result, nil
}
