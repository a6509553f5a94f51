package core

import (
	"sync"
	"testing"

	"github.com/vlebedev/distlab/pkg/distlab/types"
)

// newTestMesh builds n endpoints wired by real pipes and a throwaway
// event log, mirroring scenario S1's "N peers, no bank, no mutex"
// shape without going through the CLI.
func newTestMesh(t *testing.T, n int) (map[types.LocalID]*Endpoint, *EventLog) {
	t.Helper()
	rows, err := BuildMesh(n, nil)
	if err != nil {
		t.Fatalf("BuildMesh: %v", err)
	}
	endpoints := make(map[types.LocalID]*Endpoint, n)
	for id := types.LocalID(0); int(id) < n; id++ {
		role := types.RoleChild
		if id == types.ParentID {
			role = types.RoleParent
		}
		endpoints[id] = NewEndpoint(id, n, role, rows[id])
	}
	t.Cleanup(func() {
		for _, ep := range endpoints {
			ep.Close()
		}
	})

	sink, err := NewEventSink(t.TempDir()+"/events.log", nil)
	if err != nil {
		t.Fatalf("NewEventSink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return endpoints, NewEventLog(sink)
}

func TestBarrierSynchronisedStartAndDone(t *testing.T) {
	const n = 4
	endpoints, events := newTestMesh(t, n)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for id := types.LocalID(0); int(id) < n; id++ {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			role := types.RoleChild
			if id == types.ParentID {
				role = types.RoleParent
			}
			if err := SynchronisedStart(endpoints[id], events, role); err != nil {
				errs <- err
				return
			}
			if err := SynchronisedDone(endpoints[id], events, role, nil); err != nil {
				errs <- err
				return
			}
			errs <- nil
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("peer failed: %v", err)
		}
	}
}

func TestWaitAllRejectsWrongType(t *testing.T) {
	const n = 3
	endpoints, _ := newTestMesh(t, n)

	go func() {
		msg, err := endpoints[1].NewStamped(types.Stop, nil)
		if err != nil {
			return
		}
		_ = endpoints[1].Send(types.ParentID, msg)
	}()
	go func() {
		msg, err := endpoints[2].NewStamped(types.Started, nil)
		if err != nil {
			return
		}
		_ = endpoints[2].Send(types.ParentID, msg)
	}()

	if err := waitAll(endpoints[0], types.Started); err == nil {
		t.Fatal("want an error when a peer sends the wrong message type")
	}
}
