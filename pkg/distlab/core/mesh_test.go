package core

import (
	"testing"

	"github.com/vlebedev/distlab/pkg/distlab/types"
)

func TestBuildMeshHandleCount(t *testing.T) {
	const n = 5
	rows, err := BuildMesh(n, nil)
	if err != nil {
		t.Fatalf("BuildMesh: %v", err)
	}
	defer func() {
		for _, row := range rows {
			CloseRow(row)
		}
	}()

	for id, row := range rows {
		if len(row) != n-1 {
			t.Fatalf("peer %d: want %d channels, got %d", id, n-1, len(row))
		}
		if got := CountOpenHandles(row); got != 2*(n-1) {
			t.Fatalf("peer %d: want %d open fd handles, got %d", id, 2*(n-1), got)
		}
	}
}

func TestBuildMeshConnectsPeers(t *testing.T) {
	const n = 3
	rows, err := BuildMesh(n, nil)
	if err != nil {
		t.Fatalf("BuildMesh: %v", err)
	}
	defer func() {
		for _, row := range rows {
			CloseRow(row)
		}
	}()

	msg, err := types.NewMessage(types.Started, 1, nil)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := rows[0][1].Write(msg); err != nil {
		t.Fatalf("writing 0->1: %v", err)
	}
	got, err := rows[1][0].ReadBlocking()
	if err != nil {
		t.Fatalf("reading 0->1: %v", err)
	}
	if got.Header.Type != types.Started {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestBuildMeshRejectsNonPositiveSize(t *testing.T) {
	if _, err := BuildMesh(0, nil); err == nil {
		t.Fatal("want error for n=0")
	}
}
