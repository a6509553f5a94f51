package core

import (
	"fmt"
	"os"

	plog "github.com/prometheus/common/log"
	"github.com/vlebedev/distlab/pkg/distlab/types"
)

// pipeEnds is one unidirectional OS pipe, read end and write end.
type pipeEnds struct {
	r *os.File
	w *os.File
}

// BuildMesh allocates the full N×N grid of unidirectional pipes (the
// diagonal stays empty) and returns, per peer, the row of
// FramedChannels it owns — the read end of every pipe (j, i) and the
// write end of every pipe (i, j), for j != i. This realizes spec
// §4.3: "peer i holds exactly (N−1) read ends and (N−1) write ends;
// every other handle is closed."
//
// Because every peer here is a goroutine in one address space rather
// than a forked OS process, no pipe end is ever duplicated into an
// endpoint that should not own it, so there is no extra close pass to
// perform (see DESIGN.md for the reasoning).
func BuildMesh(n int, pipesLog *EventSink) (map[types.LocalID]map[types.LocalID]*FramedChannel, error) {
	if n <= 0 {
		return nil, fmt.Errorf("distlab: mesh size must be positive, got %d", n)
	}

	matrix := make([][]pipeEnds, n)
	for i := range matrix {
		matrix[i] = make([]pipeEnds, n)
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			r, w, err := os.Pipe()
			if err != nil {
				plog.Errorf("failed opening pipe [%d -> %d]: %v", i, j, err)
				return nil, fmt.Errorf("distlab: opening pipe [%d -> %d]: %w", i, j, err)
			}
			matrix[i][j] = pipeEnds{r: r, w: w}
			if pipesLog != nil {
				pipesLog.Raw(fmt.Sprintf("Opened pipe [%d -> %d]\n", i, j))
			}
		}
	}

	rows := make(map[types.LocalID]map[types.LocalID]*FramedChannel, n)
	for self := 0; self < n; self++ {
		row := make(map[types.LocalID]*FramedChannel, n-1)
		for other := 0; other < n; other++ {
			if self == other {
				continue
			}
			// We read from the pipe the counterpart writes to us on,
			// matrix[other][self], and we write on the pipe we own
			// toward them, matrix[self][other].
			row[types.LocalID(other)] = NewFramedChannel(matrix[other][self].r, matrix[self][other].w)
		}
		rows[types.LocalID(self)] = row
	}
	return rows, nil
}

// CountOpenHandles reports the number of pipe ends (non-nil rfd/wfd)
// held in an Endpoint's row — used to property-test the mesh-closure
// invariant (spec §8, property 3): it must equal 2*(n-1). It does not
// check whether an end has been closed; Close leaves the fields set.
func CountOpenHandles(row map[types.LocalID]*FramedChannel) int {
	count := 0
	for _, ch := range row {
		if ch.rfd != nil {
			count++
		}
		if ch.wfd != nil {
			count++
		}
	}
	return count
}

// CloseRow closes every channel in a peer's row; used on peer exit.
func CloseRow(row map[types.LocalID]*FramedChannel) {
	for _, ch := range row {
		_ = ch.Close()
	}
}
