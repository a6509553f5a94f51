// Command distlab runs one coordinator plus N children through the
// lifecycle barrier, bank transfer and mutual-exclusion protocols
// described in the laboratory's core packages.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/vlebedev/distlab/pkg/distlab/core"
	"github.com/vlebedev/distlab/pkg/distlab/definition"
	"github.com/vlebedev/distlab/pkg/distlab/types"
)

var (
	childCount   = kingpin.Flag("p", "number of children").Short('p').Required().Int()
	balancesArg  = kingpin.Arg("balances", "initial balance for each child 1..N; omit to skip the bank phase").Ints()
	mutexl       = kingpin.Flag("mutexl", "synchronise the child work loop with the mutual-exclusion protocol").Bool()
	mutexVariant = kingpin.Flag("mutex-variant", "mutual-exclusion algorithm to use").Default("lamport").Enum("lamport", "ricart-agrawala")
	logDir       = kingpin.Flag("log-dir", "directory for pipes.log and events.log").Default(".").String()
	robberyCount = kingpin.Flag("robbery-count", "number of random transfers to run when the bank phase is active").Default("0").Int()
	robberyMax   = kingpin.Flag("robbery-max", "maximum amount per random transfer").Default("10").Int()
	seed         = kingpin.Flag("seed", "seed for the random transfer schedule").Default("1").Int64()
	debug        = kingpin.Flag("debug", "enable debug-level diagnostic logging").Bool()
)

func main() {
	kingpin.Parse()

	logger := definition.NewDefaultLogger("distlab")
	logger.ToggleDebug(*debug)

	if err := run(logger); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func run(logger definition.Logger) error {
	n := *childCount + 1

	balances := make(map[types.LocalID]int16, *childCount)
	bankEnabled := len(*balancesArg) > 0
	if bankEnabled && len(*balancesArg) != *childCount {
		return fmt.Errorf("distlab: expected %d balances, got %d", *childCount, len(*balancesArg))
	}
	for i, b := range *balancesArg {
		balances[types.LocalID(i+1)] = int16(b)
	}

	variant := core.MutexLamport
	if *mutexVariant == "ricart-agrawala" {
		variant = core.MutexRicartAgrawala
	}

	pipesSink, err := core.NewEventSink(filepath.Join(*logDir, "pipes.log"), nil)
	if err != nil {
		return err
	}
	defer pipesSink.Close()

	eventsSink, err := core.NewEventSink(filepath.Join(*logDir, "events.log"), os.Stdout)
	if err != nil {
		return err
	}
	defer eventsSink.Close()
	events := core.NewEventLog(eventsSink)

	var robbery core.Robbery
	if bankEnabled && *robberyCount > 0 {
		robbery = core.RandomRobbery(*robberyCount, int16(*robberyMax), *seed)
	}

	logger.Infof("launching %d peers (bank=%v, mutex=%v/%s)", n, bankEnabled, *mutexl, variant)

	invoker := core.NewGoroutineInvoker()
	result, err := core.Launch(core.RunConfig{
		N:            n,
		BankEnabled:  bankEnabled,
		Balances:     balances,
		Robbery:      robbery,
		MutexEnabled: *mutexl,
		MutexVariant: variant,
		Events:       events,
		Pipes:        pipesSink,
	}, invoker)
	if result != nil && bankEnabled {
		for id, hist := range result.Histories {
			logger.Infof("child %d final balance: %d", id, finalBalance(hist))
		}
	}
	if err != nil {
		return err
	}
	return nil
}

func finalBalance(h types.BalanceHistory) int16 {
	if len(h.Entries) == 0 {
		return 0
	}
	return h.Entries[len(h.Entries)-1].Balance
}
