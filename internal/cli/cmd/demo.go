package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/GunterMueller/shades/internal/asm"
	"github.com/GunterMueller/shades/internal/cli"
	"github.com/GunterMueller/shades/internal/commit"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/loader"
	"github.com/GunterMueller/shades/internal/log"
	"github.com/GunterMueller/shades/internal/root"
	"github.com/GunterMueller/shades/internal/trie"
	"github.com/GunterMueller/shades/internal/vm"
	"github.com/GunterMueller/shades/internal/word"
)

// demoMain assembles a single routine, 21 + 21, the way loader_test's doubleSpec fixture is built:
// entry-point, no calls, pushed operand then a plain binary op. It exercises the loader/VM path
// run takes without requiring a continuation-bcode global (see CALL's "next" operand, which the
// loader has no way to bind for a routine that is not itself an entry point).
const demoMain = `
.ENTRY
.ACCU TAGGED
.ARGS 0
.STACK 2

PUSH_LITERAL 21
PUSH_LITERAL 21
ADD
RETURN
`

// Demo is a self-contained demonstration: it needs no database or source files of its own, and
// leaves nothing behind (its heap is never backed by a file).
func Demo() cli.Command {
	return new(demo)
}

type demo struct {
	debug bool
}

func (demo) Description() string {
	return "run a small in-memory fixture program"
}

func (demo) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `demo [-debug]

Assemble and run a tiny fixture routine against a throwaway in-memory database, printing the
final accumulator.`)

	return err
}

func (d *demo) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	fs.BoolVar(&d.debug, "debug", false, "enable debug logging")

	return fs
}

func (d *demo) Run(ctx context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if d.debug {
		log.LogLevel.Set(log.Debug)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h, err := heap.New(heap.Config{})
	if err != nil {
		logger.Error("demo: new heap", "err", err)
		return 1
	}

	defer h.Close()

	r := &root.Block{}

	prog, err := asm.Parse("main", demoMain)
	if err != nil {
		logger.Error("demo: parse", "err", err)
		return 1
	}

	spec, err := prog.Resolve(nil)
	if err != nil {
		logger.Error("demo: resolve", "err", err)
		return 1
	}

	ld := loader.New(h, r)

	mainID, _, err := ld.Load(spec)
	if err != nil {
		logger.Error("demo: load", "err", err)
		return 1
	}

	machine := vm.New(h, r, commit.NewEngine(h, r, root.NewSmartPtrs(), commit.NoCollection{}), vm.WithLogger(logger))

	protoTagged, ok := trie.Find(h, r.Globals, mainID)
	if !ok || protoTagged.Tag() != word.TagPointer {
		logger.Error("demo: main routine missing its global binding")
		return 1
	}

	if _, err := machine.Spawn(protoTagged.Pointer(), priorityNormal); err != nil {
		logger.Error("demo: spawn", "err", err)
		return 1
	}

	logger.Info("demo: running")

	runErr := machine.Run(ctx)

	switch {
	case errors.Is(runErr, vm.ErrHalted), runErr == nil:
		// main's RETURN with no caller reaches opReturn's null-return-link path (outcomeDie), so
		// Run ends cleanly once the last thread dies.
	case errors.Is(runErr, context.DeadlineExceeded):
		logger.Warn("demo: timed out")
		return 2
	default:
		logger.Error("demo: failed", "err", runErr)
		return 1
	}

	fmt.Fprintf(out, "21 + 21 = %s (accu type %s)\n", machine.Accu, machine.AccuType)

	return 0
}
