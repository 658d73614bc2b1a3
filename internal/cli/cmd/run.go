package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GunterMueller/shades/internal/asm"
	"github.com/GunterMueller/shades/internal/cli"
	"github.com/GunterMueller/shades/internal/commit"
	"github.com/GunterMueller/shades/internal/config"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/loader"
	"github.com/GunterMueller/shades/internal/log"
	"github.com/GunterMueller/shades/internal/recovery"
	"github.com/GunterMueller/shades/internal/root"
	"github.com/GunterMueller/shades/internal/shtring"
	"github.com/GunterMueller/shades/internal/trie"
	"github.com/GunterMueller/shades/internal/vm"
	"github.com/GunterMueller/shades/internal/word"
)

// priorityNormal is root.Priority's second slot ("low", "normal", "high", "urgent"); a routine
// loaded from the command line has no caller to inherit a priority from, so it starts here.
const priorityNormal vm.Priority = 1

// Run is the command that opens (or creates) a database, loads one or more assembled source
// files into it, spawns every routine marked .ENTRY, and runs the VM to completion or timeout.
func Run() cli.Command {
	return &runner{timeout: 10 * time.Second}
}

type runner struct {
	configPath string
	dbPath     string
	timeout    time.Duration
	debug      bool
}

func (runner) Description() string {
	return "load and run assembled routines against a database"
}

func (runner) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `run [-config file] [-db path] [-timeout duration] file.asm...

Open or create a database, load the given sources, and run every .ENTRY routine.`)

	return err
}

func (r *runner) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&r.configPath, "config", "", "path to a shades.conf `file`")
	fs.StringVar(&r.dbPath, "db", "", "override the configured database `path`")
	fs.DurationVar(&r.timeout, "timeout", r.timeout, "stop the machine after `duration` with no halt")
	fs.BoolVar(&r.debug, "debug", false, "enable debug logging")

	return fs
}

func (r *runner) Run(ctx context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if r.debug {
		log.LogLevel.Set(log.Debug)
	}

	if len(args) == 0 {
		logger.Error("run: at least one source file is required")
		return 1
	}

	cfg, err := config.Load(r.configPath, os.Environ(), nil)
	if err != nil {
		logger.Error("run: bad configuration", "err", err)
		return 1
	}

	if r.dbPath != "" {
		cfg.DBPath = r.dbPath
	}

	h, rootBlock, smartPtrs, err := openOrCreate(cfg)
	if err != nil {
		logger.Error("run: open database", "err", err)
		return 1
	}

	defer h.Close()

	entryIDs, err := loadSources(h, rootBlock, args, logger)
	if err != nil {
		logger.Error("run: load", "err", err)
		return 1
	}

	if len(entryIDs) == 0 {
		logger.Error("run: no .ENTRY routine among the given sources")
		return 1
	}

	ce := commit.NewEngine(h, rootBlock, smartPtrs, commit.Threshold{
		LowWaterWords: int(cfg.LowWaterWords),
		MaxWords:      int(cfg.MaxCollectWords),
	})
	machine := vm.New(h, rootBlock, ce, vm.WithLogger(logger))

	for _, id := range entryIDs {
		protoTagged, ok := trie.Find(h, rootBlock.Globals, id)
		if !ok || protoTagged.Tag() != word.TagPointer {
			logger.Error("run: entry point vanished after load", "id", id)
			return 1
		}

		if _, err := machine.Spawn(protoTagged.Pointer(), priorityNormal); err != nil {
			logger.Error("run: spawn", "err", err)
			return 1
		}
	}

	if err := machine.Checkpoint(); err != nil {
		logger.Error("run: checkpoint after load", "err", err)
		return 1
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	runErr := machine.Run(runCtx)

	switch {
	case errors.Is(runErr, vm.ErrHalted):
		logger.Info("run: halted")
	case errors.Is(runErr, context.DeadlineExceeded):
		logger.Warn("run: timed out", "timeout", r.timeout)
	case runErr != nil:
		logger.Error("run: failed", "err", runErr)
		return 1
	default:
		logger.Info("run: every thread ended")
	}

	if err := machine.Checkpoint(); err != nil {
		logger.Error("run: final checkpoint", "err", err)
		return 1
	}

	return 0
}

// openOrCreate recovers an existing database, or if its backing file (or in-memory image) carries
// no valid root block yet, opens a fresh heap and starts a new one from an empty root block.
func openOrCreate(cfg config.Config) (*heap.Heap, *root.Block, *root.SmartPtrs, error) {
	hcfg := heap.Config{
		HeapSize:    int(cfg.HeapSize),
		PageSize:    int(cfg.PageSize),
		BackingFile: cfg.DBPath,
	}

	res, err := recovery.Recover(hcfg)

	switch {
	case err == nil:
		return res.Heap, res.Root, res.SmartPtrs, nil
	case errors.Is(err, recovery.ErrNoRootBlock):
		h, err := heap.New(hcfg)
		if err != nil {
			return nil, nil, nil, err
		}

		return h, &root.Block{}, root.NewSmartPtrs(), nil
	default:
		return nil, nil, nil, err
	}
}

// loadSources parses every source file, interns each routine's name up front so a forward
// reference from one file to a routine defined in a later one resolves on the first pass, then
// resolves and loads each in turn. It returns the interned ids of every routine marked .ENTRY.
func loadSources(h *heap.Heap, r *root.Block, paths []string, logger *log.Logger) ([]word.Word, error) {
	type unit struct {
		name string
		prog *asm.Program
	}

	units := make([]unit, 0, len(paths))
	globals := make(map[string]word.Word, len(paths))

	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		prog, err := asm.Parse(name, string(src))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		newRoot, id, _, _ := shtring.Intern(h, r.InternedShtrings, []byte(name))
		r.InternedShtrings = newRoot
		globals[name] = id

		units = append(units, unit{name: name, prog: prog})
	}

	ld := loader.New(h, r)

	var entryIDs []word.Word

	for _, u := range units {
		spec, err := u.prog.Resolve(globals)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u.name, err)
		}

		id, _, err := ld.Load(spec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u.name, err)
		}

		if spec.IsEntryPoint {
			entryIDs = append(entryIDs, id)
		}
	}

	ld.ResolvePending()

	logger.Debug("loadSources", "files", len(paths), "entries", len(entryIDs))

	return entryIDs, nil
}
