// cmd/shadesd is the command-line interface to a Shades database process: opening or creating a
// heap-backed database file, loading assembled routines into it, and driving the bytecode VM
// against them.
package main

import (
	"context"
	"os"

	"github.com/GunterMueller/shades/internal/cli"
	"github.com/GunterMueller/shades/internal/cli/cmd"
)

var commands = []cli.Command{
	cmd.Run(),
	cmd.Check(),
	cmd.Demo(),
}

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
