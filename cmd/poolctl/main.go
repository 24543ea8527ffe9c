package main

import (
	"fmt"
	"os"

	"github.com/sifan077/PoolURL/internal/cli/command"
)

func main() {
	app := command.App(command.PostgresOpener, os.Stdout)

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
