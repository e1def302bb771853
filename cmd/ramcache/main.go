package main

import (
	"os"

	"github.com/catatsuy/ramcache/internal/cli"
	"github.com/catatsuy/ramcache/internal/term"
)

func main() {
	cl := cli.NewCLI(os.Stdout, os.Stderr, os.Stdin, term.IsTerminal(os.Stdin))
	os.Exit(cl.Run(os.Args))
}
