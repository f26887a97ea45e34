package main

import (
	"os"

	"github.com/mkessel/outrider/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
