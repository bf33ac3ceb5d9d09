package main

import (
	"os"

	"github.com/lykmapipo/moron/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
