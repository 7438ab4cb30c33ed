package main

import (
	"os"

	"github.com/pilab-dev/idsync/cmd/syncctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
