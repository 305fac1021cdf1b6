package main

import (
	"os"

	"github.com/driftglass/bidigo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
