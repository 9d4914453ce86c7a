package main

import (
	"os"

	"github.com/rustyeddy/autopilot/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
