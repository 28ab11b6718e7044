package main

import (
	"os"

	"github.com/gzhole/mailshield/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
