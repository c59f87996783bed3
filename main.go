package main

import (
	"os"

	"github.com/conneroisu/breach/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
