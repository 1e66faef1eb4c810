package main

import (
	"os"

	"github.com/bnema/jupyter-engine-manager/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
