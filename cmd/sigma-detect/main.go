package main

import (
	"os"

	"github.com/PhucNguyen204/sigma-detect/cmd/sigma-detect/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
