package main

import (
	"os"

	"github.com/solos-app/sol-engine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
