package main

import (
	"os"

	"github.com/example/petclassify/cmd/petclassify/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
