package main

import (
	"os"

	"github.com/Arceliar/tahrir/cmd/tahrir/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
