package main

import (
	"os"

	"github.com/txguard-dev/txguard/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
