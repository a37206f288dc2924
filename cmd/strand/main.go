package main

import (
	"os"

	"strand/cmd/strand/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
