package main

import (
	"os"

	"tutorchat/cmd/tutorchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
