package main

import (
	"fmt"
	"os"

	cmd "github.com/Asadullah378/MiniChain/cmd/commands"
)

func main() {
	if err := cmd.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
