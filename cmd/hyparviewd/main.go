package main

import (
	"os"

	cmd "github.com/mosaicnetworks/hyparview/cmd/hyparviewd/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	// Do not print usage when an error occurs.
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
