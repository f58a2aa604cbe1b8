package commands

import (
	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/hyparview/config"
)

var _config = config.NewDefaultConfig()

// RootCmd is the root command for hyparviewd.
var RootCmd = &cobra.Command{
	Use:              "hyparviewd",
	Short:            "HyParView membership and gossip-broadcast node",
	TraverseChildren: true,
}

func init() {
	RootCmd.AddCommand(NewRunCmd())
	RootCmd.AddCommand(NewIDCmd())
}
