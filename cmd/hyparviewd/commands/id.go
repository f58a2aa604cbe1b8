package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/hyparview/peers"
)

// NewIDCmd returns a command that prints the wire encoding of an IP:Port,
// the 6-byte identifier a node advertises to the cluster. Useful for
// sanity-checking a --join address before starting a node.
func NewIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id [ip:port]",
		Short: "Print the peer identifier encoding of an IP:Port",
		Args:  cobra.ExactArgs(1),
		RunE:  printID,
	}
}

func printID(cmd *cobra.Command, args []string) error {
	host, portStr, err := splitHostPortArg(args[0])
	if err != nil {
		return err
	}

	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fmt.Errorf("invalid port %q: %v", portStr, err)
	}

	id, err := peers.NewID(host, port)
	if err != nil {
		return err
	}

	enc := id.Encode()
	fmt.Printf("id:      %s\n", id.String())
	fmt.Printf("encoded: % x\n", enc)

	return nil
}

func splitHostPortArg(addr string) (string, string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("%q is not host:port", addr)
}
