package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mosaicnetworks/hyparview/broadcast"
	"github.com/mosaicnetworks/hyparview/membership"
	"github.com/mosaicnetworks/hyparview/peers"
	"github.com/mosaicnetworks/hyparview/service"
)

// NewRunCmd returns the command that starts a hyparviewd node.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run a HyParView node",
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	AddRunFlags(cmd)
	return cmd
}

// AddRunFlags registers the run command's flags against _config's defaults.
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for this node")
	cmd.Flags().StringP("join", "j", _config.Join, "IP:Port of a contact node to join through")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for the HTTP introspection API, empty to disable")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-format", _config.LogFormat, "text or json")

	// Flag names below match membership.Config's mapstructure tags exactly
	// (underscored, not dashed) so a single viper.Unmarshal populates the
	// squashed Membership struct directly off the bound flag set.
	cmd.Flags().Int("active_size", _config.Membership.ActiveSize, "Active view size")
	cmd.Flags().Int("passive_size", _config.Membership.PassiveSize, "Passive view size")
	cmd.Flags().Uint8("arwl", _config.Membership.ARWL, "Active random walk length")
	cmd.Flags().Uint8("prwl", _config.Membership.PRWL, "Passive random walk length")
	cmd.Flags().Int("k_active", _config.Membership.KActive, "Active-view samples per shuffle")
	cmd.Flags().Int("k_passive", _config.Membership.KPassive, "Passive-view samples per shuffle")
	cmd.Flags().Duration("shuffle_period", _config.Membership.ShufflePeriod, "Interval between shuffle ticks, 0 to disable")
	cmd.Flags().Duration("timeout", _config.Membership.Timeout, "Receive timeout for connections")
	cmd.Flags().Duration("send_timeout", _config.Membership.SendTimeout, "Write timeout for connections")
	cmd.Flags().Duration("conn_timeout", _config.Membership.ConnTimeout, "Dial timeout for outgoing connections")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := bindFlagsLoadViper(cmd); err != nil {
		return err
	}

	_config.Logger().WithFields(map[string]interface{}{
		"listen":         _config.BindAddr,
		"join":           _config.Join,
		"service-listen": _config.ServiceAddr,
		"active_size":    _config.Membership.ActiveSize,
		"passive_size":   _config.Membership.PassiveSize,
	}).Debug("RUN")

	return nil
}

// bindFlagsLoadViper registers flags with viper and unmarshals them into
// _config's squashed namespace.
func bindFlagsLoadViper(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.Unmarshal(_config)
}

func runNode(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	selfID, err := _config.SelfID()
	if err != nil {
		return fmt.Errorf("parsing listen address: %v", err)
	}

	_config.Membership.Logger = logger.Logger

	// The flooder needs the node as its peer source, but the node needs a
	// Callback at construction time, so it is wired in two steps: build the
	// flooder with a nil sender, hand it to the node, then bind the node
	// back into the flooder once it exists.
	flooder := broadcast.NewFlooder(nil, deliverToStdout(logger), logger)

	n := membership.NewNode(selfID, _config.Membership, flooder)
	flooder.SetSender(n)

	if err := n.Start(_config.BindAddr); err != nil {
		return fmt.Errorf("starting node: %v", err)
	}
	logger.WithField("bind_address", n.ListenAddr()).Info("node started")

	if contactID, ok, err := _config.ContactID(); err != nil {
		return fmt.Errorf("parsing join address: %v", err)
	} else if ok {
		if err := n.JoinCluster(contactID); err != nil {
			return fmt.Errorf("joining %s: %v", contactID, err)
		}
		logger.WithField("contact", contactID).Info("joined cluster")
	}

	if _config.ServiceAddr != "" {
		svc := service.NewService(_config.ServiceAddr, statsNode{n}, logger)
		go svc.Serve()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()

	return nil
}

// statsNode adapts *membership.Node's concrete Stats return type to
// service.Node's interface{} return type: the two signatures cannot match
// structurally (Go requires exact method signatures for implicit interface
// satisfaction), so the CLI bridges them at the one call site that needs
// both views of the node.
type statsNode struct {
	*membership.Node
}

func (n statsNode) StatsSnapshot() interface{} {
	return n.Node.StatsSnapshot()
}

func deliverToStdout(logger *logrus.Entry) broadcast.Handler {
	return func(sender peers.ID, payload []byte) {
		logger.WithFields(logrus.Fields{
			"from":  sender,
			"bytes": len(payload),
		}).Info("delivered broadcast payload")
	}
}
