package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Arceliar/tahrir"
)

func runCmd() *cobra.Command {
	var (
		port      uint16
		multicast bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the node and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := tahrir.LoadConfig(home)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.UDP.ListenPort = port
			}
			node, err := tahrir.New(home, cfg, tahrir.WithLogger(log), tahrir.WithPassphrase(passphrase))
			if err != nil {
				return err
			}
			defer node.Close()
			log.WithField("descriptor", node.Descriptor()).
				WithField("peers", node.Peers().Len()).
				Info("Node started")

			if multicast {
				mc, err := newMulticastConn()
				if err != nil {
					return err
				}
				defer mc.Close()
				announcement := encodeAnnouncement(node)
				go mcSender(mc, announcement)
				go mcListener(mc, node)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			log.Info("Shutting down")
			return nil
		},
	}
	cmd.Flags().Uint16Var(&port, "port", 0, "override the configured UDP listen port")
	cmd.Flags().BoolVar(&multicast, "multicast", false, "discover and announce nodes on link-local IPv6 multicast")
	return cmd
}
