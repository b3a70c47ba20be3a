package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Arceliar/tahrir"
)

func initCmd() *cobra.Command {
	var (
		port     uint16
		hostName string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and generate the node identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(filepath.Join(home, tahrir.ConfigFile)); err == nil && !force {
				return errors.New("node directory already initialized (use --force to overwrite the config)")
			}
			cfg := tahrir.DefaultConfig()
			if cmd.Flags().Changed("port") {
				cfg.UDP.ListenPort = port
			}
			cfg.LocalHostName = hostName
			if err := tahrir.SaveConfig(home, cfg); err != nil {
				return err
			}
			// Starting the node once creates the identity and the public descriptor.
			node, err := tahrir.New(home, cfg, tahrir.WithLogger(log), tahrir.WithPassphrase(passphrase))
			if err != nil {
				return err
			}
			desc := node.Descriptor()
			if err := node.Close(); err != nil {
				return err
			}
			fmt.Printf("Node initialized in %s\nKey: %s\n", home, desc.Key)
			return nil
		},
	}
	cmd.Flags().Uint16Var(&port, "port", 0, "UDP listen port")
	cmd.Flags().StringVar(&hostName, "hostname", "", "host name or address advertised to other nodes")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
