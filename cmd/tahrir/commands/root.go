package commands

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	home       string
	passphrase string
	verbose    bool

	log = logrus.New()
)

func Execute() error {
	root := &cobra.Command{
		Use:           "tahrir",
		Short:         "Peer-to-peer overlay node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".tahrir")
			}
			return os.MkdirAll(home, 0o700)
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "node directory (default ~/.tahrir)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the private node id")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(initCmd(), idCmd(), seedCmd(), runCmd())
	if err := root.Execute(); err != nil {
		log.WithError(err).Error("Command failed")
		return err
	}
	return nil
}
