package commands

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/Arceliar/tahrir"
	"github.com/Arceliar/tahrir/peers"
	"github.com/Arceliar/tahrir/persist"
	"github.com/Arceliar/tahrir/types"
)

// loadSeedFile builds this node's seed file from the node directory without starting the node.
func loadSeedFile() (peers.SeedFile, error) {
	var sf peers.SeedFile
	cfg, err := tahrir.LoadConfig(home)
	if err != nil {
		return sf, err
	}
	store, err := persist.New(home)
	if err != nil {
		return sf, err
	}
	var desc types.PeerDescriptor
	if err := store.LoadReadOnly(cfg.PublicNodeID, &desc); err != nil {
		return sf, err
	}
	sf.Descriptor = desc
	sf.Capabilities = cfg.Capabilities
	return sf, nil
}

func idCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print this node's seed file, for other nodes' peer directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			sf, err := loadSeedFile()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(&sf)
		},
	}
}
