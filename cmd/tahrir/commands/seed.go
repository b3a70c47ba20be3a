package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Arceliar/tahrir"
	"github.com/Arceliar/tahrir/peers"
	"github.com/Arceliar/tahrir/persist"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Add another node's seed file to the peer directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var sf peers.SeedFile
			if err := json.Unmarshal(data, &sf); err != nil {
				return fmt.Errorf("failed to parse seed file: %w", err)
			}
			if !sf.Descriptor.HasLocation() {
				return peers.NoLocationError{}
			}
			cfg, err := tahrir.LoadConfig(home)
			if err != nil {
				return err
			}
			store, err := persist.New(home)
			if err != nil {
				return err
			}
			base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			name := cfg.PublicNodeIDsDir + "/seed-" + base + ".json"
			if err := store.Save(name, &sf, persist.PublicMode); err != nil {
				return err
			}
			fmt.Printf("Added %s\n", sf.Descriptor)
			return nil
		},
	}
}
