package tahrir

import (
	"errors"
	"os"
	"time"

	"github.com/Arceliar/tahrir/persist"
	"github.com/Arceliar/tahrir/types"
)

// Duration is a time.Duration written as a string like "30s" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type UDPConfig struct {
	ListenHost                string  `json:"listen_host"`
	ListenPort                uint16  `json:"listen_port"` // 0 picks a free port
	MaxUpstreamBytesPerSecond uint64  `json:"max_upstream_bytes_per_second"`
	MaxDatagramSize           int     `json:"max_datagram_size"`
	SimulatedLoss             float64 `json:"simulated_loss,omitempty"`
}

type PeersConfig struct {
	TopologyMaintenance bool     `json:"topology_maintenance"`
	TargetPeers         int      `json:"target_peers"`
	AssimilateThreshold int      `json:"assimilate_threshold"`
	MaintenanceInterval Duration `json:"maintenance_interval"`
	MaxProbeFailures    int      `json:"max_probe_failures"`
}

// Config describes a node. File names are relative to the node's directory.
type Config struct {
	PrivateNodeID    string             `json:"private_node_id"`
	PublicNodeID     string             `json:"public_node_id"`
	PublicNodeIDsDir string             `json:"public_node_ids_dir"`
	LocalHostName    string             `json:"local_host_name,omitempty"` // if set, advertised in the public descriptor
	Capabilities     types.Capabilities `json:"capabilities"`
	UDP              UDPConfig          `json:"udp"`
	Peers            PeersConfig        `json:"peers"`
}

const ConfigFile = "config.json"

func DefaultConfig() Config {
	return Config{
		PrivateNodeID:    "private-node-id.json",
		PublicNodeID:     "public-node-id.json",
		PublicNodeIDsDir: "public-node-ids",
		Capabilities: types.Capabilities{
			AllowsAssimilation:       true,
			AllowsUnsolicitedInbound: true,
			RunsMaintenance:          true,
		},
		UDP: UDPConfig{
			ListenPort:                7643,
			MaxUpstreamBytesPerSecond: 1024,
			MaxDatagramSize:           1450,
		},
		Peers: PeersConfig{
			TopologyMaintenance: true,
			TargetPeers:         20,
			AssimilateThreshold: 5,
			MaintenanceInterval: Duration(30 * time.Second),
			MaxProbeFailures:    3,
		},
	}
}

// LoadConfig reads the config file from a node directory on top of the defaults. A missing file yields the defaults.
func LoadConfig(dir string) (Config, error) {
	cfg := DefaultConfig()
	store, err := persist.New(dir)
	if err != nil {
		return cfg, err
	}
	if err := store.LoadReadOnly(ConfigFile, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to the config file in dir.
func SaveConfig(dir string, cfg Config) error {
	store, err := persist.New(dir)
	if err != nil {
		return err
	}
	return store.Save(ConfigFile, cfg, persist.PublicMode)
}
