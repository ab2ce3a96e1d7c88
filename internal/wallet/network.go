package wallet

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "AgneticGOD/internal/errors"
)

// Network identifies an EVM chain the wallet may operate on.
type Network struct {
	ID          string
	ChainID     uint64
	RPCURL      string
	Description string
}

// NetworkDefinitions models the YAML file that extends the built-in table.
type NetworkDefinitions struct {
	Networks map[string]NetworkDefinition `yaml:"networks"`
}

// NetworkDefinition describes a single network entry in the YAML file.
type NetworkDefinition struct {
	ChainID     uint64 `yaml:"chain_id"`
	RPCURL      string `yaml:"rpc_url"`
	Description string `yaml:"description"`
}

var builtinNetworks = map[string]Network{
	"base-sepolia":     {ID: "base-sepolia", ChainID: 84532, Description: "Base Sepolia testnet"},
	"base-mainnet":     {ID: "base-mainnet", ChainID: 8453, Description: "Base mainnet"},
	"ethereum-sepolia": {ID: "ethereum-sepolia", ChainID: 11155111, Description: "Ethereum Sepolia testnet"},
	"ethereum-mainnet": {ID: "ethereum-mainnet", ChainID: 1, Description: "Ethereum mainnet"},
}

// LoadNetworks returns the built-in networks merged with the definitions in
// path. Entries from the file override built-ins with the same ID.
func LoadNetworks(path string) (map[string]Network, error) {
	networks := make(map[string]Network, len(builtinNetworks))
	for id, n := range builtinNetworks {
		networks[id] = n
	}
	if strings.TrimSpace(path) == "" {
		return networks, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network definitions: %w", err)
	}
	var defs NetworkDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("parse network definitions: %w", err)
	}
	for id, def := range defs.Networks {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if def.ChainID == 0 {
			return nil, fmt.Errorf("network %s: chain_id is required", id)
		}
		networks[id] = Network{ID: id, ChainID: def.ChainID, RPCURL: def.RPCURL, Description: def.Description}
	}
	return networks, nil
}

// ResolveNetwork looks up id among the built-in and file-defined networks.
func ResolveNetwork(id, path string) (Network, error) {
	networks, err := LoadNetworks(path)
	if err != nil {
		return Network{}, xerrors.Wrap(xerrors.CodeConfiguration, err, "load networks")
	}
	n, ok := networks[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		known := make([]string, 0, len(networks))
		for k := range networks {
			known = append(known, k)
		}
		sort.Strings(known)
		return Network{}, xerrors.New(xerrors.CodeConfiguration,
			fmt.Sprintf("unknown network %q (known: %s)", id, strings.Join(known, ", ")))
	}
	return n, nil
}
