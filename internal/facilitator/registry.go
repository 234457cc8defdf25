package facilitator

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

//go:embed networks.yaml
var defaultNetworksYAML []byte

// NetworkInfo describes one supported ledger network and its accepted token.
type NetworkInfo struct {
	RPCURL      string `yaml:"rpc_url"`
	Asset       string `yaml:"asset"`
	AssetSymbol string `yaml:"asset_symbol"`
	Decimals    uint8  `yaml:"decimals"`
}

// AssetMint returns the parsed mint address of the network's accepted token.
func (n *NetworkInfo) AssetMint() (solana.PublicKey, error) {
	return solana.PublicKeyFromBase58(n.Asset)
}

// Registry holds the supported networks, loaded once at startup.
type Registry struct {
	networks map[string]NetworkInfo
}

type registryFile struct {
	Networks map[string]NetworkInfo `yaml:"networks"`
}

// NewRegistry parses a networks definition. Pass nil to use the embedded default.
func NewRegistry(data []byte) (*Registry, error) {
	if data == nil {
		data = defaultNetworksYAML
	}

	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse networks definition: %v", err)
	}

	if len(rf.Networks) == 0 {
		return nil, fmt.Errorf("networks definition is empty")
	}

	for name, info := range rf.Networks {
		if _, err := solana.PublicKeyFromBase58(info.Asset); err != nil {
			return nil, fmt.Errorf("network %s has invalid asset address %s: %v", name, info.Asset, err)
		}
		if info.Decimals == 0 {
			return nil, fmt.Errorf("network %s has zero asset decimals", name)
		}
	}

	return &Registry{networks: rf.Networks}, nil
}

// Network looks up a network by name.
func (r *Registry) Network(name string) (NetworkInfo, error) {
	info, ok := r.networks[name]
	if !ok {
		return NetworkInfo{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
	return info, nil
}

// Networks returns the sorted list of supported network names.
func (r *Registry) Networks() []string {
	names := make([]string, 0, len(r.networks))
	for name := range r.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
