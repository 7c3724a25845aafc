package config

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/samber/lo"
)

type ChainEnv string

const (
	NeroTestnetEnv = ChainEnv("nero-testnet")
)

// ChainPreset holds the endpoints and fee defaults known for a network.
// Contract addresses that are deployment specific (factory, target
// contracts) are never preset.
type ChainPreset struct {
	ChainID      *big.Int
	RpcURL       string
	BundlerURL   string
	PaymasterURL string
	ExplorerURL  string

	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

var presets = map[ChainEnv]ChainPreset{
	NeroTestnetEnv: {
		ChainID:      big.NewInt(689),
		RpcURL:       "https://rpc-testnet.nerochain.io",
		BundlerURL:   "https://bundler.nerochain.io",
		PaymasterURL: "https://paymaster.nerochain.io",
		ExplorerURL:  "https://testnet.neroscan.io",
		// Fee caps the NERO paymaster accepts on probe operations.
		MaxFeePerGas:         big.NewInt(0x2162553062),
		MaxPriorityFeePerGas: big.NewInt(0x40dbcf36),
	},
}

// Preset returns the preset for env.
func Preset(env ChainEnv) (ChainPreset, error) {
	p, ok := presets[env]
	if !ok {
		return ChainPreset{}, fmt.Errorf("unknown chain %q, known chains: %v", env, KnownChains())
	}
	return p, nil
}

// KnownChains lists the preset names in a stable order.
func KnownChains() []string {
	names := lo.Map(lo.Keys(presets), func(env ChainEnv, _ int) string { return string(env) })
	sort.Strings(names)
	return names
}

// ExplorerTxURL links a transaction on the chain's block explorer.
func (p ChainPreset) ExplorerTxURL(txHash string) string {
	if p.ExplorerURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", p.ExplorerURL, txHash)
}
