package aa

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	simpleFactoryABIJSON = `[
		{"type":"function","name":"createAccount","stateMutability":"nonpayable",
		 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
		 "outputs":[{"name":"ret","type":"address"}]},
		{"type":"function","name":"getAddress","stateMutability":"view",
		 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
		 "outputs":[{"name":"","type":"address"}]}
	]`

	entryPointABIJSON = `[
		{"type":"function","name":"getNonce","stateMutability":"view",
		 "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
		 "outputs":[{"name":"nonce","type":"uint256"}]},
		{"type":"event","name":"UserOperationEvent","anonymous":false,
		 "inputs":[{"name":"userOpHash","type":"bytes32","indexed":true},
		           {"name":"sender","type":"address","indexed":true},
		           {"name":"paymaster","type":"address","indexed":true},
		           {"name":"nonce","type":"uint256","indexed":false},
		           {"name":"success","type":"bool","indexed":false},
		           {"name":"actualGasCost","type":"uint256","indexed":false},
		           {"name":"actualGasUsed","type":"uint256","indexed":false}]}
	]`

	simpleAccountABIJSON = `[
		{"type":"function","name":"execute","stateMutability":"nonpayable",
		 "inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],
		 "outputs":[]},
		{"type":"function","name":"executeBatch","stateMutability":"nonpayable",
		 "inputs":[{"name":"dest","type":"address[]"},{"name":"func","type":"bytes[]"}],
		 "outputs":[]}
	]`
)

var (
	// Canonical EntryPoint v0.6 deployment, shared by every EVM network.
	DefaultEntrypointAddress = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

	DefaultSalt = big.NewInt(0)

	SimpleFactoryABI = mustParseABI("factory", simpleFactoryABIJSON)
	EntryPointABI    = mustParseABI("entrypoint", entryPointABIJSON)
	SimpleAccountABI = mustParseABI("simple account", simpleAccountABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Errorf("Invalid %s ABI: %w", name, err))
	}
	return parsed
}
