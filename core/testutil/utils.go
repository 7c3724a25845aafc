package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/nerotrade/aaswap/core/chainio/aa"
	"github.com/nerotrade/aaswap/core/chainio/signer"
	"github.com/nerotrade/aaswap/core/config"
)

const (
	// Well known throwaway key, never funded on any network.
	OwnerPrivateKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

var (
	FactoryAddress   = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	PaymasterAddress = common.HexToAddress("0x5a6680dFd4a77FEea0A7be291147768EaA2414ad")
	DexAggregator    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	SocialContract   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	TokenIn          = common.HexToAddress("0xC86Fed58edF0981e927160C50ecB8a8B05B32fed")
	TokenOut         = common.HexToAddress("0x5d0E342cCD1aD86a16BfBa26f404486940DBE345")
)

// GetLogger returns a development logger for tests.
func GetLogger() sdklogging.Logger {
	logger, err := sdklogging.NewZapLogger(sdklogging.Development)
	if err != nil {
		panic(err)
	}
	return logger
}

// GetTestSigner returns a KeySigner over OwnerPrivateKeyHex.
func GetTestSigner() *signer.KeySigner {
	s, err := signer.FromPrivateKeyHex(OwnerPrivateKeyHex)
	if err != nil {
		panic(err)
	}
	return s
}

// GetTestConfig returns a NERO testnet configuration pointing at the fake
// contract addresses above. Endpoints are left to the caller.
func GetTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Contracts.AccountFactory = FactoryAddress
	cfg.Contracts.Paymaster = PaymasterAddress
	cfg.Contracts.DexAggregator = DexAggregator
	cfg.Contracts.SocialContract = SocialContract
	cfg.Logger = GetLogger()
	return cfg
}

// FakeAccountAddress mirrors a CREATE2 factory: the address depends only on
// factory, owner and salt.
func FakeAccountAddress(factory, owner common.Address, salt *big.Int) common.Address {
	var saltBytes [32]byte
	salt.FillBytes(saltBytes[:])
	return crypto.CreateAddress2(factory, saltBytes, crypto.Keccak256(owner.Bytes()))
}

// FakeChain is an in-memory bind.ContractCaller answering the factory and
// EntryPoint reads the pipeline performs.
type FakeChain struct {
	mu sync.Mutex

	Factory    common.Address
	EntryPoint common.Address

	code   map[common.Address][]byte
	nonces map[common.Address]*big.Int

	// Err, when set, fails every call.
	Err error

	NonceReads   int
	CodeReads    int
	AddressReads int
}

func NewFakeChain(factory, entryPoint common.Address) *FakeChain {
	return &FakeChain{
		Factory:    factory,
		EntryPoint: entryPoint,
		code:       map[common.Address][]byte{},
		nonces:     map[common.Address]*big.Int{},
	}
}

// Deploy marks account as having code.
func (f *FakeChain) Deploy(account common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code[account] = []byte{0x60, 0x80}
}

// Confirm simulates an operation from account being included: the EntryPoint
// nonce advances.
func (f *FakeChain) Confirm(account common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nonces[account]
	if !ok {
		n = new(big.Int)
	}
	f.nonces[account] = new(big.Int).Add(n, big.NewInt(1))
}

func (f *FakeChain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.CodeReads++
	if contract == f.Factory || contract == f.EntryPoint {
		return []byte{0x60, 0x80}, nil
	}
	return f.code[contract], nil
}

func (f *FakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if call.To == nil || len(call.Data) < 4 {
		return nil, errors.New("fake chain: malformed call")
	}

	switch *call.To {
	case f.Factory:
		method, err := aa.SimpleFactoryABI.MethodById(call.Data[:4])
		if err != nil || method.Name != "getAddress" {
			return nil, fmt.Errorf("fake chain: unsupported factory call")
		}
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		f.AddressReads++
		account := FakeAccountAddress(f.Factory, args[0].(common.Address), args[1].(*big.Int))
		return method.Outputs.Pack(account)
	case f.EntryPoint:
		method, err := aa.EntryPointABI.MethodById(call.Data[:4])
		if err != nil || method.Name != "getNonce" {
			return nil, fmt.Errorf("fake chain: unsupported entrypoint call")
		}
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		f.NonceReads++
		nonce, ok := f.nonces[args[0].(common.Address)]
		if !ok {
			nonce = new(big.Int)
		}
		return method.Outputs.Pack(nonce)
	}
	return nil, fmt.Errorf("fake chain: no contract at %s", call.To.Hex())
}

// StaticSigner is an Identity with a fixed address and canned failures.
type StaticSigner struct {
	Addr       common.Address
	AddressErr error
	SignErr    error
	Inner      signer.Identity
}

func (s *StaticSigner) Address(ctx context.Context) (common.Address, error) {
	if s.AddressErr != nil {
		return common.Address{}, s.AddressErr
	}
	if s.Inner != nil {
		return s.Inner.Address(ctx)
	}
	return s.Addr, nil
}

func (s *StaticSigner) SignHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	if s.SignErr != nil {
		return nil, s.SignErr
	}
	if s.Inner != nil {
		return s.Inner.SignHash(ctx, hash)
	}
	return make([]byte, 65), nil
}
