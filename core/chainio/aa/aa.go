// Package aa derives SimpleAccount smart-account addresses and reads the
// account state the user operation builder needs.
package aa

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/nerotrade/aaswap/core/chainio/signer"
	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
)

// Deriver computes the counterfactual account address of an owner through the
// account factory. It only ever performs read-only calls.
type Deriver struct {
	caller     bind.ContractCaller
	factory    common.Address
	entryPoint common.Address
	salt       *big.Int

	factoryContract    *bind.BoundContract
	entryPointContract *bind.BoundContract
}

func NewDeriver(caller bind.ContractCaller, factory, entryPoint common.Address, salt *big.Int) *Deriver {
	if salt == nil {
		salt = DefaultSalt
	}
	return &Deriver{
		caller:             caller,
		factory:            factory,
		entryPoint:         entryPoint,
		salt:               new(big.Int).Set(salt),
		factoryContract:    bind.NewBoundContract(factory, SimpleFactoryABI, caller, nil, nil),
		entryPointContract: bind.NewBoundContract(entryPoint, EntryPointABI, caller, nil, nil),
	}
}

func (d *Deriver) Factory() common.Address    { return d.factory }
func (d *Deriver) EntryPoint() common.Address { return d.entryPoint }

// Account is an owner key address and the smart account it controls.
type Account struct {
	Owner  common.Address
	Sender common.Address
}

// Derive returns the smart-account address owned by owner. Identical owner and
// factory always yield the same address, deployed or not.
func (d *Deriver) Derive(ctx context.Context, owner signer.Identity) (common.Address, error) {
	account, err := d.Resolve(ctx, owner)
	if err != nil {
		return common.Address{}, err
	}
	return account.Sender, nil
}

// Resolve returns both the owner's address and its smart account, with a
// single factory call.
func (d *Deriver) Resolve(ctx context.Context, owner signer.Identity) (Account, error) {
	if owner == nil {
		return Account{}, aaerr.Wrap(aaerr.IdentityUnavailable, aaerr.StageDerive, signer.ErrUnavailable, "no owner identity")
	}
	ownerAddress, err := owner.Address(ctx)
	if err != nil {
		return Account{}, aaerr.Wrap(aaerr.IdentityUnavailable, aaerr.StageDerive, err, "owner cannot provide an address")
	}

	sender, err := d.SenderAddress(ctx, ownerAddress)
	if err != nil {
		return Account{}, err
	}
	return Account{Owner: ownerAddress, Sender: sender}, nil
}

// SenderAddress asks the factory for the CREATE2 address of ownerAddress.
func (d *Deriver) SenderAddress(ctx context.Context, ownerAddress common.Address) (common.Address, error) {
	var out []interface{}
	err := d.factoryContract.Call(&bind.CallOpts{Context: ctx}, &out, "getAddress", ownerAddress, d.salt)
	if err != nil {
		return common.Address{}, aaerr.Wrap(aaerr.NetworkUnavailable, aaerr.StageDerive, err, "factory getAddress failed")
	}
	if len(out) != 1 {
		return common.Address{}, aaerr.Wrap(aaerr.NetworkUnavailable, aaerr.StageDerive,
			fmt.Errorf("unexpected getAddress output length %d", len(out)), "factory getAddress failed")
	}

	sender, ok := out[0].(common.Address)
	if !ok || sender == (common.Address{}) {
		return common.Address{}, aaerr.Wrap(aaerr.NetworkUnavailable, aaerr.StageDerive,
			errors.New("factory returned no address"), "factory getAddress failed")
	}
	return sender, nil
}

// IsDeployed reports whether the account already has code on chain.
func (d *Deriver) IsDeployed(ctx context.Context, account common.Address) (bool, error) {
	code, err := d.caller.CodeAt(ctx, account, nil)
	if err != nil {
		return false, aaerr.Wrap(aaerr.NetworkUnavailable, aaerr.StageBuild, err, "cannot check account deployment")
	}
	return len(code) > 0, nil
}

// Nonce reads the account's current EntryPoint nonce for the default key.
// It is never cached: every build reads the chain.
func (d *Deriver) Nonce(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	err := d.entryPointContract.Call(&bind.CallOpts{Context: ctx}, &out, "getNonce", account, big.NewInt(0))
	if err != nil {
		return nil, aaerr.Wrap(aaerr.NetworkUnavailable, aaerr.StageBuild, err, "cannot determine nonce for smart wallet")
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, aaerr.Wrap(aaerr.NetworkUnavailable, aaerr.StageBuild,
			fmt.Errorf("unexpected getNonce output %T", out[0]), "cannot determine nonce for smart wallet")
	}
	return nonce, nil
}

// InitCode returns factory address || createAccount(owner, salt), the payload
// the EntryPoint uses to deploy the account on its first operation.
func (d *Deriver) InitCode(ownerAddress common.Address) ([]byte, error) {
	return GetInitCodeForFactory(ownerAddress, d.factory, d.salt)
}

// GetInitCodeForFactory returns initcode for a given owner with a given salt
func GetInitCodeForFactory(ownerAddress common.Address, factoryAddress common.Address, salt *big.Int) ([]byte, error) {
	calldata, err := SimpleFactoryABI.Pack("createAccount", ownerAddress, salt)
	if err != nil {
		return nil, err
	}

	data := append([]byte{}, factoryAddress.Bytes()...)
	return append(data, calldata...), nil
}

// Generate calldata for UserOps
func PackExecute(targetAddress common.Address, ethValue *big.Int, calldata []byte) ([]byte, error) {
	if ethValue == nil {
		ethValue = big.NewInt(0)
	}
	return SimpleAccountABI.Pack("execute", targetAddress, ethValue, calldata)
}

// UnpackExecute is the inverse of PackExecute.
func UnpackExecute(data []byte) (common.Address, *big.Int, []byte, error) {
	method := SimpleAccountABI.Methods["execute"]
	if len(data) < 4 || string(data[:4]) != string(method.ID) {
		return common.Address{}, nil, nil, fmt.Errorf("calldata is not an execute() call")
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	return args[0].(common.Address), args[1].(*big.Int), args[2].([]byte), nil
}
