package preset

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/nerotrade/aaswap/core/chainio/aa"
	"github.com/nerotrade/aaswap/core/chainio/signer"
	"github.com/nerotrade/aaswap/core/config"
	"github.com/nerotrade/aaswap/pkg/eip1559"
	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
	"github.com/nerotrade/aaswap/pkg/erc4337/userop"
	"github.com/nerotrade/aaswap/pkg/logger"
)

// Builder assembles unsigned draft operations for a smart account. It never
// estimates gas: limits come from config, so a draft can be built without a
// bundler round trip.
type Builder struct {
	deriver   *aa.Deriver
	gas       config.GasConfig
	feeReader eip1559.ChainReader
	logger    sdklogging.Logger
}

// NewBuilder returns a Builder. feeReader is only required when gas.FeeMode
// is FeeModeSuggested.
func NewBuilder(deriver *aa.Deriver, gas config.GasConfig, feeReader eip1559.ChainReader, log sdklogging.Logger) (*Builder, error) {
	if deriver == nil {
		return nil, errors.New("builder requires an address deriver")
	}
	if gas.FeeMode == config.FeeModeSuggested && feeReader == nil {
		return nil, errors.New("fee_mode suggested requires a chain client")
	}
	for name, v := range map[string]*big.Int{
		"callGasLimit":         gas.CallGasLimit,
		"verificationGasLimit": gas.VerificationGasLimit,
		"preVerificationGas":   gas.PreVerificationGas,
	} {
		if v == nil || v.Sign() <= 0 {
			return nil, fmt.Errorf("gas config %s must be positive", name)
		}
	}

	return &Builder{
		deriver:   deriver,
		gas:       gas,
		feeReader: feeReader,
		logger:    logger.EnsureLogger(log),
	}, nil
}

// BuildDraft returns an unsigned operation from owner's smart account that
// calls target with value and callData. The nonce is read from the EntryPoint
// on every call and initCode is set while the account has no code yet.
func (b *Builder) BuildDraft(ctx context.Context, owner signer.Identity, target common.Address, value *big.Int, callData []byte) (*userop.UserOperation, error) {
	account, err := b.deriver.Resolve(ctx, owner)
	if err != nil {
		return nil, err
	}
	return b.BuildDraftFor(ctx, account, target, value, callData)
}

// BuildDraftFor is BuildDraft for an account the caller already resolved. It
// reads only the deployment state and the nonce.
func (b *Builder) BuildDraftFor(ctx context.Context, account aa.Account, target common.Address, value *big.Int, callData []byte) (*userop.UserOperation, error) {
	ownerAddress, sender := account.Owner, account.Sender

	deployed, err := b.deriver.IsDeployed(ctx, sender)
	if err != nil {
		return nil, err
	}

	var initCode []byte
	if !deployed {
		initCode, err = b.deriver.InitCode(ownerAddress)
		if err != nil {
			return nil, aaerr.Wrap(aaerr.InvalidOperation, aaerr.StageBuild, err, "cannot build initCode")
		}
	}

	nonce, err := b.deriver.Nonce(ctx, sender)
	if err != nil {
		return nil, err
	}

	executeCallData, err := aa.PackExecute(target, value, callData)
	if err != nil {
		return nil, aaerr.Wrap(aaerr.InvalidOperation, aaerr.StageBuild, err, "cannot pack execute call")
	}

	maxFeePerGas, maxPriorityFeePerGas, err := b.fees(ctx)
	if err != nil {
		return nil, err
	}

	op := &userop.UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             executeCallData,
		CallGasLimit:         new(big.Int).Set(b.gas.CallGasLimit),
		VerificationGasLimit: new(big.Int).Set(b.gas.VerificationGasLimit),
		PreVerificationGas:   new(big.Int).Set(b.gas.PreVerificationGas),
		MaxFeePerGas:         maxFeePerGas,
		MaxPriorityFeePerGas: maxPriorityFeePerGas,
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}
	if err := op.Validate(); err != nil {
		return nil, aaerr.WithStage(err, aaerr.StageBuild, aaerr.InvalidOperation)
	}

	b.logger.Debug("built draft operation",
		"owner", ownerAddress.Hex(),
		"sender", sender.Hex(),
		"nonce", nonce.String(),
		"deployed", deployed,
		"target", target.Hex())
	return op, nil
}

func (b *Builder) fees(ctx context.Context) (*big.Int, *big.Int, error) {
	if b.gas.FeeMode != config.FeeModeSuggested {
		return copyOrZero(b.gas.MaxFeePerGas), copyOrZero(b.gas.MaxPriorityFeePerGas), nil
	}

	maxFeePerGas, maxPriorityFeePerGas, err := eip1559.SuggestFee(ctx, b.feeReader)
	if err != nil {
		return nil, nil, aaerr.Wrap(aaerr.NetworkUnavailable, aaerr.StageBuild, err, "cannot suggest fees")
	}
	return maxFeePerGas, maxPriorityFeePerGas, nil
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
