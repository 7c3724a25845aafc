package eip1559

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// Minimum tip kept for bundler profitability.
	MinPriorityFee = big.NewInt(2_000_000_000)
	// Floor for maxFeePerGas on chains with a base fee.
	MinMaxFee = big.NewInt(20_000_000_000)
)

// ChainReader is the part of ethclient.Client SuggestFee needs.
type ChainReader interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// SuggestFee returns maxFeePerGas and maxPriorityFeePerGas for the next block.
func SuggestFee(ctx context.Context, client ChainReader) (*big.Int, *big.Int, error) {
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, err
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}

	maxFeePerGas, maxPriorityFeePerGas := FeesFor(header.BaseFee, tipCap)
	return maxFeePerGas, maxPriorityFeePerGas, nil
}

// FeesFor computes the caps from a base fee and a suggested tip: the tip gets
// a 13% buffer, and maxFeePerGas = 2*baseFee + tip so the operation survives
// the base fee doubling. A nil baseFee means a legacy chain.
func FeesFor(baseFee, tipCap *big.Int) (*big.Int, *big.Int) {
	buffer := new(big.Int).Div(tipCap, big.NewInt(100))
	buffer.Mul(buffer, big.NewInt(13))
	maxPriorityFeePerGas := new(big.Int).Add(tipCap, buffer)

	if maxPriorityFeePerGas.Cmp(MinPriorityFee) < 0 {
		maxPriorityFeePerGas = new(big.Int).Set(MinPriorityFee)
	}

	if baseFee == nil {
		return new(big.Int).Set(maxPriorityFeePerGas), maxPriorityFeePerGas
	}

	maxFeePerGas := new(big.Int).Add(
		new(big.Int).Mul(baseFee, big.NewInt(2)),
		maxPriorityFeePerGas,
	)
	if maxFeePerGas.Cmp(MinMaxFee) < 0 {
		maxFeePerGas = new(big.Int).Set(MinMaxFee)
	}
	return maxFeePerGas, maxPriorityFeePerGas
}
