package preset

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerotrade/aaswap/core/chainio/aa"
	"github.com/nerotrade/aaswap/core/chainio/signer"
	"github.com/nerotrade/aaswap/core/config"
	"github.com/nerotrade/aaswap/core/testutil"
	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
)

var target = common.HexToAddress("0x1111111111111111111111111111111111111111")

type fakeFees struct {
	calls int
}

func (f *fakeFees) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	f.calls++
	return big.NewInt(3_000_000_000), nil
}

func (f *fakeFees) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil
}

func newTestBuilder(t *testing.T) (*Builder, *testutil.FakeChain, *config.Config) {
	t.Helper()
	cfg := testutil.GetTestConfig()
	chain := testutil.NewFakeChain(cfg.Contracts.AccountFactory, cfg.Contracts.EntryPoint)
	deriver := aa.NewDeriver(chain, cfg.Contracts.AccountFactory, cfg.Contracts.EntryPoint, cfg.AccountSalt)

	builder, err := NewBuilder(deriver, cfg.Gas, nil, cfg.Logger)
	require.NoError(t, err)
	return builder, chain, cfg
}

func ownerAddress(t *testing.T) common.Address {
	addr, err := testutil.GetTestSigner().Address(context.Background())
	require.NoError(t, err)
	return addr
}

func TestBuildDraftForUndeployedAccount(t *testing.T) {
	builder, _, cfg := newTestBuilder(t)
	owner := ownerAddress(t)
	callData := []byte{0xde, 0xad, 0xbe, 0xef}

	op, err := builder.BuildDraft(context.Background(), testutil.GetTestSigner(), target, big.NewInt(0), callData)
	require.NoError(t, err)

	assert.Equal(t, testutil.FakeAccountAddress(cfg.Contracts.AccountFactory, owner, big.NewInt(0)), op.Sender)
	assert.Equal(t, int64(0), op.Nonce.Int64())

	initCode, err := aa.GetInitCodeForFactory(owner, cfg.Contracts.AccountFactory, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, initCode, op.InitCode)

	dest, value, inner, err := aa.UnpackExecute(op.CallData)
	require.NoError(t, err)
	assert.Equal(t, target, dest)
	assert.Equal(t, int64(0), value.Int64())
	assert.Equal(t, callData, inner)

	assert.Equal(t, int64(300000), op.CallGasLimit.Int64())
	assert.Equal(t, int64(2000000), op.VerificationGasLimit.Int64())
	assert.Equal(t, int64(100000), op.PreVerificationGas.Int64())
	assert.Equal(t, int64(0x2162553062), op.MaxFeePerGas.Int64())
	assert.Equal(t, int64(0x40dbcf36), op.MaxPriorityFeePerGas.Int64())
	assert.Empty(t, op.PaymasterAndData)
	assert.Empty(t, op.Signature)
}

func TestBuildDraftForDeployedAccount(t *testing.T) {
	builder, chain, cfg := newTestBuilder(t)
	chain.Deploy(testutil.FakeAccountAddress(cfg.Contracts.AccountFactory, ownerAddress(t), big.NewInt(0)))

	op, err := builder.BuildDraft(context.Background(), testutil.GetTestSigner(), target, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, op.InitCode)
}

func TestBuildDraftReadsNonceEveryTime(t *testing.T) {
	builder, chain, _ := newTestBuilder(t)
	owner := testutil.GetTestSigner()

	first, err := builder.BuildDraft(context.Background(), owner, target, nil, nil)
	require.NoError(t, err)

	chain.Confirm(first.Sender)

	second, err := builder.BuildDraft(context.Background(), owner, target, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(0), first.Nonce.Int64())
	assert.Equal(t, int64(1), second.Nonce.Int64())
	assert.Equal(t, 2, chain.NonceReads)
}

func TestBuildDraftDoesNotShareGasValues(t *testing.T) {
	builder, _, cfg := newTestBuilder(t)

	op, err := builder.BuildDraft(context.Background(), testutil.GetTestSigner(), target, nil, nil)
	require.NoError(t, err)
	op.CallGasLimit.SetInt64(1)
	op.MaxFeePerGas.SetInt64(1)

	assert.Equal(t, int64(300000), cfg.Gas.CallGasLimit.Int64())
	assert.Equal(t, int64(0x2162553062), cfg.Gas.MaxFeePerGas.Int64())
}

func TestBuildDraftIdentityUnavailable(t *testing.T) {
	builder, chain, _ := newTestBuilder(t)

	_, err := builder.BuildDraft(context.Background(), &testutil.StaticSigner{AddressErr: signer.ErrUnavailable}, target, nil, nil)
	assert.True(t, aaerr.HasCode(err, aaerr.IdentityUnavailable))
	assert.Equal(t, aaerr.StageDerive, aaerr.StageOf(err))
	assert.ErrorIs(t, err, signer.ErrUnavailable)

	_, err = builder.BuildDraft(context.Background(), nil, target, nil, nil)
	assert.True(t, aaerr.HasCode(err, aaerr.IdentityUnavailable))
	assert.Equal(t, 0, chain.NonceReads)
}

func TestBuildDraftNetworkUnavailable(t *testing.T) {
	builder, chain, _ := newTestBuilder(t)
	chain.Err = errors.New("connection refused")

	_, err := builder.BuildDraft(context.Background(), testutil.GetTestSigner(), target, nil, nil)
	assert.True(t, aaerr.HasCode(err, aaerr.NetworkUnavailable))
}

func TestBuildDraftSuggestedFees(t *testing.T) {
	cfg := testutil.GetTestConfig()
	cfg.Gas.FeeMode = config.FeeModeSuggested
	chain := testutil.NewFakeChain(cfg.Contracts.AccountFactory, cfg.Contracts.EntryPoint)
	deriver := aa.NewDeriver(chain, cfg.Contracts.AccountFactory, cfg.Contracts.EntryPoint, cfg.AccountSalt)

	_, err := NewBuilder(deriver, cfg.Gas, nil, nil)
	require.Error(t, err)

	fees := &fakeFees{}
	builder, err := NewBuilder(deriver, cfg.Gas, fees, nil)
	require.NoError(t, err)

	op, err := builder.BuildDraft(context.Background(), testutil.GetTestSigner(), target, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fees.calls)
	assert.Equal(t, int64(3_390_000_000), op.MaxPriorityFeePerGas.Int64())
	assert.Equal(t, int64(23_390_000_000), op.MaxFeePerGas.Int64())
}

func TestNewBuilderRejectsBadGas(t *testing.T) {
	cfg := testutil.GetTestConfig()
	deriver := aa.NewDeriver(testutil.NewFakeChain(cfg.Contracts.AccountFactory, cfg.Contracts.EntryPoint),
		cfg.Contracts.AccountFactory, cfg.Contracts.EntryPoint, nil)

	gas := cfg.Gas
	gas.CallGasLimit = big.NewInt(0)
	_, err := NewBuilder(deriver, gas, nil, nil)
	assert.Error(t, err)

	_, err = NewBuilder(nil, cfg.Gas, nil, nil)
	assert.Error(t, err)
}
