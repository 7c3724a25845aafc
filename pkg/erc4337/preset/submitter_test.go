package preset

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerotrade/aaswap/core/chainio/aa"
	"github.com/nerotrade/aaswap/core/chainio/signer"
	"github.com/nerotrade/aaswap/core/testutil"
	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
	"github.com/nerotrade/aaswap/pkg/erc4337/bundler"
	"github.com/nerotrade/aaswap/pkg/erc4337/paymaster"
	"github.com/nerotrade/aaswap/pkg/erc4337/userop"
)

var chainID = big.NewInt(689)

// fakeBundler accepts operations and hands out receipts from a script: each
// poll consumes one entry, nil meaning "not included yet".
type fakeBundler struct {
	mu sync.Mutex

	sendErr  error
	pollErrs []error
	receipts []*bundler.UserOperationReceipt

	sent  []*userop.UserOperation
	polls int
}

func (f *fakeBundler) SendUserOperation(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, op)
	return op.GetUserOpHash(entryPoint, chainID), nil
}

func (f *fakeBundler) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*bundler.UserOperationReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if i < len(f.pollErrs) && f.pollErrs[i] != nil {
		return nil, f.pollErrs[i]
	}
	if i < len(f.receipts) {
		return f.receipts[i], nil
	}
	return nil, nil
}

func (f *fakeBundler) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type fakeSponsor struct {
	err       error
	strategy  paymaster.Strategy
	calls     int
	signature []byte
}

func (f *fakeSponsor) SponsorUserOp(ctx context.Context, op *userop.UserOperation, strategy paymaster.Strategy) (*userop.UserOperation, error) {
	f.calls++
	f.strategy = strategy
	f.signature = append([]byte(nil), op.Signature...)
	if f.err != nil {
		return nil, f.err
	}
	out := op.Copy()
	out.PaymasterAndData = append(append([]byte{}, op.PaymasterAndData...), make([]byte, 65)...)
	out.PreVerificationGas = big.NewInt(120000)
	return out, nil
}

type recorder struct {
	mu      sync.Mutex
	ops     map[string]int
	settled int
}

func (r *recorder) IncOperation(stage, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = map[string]int{}
	}
	r.ops[stage+"/"+status]++
}

func (r *recorder) ObserveSettlement(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled++
}

func included(txHash common.Hash, success bool) *bundler.UserOperationReceipt {
	return &bundler.UserOperationReceipt{
		Success: success,
		Receipt: bundler.TransactionReceipt{TransactionHash: txHash},
	}
}

func testDraft() *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Nonce:                big.NewInt(0),
		CallData:             []byte{0x01},
		CallGasLimit:         big.NewInt(300000),
		VerificationGasLimit: big.NewInt(2000000),
		PreVerificationGas:   big.NewInt(100000),
		MaxFeePerGas:         big.NewInt(0x2162553062),
		MaxPriorityFeePerGas: big.NewInt(0x40dbcf36),
	}
}

func testSubmitterConfig() SubmitterConfig {
	return SubmitterConfig{
		EntryPoint:      aa.DefaultEntrypointAddress,
		ChainID:         chainID,
		Timeout:         2 * time.Second,
		PollInterval:    time.Millisecond,
		MaxPollInterval: 5 * time.Millisecond,
	}
}

func TestSubmitConfirmed(t *testing.T) {
	txHash := common.HexToHash("0xfeed")
	transport := &fakeBundler{receipts: []*bundler.UserOperationReceipt{nil, nil, included(txHash, true)}}
	rec := &recorder{}
	submitter := NewSubmitter(transport, testSubmitterConfig(), nil, WithSubmitRecorder(rec))

	draft := testDraft()
	result, err := submitter.Submit(context.Background(), draft, testutil.GetTestSigner())
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, result.State)
	assert.Equal(t, txHash, result.TxHash)
	assert.NotNil(t, result.Receipt)
	assert.Equal(t, draft.GetUserOpHash(aa.DefaultEntrypointAddress, chainID), result.UserOpHash)
	assert.Equal(t, 3, transport.pollCount())
	assert.Empty(t, draft.Signature, "draft must not be signed in place")

	require.Len(t, transport.sent, 1)
	sig := transport.sent[0].Signature
	recovered, err := signer.RecoverAddress(result.UserOpHash.Bytes(), sig)
	require.NoError(t, err)
	assert.Equal(t, ownerAddress(t), recovered)

	assert.Equal(t, 1, rec.settled)
	assert.Equal(t, 1, rec.ops["confirm/ok"])
}

func TestSubmitBundlerRejected(t *testing.T) {
	rejection := aaerr.Wrap(aaerr.BundlerRejected, aaerr.StageSend, errors.New("AA25 invalid account nonce"), "eth_sendUserOperation")
	transport := &fakeBundler{sendErr: rejection}
	submitter := NewSubmitter(transport, testSubmitterConfig(), nil)

	result, err := submitter.Submit(context.Background(), testDraft(), testutil.GetTestSigner())
	require.Error(t, err)
	assert.True(t, aaerr.HasCode(err, aaerr.BundlerRejected))

	require.NotNil(t, result)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, common.Hash{}, result.TxHash)
	assert.Nil(t, result.Receipt)
	assert.NotEqual(t, common.Hash{}, result.UserOpHash)
	assert.Equal(t, 0, transport.pollCount())
}

func TestSubmitTransportFailureIsNetworkUnavailable(t *testing.T) {
	transport := &fakeBundler{sendErr: errors.New("dial tcp: connection refused")}
	submitter := NewSubmitter(transport, testSubmitterConfig(), nil)

	_, err := submitter.Submit(context.Background(), testDraft(), testutil.GetTestSigner())
	assert.True(t, aaerr.HasCode(err, aaerr.NetworkUnavailable))
	assert.Equal(t, aaerr.StageSend, aaerr.StageOf(err))
}

func TestSubmitTimeout(t *testing.T) {
	transport := &fakeBundler{}
	cfg := testSubmitterConfig()
	cfg.Timeout = 50 * time.Millisecond
	submitter := NewSubmitter(transport, cfg, nil)

	start := time.Now()
	result, err := submitter.Submit(context.Background(), testDraft(), testutil.GetTestSigner())
	require.Error(t, err)

	assert.True(t, aaerr.HasCode(err, aaerr.Timeout), err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, common.Hash{}, result.TxHash)
	assert.Greater(t, transport.pollCount(), 1)

	// The operation was sent once and never withdrawn or resent.
	assert.Len(t, transport.sent, 1)
}

func TestSubmitCancelled(t *testing.T) {
	transport := &fakeBundler{}
	submitter := NewSubmitter(transport, testSubmitterConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for transport.pollCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	result, err := submitter.Submit(ctx, testDraft(), testutil.GetTestSigner())
	require.Error(t, err)
	assert.True(t, aaerr.HasCode(err, aaerr.ReceiptNotFound), err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, result.State)
	assert.NotEqual(t, common.Hash{}, result.UserOpHash)
	assert.Len(t, transport.sent, 1)
}

func TestSubmitReverted(t *testing.T) {
	txHash := common.HexToHash("0xbad")
	transport := &fakeBundler{receipts: []*bundler.UserOperationReceipt{included(txHash, false)}}
	submitter := NewSubmitter(transport, testSubmitterConfig(), nil)

	result, err := submitter.Submit(context.Background(), testDraft(), testutil.GetTestSigner())
	assert.True(t, aaerr.HasCode(err, aaerr.OperationReverted))
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, txHash, result.TxHash)
}

func TestSubmitPollErrorsAreRetried(t *testing.T) {
	txHash := common.HexToHash("0xfeed")
	transport := &fakeBundler{
		pollErrs: []error{errors.New("502 bad gateway"), errors.New("timeout")},
		receipts: []*bundler.UserOperationReceipt{nil, nil, included(txHash, true)},
	}
	submitter := NewSubmitter(transport, testSubmitterConfig(), testutil.GetLogger())

	result, err := submitter.Submit(context.Background(), testDraft(), testutil.GetTestSigner())
	require.NoError(t, err)
	assert.Equal(t, txHash, result.TxHash)
	assert.Equal(t, 3, transport.pollCount())
}

func TestSubmitSigningRejected(t *testing.T) {
	transport := &fakeBundler{}
	submitter := NewSubmitter(transport, testSubmitterConfig(), nil)

	result, err := submitter.Submit(context.Background(), testDraft(), &testutil.StaticSigner{SignErr: signer.ErrRejected})
	assert.True(t, aaerr.HasCode(err, aaerr.SigningRejected))
	assert.Equal(t, aaerr.StageSign, aaerr.StageOf(err))
	assert.Equal(t, StateFailed, result.State)
	assert.Empty(t, transport.sent)

	_, err = submitter.Submit(context.Background(), testDraft(), &testutil.StaticSigner{SignErr: signer.ErrUnavailable})
	assert.True(t, aaerr.HasCode(err, aaerr.IdentityUnavailable))

	_, err = submitter.Submit(context.Background(), testDraft(), nil)
	assert.True(t, aaerr.HasCode(err, aaerr.IdentityUnavailable))
	assert.Empty(t, transport.sent)
}

func TestSubmitInvalidOperation(t *testing.T) {
	transport := &fakeBundler{}
	submitter := NewSubmitter(transport, testSubmitterConfig(), nil)

	op := testDraft()
	op.Nonce = nil
	_, err := submitter.Submit(context.Background(), op, testutil.GetTestSigner())
	assert.True(t, aaerr.HasCode(err, aaerr.InvalidOperation))

	_, err = submitter.Submit(context.Background(), nil, testutil.GetTestSigner())
	assert.True(t, aaerr.HasCode(err, aaerr.InvalidOperation))
	assert.Empty(t, transport.sent)
}

func TestSubmitSponsorsNegotiatedOperation(t *testing.T) {
	token := common.HexToAddress("0xC86Fed58edF0981e927160C50ecB8a8B05B32fed")
	transport := &fakeBundler{receipts: []*bundler.UserOperationReceipt{included(common.HexToHash("0x01"), true)}}
	sponsor := &fakeSponsor{}
	submitter := NewSubmitter(transport, testSubmitterConfig(), nil, WithSponsor(sponsor))

	negotiated, err := paymaster.NewNegotiator(testutil.PaymasterAddress).Apply(testDraft(), paymaster.PostpayStrategy(token))
	require.NoError(t, err)

	result, err := submitter.Submit(context.Background(), negotiated, testutil.GetTestSigner())
	require.NoError(t, err)

	assert.Equal(t, 1, sponsor.calls)
	assert.Equal(t, paymaster.PostpayStrategy(token), sponsor.strategy)
	assert.Equal(t, DummySignature, sponsor.signature)
	assert.Len(t, sponsor.signature, 65)
	assert.Empty(t, negotiated.Signature)

	require.Len(t, transport.sent, 1)
	sent := transport.sent[0]
	assert.Len(t, sent.PaymasterAndData, 41+65)
	assert.Equal(t, int64(120000), sent.PreVerificationGas.Int64())
	assert.Equal(t, sent.GetUserOpHash(aa.DefaultEntrypointAddress, chainID), result.UserOpHash)

	recovered, err := signer.RecoverAddress(result.UserOpHash.Bytes(), sent.Signature)
	require.NoError(t, err)
	assert.Equal(t, ownerAddress(t), recovered)
	assert.NotEqual(t, DummySignature, sent.Signature)
}

func TestSubmitSkipsSponsorWithoutPaymasterData(t *testing.T) {
	transport := &fakeBundler{receipts: []*bundler.UserOperationReceipt{included(common.HexToHash("0x01"), true)}}
	sponsor := &fakeSponsor{}
	submitter := NewSubmitter(transport, testSubmitterConfig(), nil, WithSponsor(sponsor))

	_, err := submitter.Submit(context.Background(), testDraft(), testutil.GetTestSigner())
	require.NoError(t, err)
	assert.Equal(t, 0, sponsor.calls)
}

func TestSubmitSponsorRejected(t *testing.T) {
	transport := &fakeBundler{}
	sponsor := &fakeSponsor{err: aaerr.Wrap(aaerr.PaymasterRejected, aaerr.StageSponsor, errors.New("no balance"), "pm_sponsor_userop")}
	submitter := NewSubmitter(transport, testSubmitterConfig(), nil, WithSponsor(sponsor))

	negotiated, err := paymaster.NewNegotiator(testutil.PaymasterAddress).Apply(testDraft(), paymaster.SponsoredStrategy())
	require.NoError(t, err)

	result, err := submitter.Submit(context.Background(), negotiated, testutil.GetTestSigner())
	assert.True(t, aaerr.HasCode(err, aaerr.PaymasterRejected))
	assert.Equal(t, StateFailed, result.State)
	assert.Empty(t, transport.sent)
}

func TestWaitForReceiptResumes(t *testing.T) {
	txHash := common.HexToHash("0xfeed")
	transport := &fakeBundler{receipts: []*bundler.UserOperationReceipt{nil, included(txHash, true)}}
	submitter := NewSubmitter(transport, testSubmitterConfig(), nil)

	receipt, err := submitter.WaitForReceipt(context.Background(), common.HexToHash("0xaa"))
	require.NoError(t, err)
	assert.Equal(t, txHash, receipt.TxHash())
	assert.Empty(t, transport.sent)
}
