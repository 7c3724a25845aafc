package preset

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/nerotrade/aaswap/core/chainio/signer"
	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
	"github.com/nerotrade/aaswap/pkg/erc4337/bundler"
	"github.com/nerotrade/aaswap/pkg/erc4337/paymaster"
	"github.com/nerotrade/aaswap/pkg/erc4337/userop"
	"github.com/nerotrade/aaswap/pkg/logger"
)

const backoffFactor = 1.5

// DummySignature is a well-formed 65 byte ECDSA signature that recovers to
// some address without reverting. The paymaster simulates validation before
// the owner has signed, so the sponsorship request carries this instead of
// an empty signature.
var DummySignature = common.FromHex("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// State is where an operation is in its lifecycle.
type State string

const (
	StateDraft     State = "draft"
	StateSigned    State = "signed"
	StateSent      State = "sent"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// BundlerTransport is the bundler JSON-RPC surface the submitter uses.
// *bundler.BundlerClient implements it.
type BundlerTransport interface {
	SendUserOperation(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (common.Hash, error)
	GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*bundler.UserOperationReceipt, error)
}

// Sponsor turns a negotiated operation into one carrying the paymaster's
// signed paymasterAndData. *paymaster.Client implements it.
type Sponsor interface {
	SponsorUserOp(ctx context.Context, op *userop.UserOperation, strategy paymaster.Strategy) (*userop.UserOperation, error)
}

// SubmitRecorder observes operation outcomes.
type SubmitRecorder interface {
	IncOperation(stage, status string)
	ObserveSettlement(d time.Duration)
}

// Result is the outcome of a submission. UserOpHash is set for every
// operation that passed validation; TxHash and Receipt only once it is
// Confirmed.
type Result struct {
	UserOpHash common.Hash                   `json:"userOpHash"`
	State      State                         `json:"state"`
	TxHash     common.Hash                   `json:"transactionHash,omitempty"`
	Receipt    *bundler.UserOperationReceipt `json:"receipt,omitempty"`
	Operation  *userop.UserOperation         `json:"userOperation,omitempty"`
	Err        error                         `json:"-"`
}

// SubmitterConfig bounds receipt polling. The wait gives up after Timeout,
// polling every PollInterval at first and backing off up to MaxPollInterval.
type SubmitterConfig struct {
	EntryPoint      common.Address
	ChainID         *big.Int
	Timeout         time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

// Submitter signs, sends and tracks operations. Operations are never
// retried or retracted: once sent, the outcome is only observed.
type Submitter struct {
	bundler  BundlerTransport
	sponsor  Sponsor
	cfg      SubmitterConfig
	logger   sdklogging.Logger
	recorder SubmitRecorder
}

type SubmitterOption func(*Submitter)

// WithSponsor enables pm_sponsor_userop before signing.
func WithSponsor(s Sponsor) SubmitterOption {
	return func(sub *Submitter) { sub.sponsor = s }
}

func WithSubmitRecorder(r SubmitRecorder) SubmitterOption {
	return func(sub *Submitter) { sub.recorder = r }
}

func NewSubmitter(transport BundlerTransport, cfg SubmitterConfig, log sdklogging.Logger, opts ...SubmitterOption) *Submitter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = cfg.PollInterval
	}
	if cfg.ChainID == nil {
		cfg.ChainID = new(big.Int)
	}

	s := &Submitter{
		bundler: transport,
		cfg:     cfg,
		logger:  logger.EnsureLogger(log),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit drives op through Draft -> Signed -> Sent -> Confirmed. The returned
// Result is never nil; on failure its State is Failed and the error is also
// returned. Cancelling ctx stops waiting but does not retract a sent
// operation.
func (s *Submitter) Submit(ctx context.Context, op *userop.UserOperation, owner signer.Identity) (*Result, error) {
	result := &Result{State: StateDraft}
	if op == nil {
		return s.fail(result, aaerr.Wrap(aaerr.InvalidOperation, aaerr.StageSign, nil, "no operation to submit"))
	}
	if err := op.Validate(); err != nil {
		return s.fail(result, aaerr.WithStage(err, aaerr.StageSign, aaerr.InvalidOperation))
	}

	// The hash excludes the signature, so it is known before signing.
	result.UserOpHash = op.GetUserOpHash(s.cfg.EntryPoint, s.cfg.ChainID)

	op, err := s.sponsorIfNegotiated(ctx, op)
	if err != nil {
		return s.fail(result, err)
	}
	result.UserOpHash = op.GetUserOpHash(s.cfg.EntryPoint, s.cfg.ChainID)

	signed, err := s.sign(ctx, op, owner)
	if err != nil {
		return s.fail(result, err)
	}
	result.Operation = signed
	result.State = StateSigned
	s.record(aaerr.StageSign, "ok")

	log := s.logger.With("userOpHash", result.UserOpHash.Hex(), "sender", signed.Sender.Hex())

	sentAt := time.Now()
	bundlerHash, err := s.bundler.SendUserOperation(ctx, signed, s.cfg.EntryPoint)
	if err != nil {
		log.Warn("bundler did not accept operation", "error", err)
		return s.fail(result, aaerr.WithStage(err, aaerr.StageSend, aaerr.NetworkUnavailable))
	}
	if bundlerHash != result.UserOpHash {
		log.Warn("bundler returned a different user operation hash", "bundlerHash", bundlerHash.Hex())
		result.UserOpHash = bundlerHash
	}
	result.State = StateSent
	s.record(aaerr.StageSend, "ok")
	log.Info("operation sent, waiting for receipt")

	receipt, err := s.WaitForReceipt(ctx, result.UserOpHash)
	if receipt != nil {
		result.Receipt = receipt
		result.TxHash = receipt.TxHash()
	}
	if err != nil {
		return s.fail(result, err)
	}

	result.State = StateConfirmed
	s.record(aaerr.StageConfirm, "ok")
	if s.recorder != nil {
		s.recorder.ObserveSettlement(time.Since(sentAt))
	}
	log.Info("operation confirmed", "txHash", result.TxHash.Hex())
	return result, nil
}

// WaitForReceipt polls the bundler for hash's receipt until it arrives, the
// configured timeout passes (Timeout) or ctx is cancelled (ReceiptNotFound).
// A receipt reporting failed execution is returned with an OperationReverted
// error. Poll errors are logged and polling continues.
func (s *Submitter) WaitForReceipt(ctx context.Context, hash common.Hash) (*bundler.UserOperationReceipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	log := s.logger.With("userOpHash", hash.Hex())
	start := time.Now()
	interval := s.cfg.PollInterval
	attempt := 0

	for {
		attempt++
		receipt, err := s.bundler.GetUserOperationReceipt(waitCtx, hash)
		switch {
		case err != nil:
			if waitCtx.Err() == nil {
				log.Warn("receipt poll failed, will retry", "attempt", attempt, "error", err)
			}
		case receipt != nil:
			log.Debug("receipt found", "attempt", attempt, "elapsed", time.Since(start).Round(time.Millisecond))
			if !receipt.Success {
				e := aaerr.Wrap(aaerr.OperationReverted, aaerr.StageConfirm,
					errors.New("execution reverted"), "operation was included but its call failed")
				e.Details = map[string]interface{}{
					"txHash": receipt.TxHash().Hex(),
					"reason": receipt.Reason,
				}
				return receipt, e
			}
			return receipt, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, aaerr.Wrap(aaerr.ReceiptNotFound, aaerr.StageConfirm, ctxErr,
					"stopped waiting for receipt, the operation may still be included")
			}
			e := aaerr.Wrap(aaerr.Timeout, aaerr.StageConfirm, waitCtx.Err(),
				"no receipt before the deadline, the operation may still be included")
			e.Details = map[string]interface{}{"attempts": attempt, "timeout": s.cfg.Timeout.String()}
			log.Warn("gave up waiting for receipt", "attempts", attempt, "elapsed", time.Since(start).Round(time.Millisecond))
			return nil, e
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * backoffFactor)
		if interval > s.cfg.MaxPollInterval {
			interval = s.cfg.MaxPollInterval
		}
	}
}

func (s *Submitter) sponsorIfNegotiated(ctx context.Context, op *userop.UserOperation) (*userop.UserOperation, error) {
	if s.sponsor == nil || len(op.PaymasterAndData) == 0 {
		return op, nil
	}

	_, strategy, err := paymaster.DecodePaymasterAndData(op.PaymasterAndData)
	if err != nil {
		return nil, aaerr.WithStage(err, aaerr.StageSponsor, aaerr.InvalidOperation)
	}

	unsigned := op.Copy()
	unsigned.Signature = append([]byte(nil), DummySignature...)

	sponsored, err := s.sponsor.SponsorUserOp(ctx, unsigned, strategy)
	if err != nil {
		return nil, aaerr.WithStage(err, aaerr.StageSponsor, aaerr.NetworkUnavailable)
	}
	if err := sponsored.Validate(); err != nil {
		return nil, aaerr.WithStage(err, aaerr.StageSponsor, aaerr.PaymasterRejected)
	}
	s.record(aaerr.StageSponsor, "ok")
	return sponsored, nil
}

func (s *Submitter) sign(ctx context.Context, op *userop.UserOperation, owner signer.Identity) (*userop.UserOperation, error) {
	if owner == nil {
		return nil, aaerr.Wrap(aaerr.IdentityUnavailable, aaerr.StageSign, signer.ErrUnavailable, "no owner identity")
	}

	signed := op.Copy()
	signed.Signature = nil
	hash := signed.GetUserOpHash(s.cfg.EntryPoint, s.cfg.ChainID)

	sig, err := owner.SignHash(ctx, hash)
	if err != nil {
		if errors.Is(err, signer.ErrUnavailable) {
			return nil, aaerr.Wrap(aaerr.IdentityUnavailable, aaerr.StageSign, err, "owner is unavailable")
		}
		return nil, aaerr.Wrap(aaerr.SigningRejected, aaerr.StageSign, err, "owner did not sign the operation")
	}
	if len(sig) == 0 {
		return nil, aaerr.Wrap(aaerr.SigningRejected, aaerr.StageSign, signer.ErrRejected, "empty signature")
	}

	signed.Signature = sig
	return signed, nil
}

func (s *Submitter) fail(result *Result, err error) (*Result, error) {
	result.State = StateFailed
	result.Err = err
	s.record(aaerr.StageOf(err), string(aaerr.CodeOf(err)))
	return result, err
}

func (s *Submitter) record(stage aaerr.Stage, status string) {
	if s.recorder != nil {
		s.recorder.IncOperation(string(stage), status)
	}
}
