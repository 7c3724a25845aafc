// Package pipeline is the public entry point for gas-abstracted swaps and
// trade shares. A Pipeline wires the address deriver, operation builder,
// paymaster negotiator and submitter for a single owner.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/oklog/ulid/v2"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/nerotrade/aaswap/core/chainio/aa"
	"github.com/nerotrade/aaswap/core/chainio/signer"
	"github.com/nerotrade/aaswap/core/config"
	"github.com/nerotrade/aaswap/metrics"
	"github.com/nerotrade/aaswap/pkg/eip1559"
	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
	"github.com/nerotrade/aaswap/pkg/erc4337/bundler"
	"github.com/nerotrade/aaswap/pkg/erc4337/calldata"
	"github.com/nerotrade/aaswap/pkg/erc4337/paymaster"
	"github.com/nerotrade/aaswap/pkg/erc4337/preset"
	"github.com/nerotrade/aaswap/pkg/logger"
)

const (
	RunSwap  = "swap"
	RunShare = "share"
)

// zeroAddressHex stands in for a defaulted recipient or trader while the rest
// of the input is validated, before the smart account is known.
const zeroAddressHex = "0x0000000000000000000000000000000000000000"

// Deps are the collaborators a Pipeline runs against. NewFromConfig fills them
// from network clients; tests pass fakes.
type Deps struct {
	Owner     signer.Identity
	Caller    bind.ContractCaller
	FeeReader eip1559.ChainReader
	Bundler   preset.BundlerTransport
	Sponsor   preset.Sponsor
	Tokens    paymaster.TokenSource
	Cache     *bigcache.BigCache
	Metrics   metrics.MetricsGenerator
}

// Pipeline runs swaps and trade shares for one owner. It is safe for
// concurrent use; every run owns its operation.
type Pipeline struct {
	config *config.Config
	owner  signer.Identity
	caller bind.ContractCaller
	logger sdklogging.Logger

	deriver    *aa.Deriver
	builder    *preset.Builder
	negotiator *paymaster.Negotiator
	submitter  *preset.Submitter
	catalog    *paymaster.Catalog
	metrics    metrics.MetricsGenerator

	queue   *accountQueue
	closers []func()
}

// Quote is the aggregator's best route for a swap.
type Quote struct {
	Dex       common.Address `json:"dex"`
	AmountIn  *big.Int       `json:"amountIn"`
	AmountOut *big.Int       `json:"amountOut"`
}

func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline requires a config")
	}
	if deps.Caller == nil || deps.Bundler == nil {
		return nil, errors.New("pipeline requires a chain caller and a bundler")
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	log := logger.EnsureLogger(cfg.Logger)

	deriver := aa.NewDeriver(deps.Caller, cfg.Contracts.AccountFactory, cfg.Contracts.EntryPoint, cfg.AccountSalt)
	builder, err := preset.NewBuilder(deriver, cfg.Gas, deps.FeeReader, log)
	if err != nil {
		return nil, err
	}

	submitOpts := []preset.SubmitterOption{preset.WithSubmitRecorder(m)}
	if deps.Sponsor != nil {
		submitOpts = append(submitOpts, preset.WithSponsor(deps.Sponsor))
	}
	submitter := preset.NewSubmitter(deps.Bundler, preset.SubmitterConfig{
		EntryPoint:      cfg.Contracts.EntryPoint,
		ChainID:         cfg.Chain.ChainID,
		Timeout:         cfg.Receipt.Timeout,
		PollInterval:    cfg.Receipt.PollInterval,
		MaxPollInterval: cfg.Receipt.MaxPollInterval,
	}, log, submitOpts...)

	p := &Pipeline{
		config:     cfg,
		owner:      deps.Owner,
		caller:     deps.Caller,
		logger:     log,
		deriver:    deriver,
		builder:    builder,
		negotiator: paymaster.NewNegotiator(cfg.Contracts.Paymaster),
		submitter:  submitter,
		metrics:    m,
	}

	if deps.Tokens != nil {
		catalogOpts := []paymaster.CatalogOption{paymaster.WithRecorder(m)}
		if deps.Cache != nil {
			catalogOpts = append(catalogOpts, paymaster.WithCache(deps.Cache))
		}
		p.catalog = paymaster.NewCatalog(deps.Tokens, log, catalogOpts...)
	}
	if cfg.SerializePerAccount {
		p.queue = newAccountQueue()
	}
	return p, nil
}

// NewFromConfig dials the chain RPC, bundler and paymaster named in cfg.
// Close releases the connections.
func NewFromConfig(ctx context.Context, cfg *config.Config, owner signer.Identity, m metrics.MetricsGenerator) (*Pipeline, error) {
	ethClient, err := ethclient.DialContext(ctx, cfg.Chain.RpcURL)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to chain rpc %s: %w", cfg.Chain.RpcURL, err)
	}

	bundlerClient, err := bundler.NewBundlerClient(cfg.BundlerURL, cfg.Logger)
	if err != nil {
		ethClient.Close()
		return nil, err
	}

	pmClient := paymaster.NewClient(cfg.PaymasterURL, cfg.PaymasterAPIKey, cfg.Contracts.EntryPoint, cfg.Logger)

	var cache *bigcache.BigCache
	if cfg.TokenCacheTTL > 0 {
		if cache, err = paymaster.NewSessionCache(cfg.TokenCacheTTL); err != nil {
			ethClient.Close()
			bundlerClient.Close()
			return nil, fmt.Errorf("cannot create token cache: %w", err)
		}
	}

	p, err := New(cfg, Deps{
		Owner:     owner,
		Caller:    ethClient,
		FeeReader: ethClient,
		Bundler:   bundlerClient,
		Sponsor:   pmClient,
		Tokens:    pmClient,
		Cache:     cache,
		Metrics:   m,
	})
	if err != nil {
		ethClient.Close()
		bundlerClient.Close()
		return nil, err
	}

	p.closers = append(p.closers, ethClient.Close, bundlerClient.Close)
	if cache != nil {
		p.closers = append(p.closers, func() { _ = cache.Close() })
	}
	return p, nil
}

func (p *Pipeline) Close() {
	for _, c := range p.closers {
		c()
	}
	p.closers = nil
}

// AccountAddress returns the owner's smart-account address, whether or not it
// is deployed yet.
func (p *Pipeline) AccountAddress(ctx context.Context) (common.Address, error) {
	return p.deriver.Derive(ctx, p.owner)
}

// ListSupportedTokens returns the tokens the owner's account can pay gas
// with. The list only drives token selection, so any failure, including an
// unavailable owner or chain, yields an empty list.
func (p *Pipeline) ListSupportedTokens(ctx context.Context) ([]paymaster.TokenInfo, error) {
	if p.catalog == nil {
		return []paymaster.TokenInfo{}, nil
	}
	account, err := p.AccountAddress(ctx)
	if err != nil {
		p.logger.Warn("cannot derive account for supported tokens", "error", err)
		p.metrics.IncTokenCatalog(paymaster.CatalogOutcomeError)
		return []paymaster.TokenInfo{}, nil
	}
	return p.catalog.ListSupportedTokens(ctx, account), nil
}

// ListTrades reads the trades trader has shared on the social contract. An
// empty trader is the owner's smart account.
func (p *Pipeline) ListTrades(ctx context.Context, trader string) ([]calldata.Share, error) {
	if trader == "" {
		account, err := p.AccountAddress(ctx)
		if err != nil {
			return nil, err
		}
		trader = account.Hex()
	}

	data, err := calldata.EncodeTradesQuery("trader", trader)
	if err != nil {
		return nil, aaerr.WithStage(err, aaerr.StageEncode, aaerr.InvalidOperation)
	}

	social := p.config.Contracts.SocialContract
	out, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &social, Data: data}, nil)
	if err != nil {
		return nil, aaerr.Wrap(aaerr.NetworkUnavailable, aaerr.StageBuild, err, "getTrades call failed")
	}

	trades, err := calldata.DecodeTrades(out)
	if err != nil {
		return nil, aaerr.Wrap(aaerr.NetworkUnavailable, aaerr.StageBuild, err, "cannot decode getTrades result")
	}
	return trades, nil
}

// BuildAndSubmitSwap swaps on the DEX aggregator from the owner's smart
// account, paying gas with strategy. An empty recipient receives the output
// in the smart account.
func (p *Pipeline) BuildAndSubmitSwap(ctx context.Context, req calldata.SwapRequest, strategy paymaster.Strategy) (*preset.Result, error) {
	precheck := req
	if precheck.Recipient == "" {
		precheck.Recipient = zeroAddressHex
	}
	if _, err := calldata.EncodeSwap(precheck); err != nil {
		return p.rejected(RunSwap, err)
	}
	if err := strategy.Validate(); err != nil {
		return p.rejected(RunSwap, err)
	}

	return p.run(ctx, RunSwap, p.config.Contracts.DexAggregator, strategy, func(account common.Address) ([]byte, error) {
		if req.Recipient == "" {
			req.Recipient = account.Hex()
		}
		return calldata.EncodeSwap(req)
	})
}

// BuildAndSubmitTradeShare publishes a completed trade to the social
// contract. Sharing is always sponsored. An empty trader is the smart
// account.
func (p *Pipeline) BuildAndSubmitTradeShare(ctx context.Context, share calldata.TradeShare) (*preset.Result, error) {
	precheck := share
	if precheck.Trader == "" {
		precheck.Trader = zeroAddressHex
	}
	if _, err := calldata.EncodeTradeShare(precheck); err != nil {
		return p.rejected(RunShare, err)
	}

	return p.run(ctx, RunShare, p.config.Contracts.SocialContract, paymaster.SponsoredStrategy(), func(account common.Address) ([]byte, error) {
		if share.Trader == "" {
			share.Trader = account.Hex()
		}
		return calldata.EncodeTradeShare(share)
	})
}

// WaitForOperation resumes waiting for an operation sent earlier.
func (p *Pipeline) WaitForOperation(ctx context.Context, userOpHash common.Hash) (*bundler.UserOperationReceipt, error) {
	return p.submitter.WaitForReceipt(ctx, userOpHash)
}

// QuoteSwap asks the aggregator which DEX gives the best output for amountIn.
// It is a read-only call and sends nothing.
func (p *Pipeline) QuoteSwap(ctx context.Context, tokenIn, tokenOut, amountIn string) (*Quote, error) {
	data, err := calldata.EncodeBestSwapQuery(tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, aaerr.WithStage(err, aaerr.StageEncode, aaerr.InvalidOperation)
	}

	dex := p.config.Contracts.DexAggregator
	out, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &dex, Data: data}, nil)
	if err != nil {
		return nil, aaerr.Wrap(aaerr.NetworkUnavailable, aaerr.StageBuild, err, "getBestSwap call failed")
	}

	best, amountOut, err := calldata.DecodeBestSwap(out)
	if err != nil {
		return nil, aaerr.Wrap(aaerr.NetworkUnavailable, aaerr.StageBuild, err, "cannot decode getBestSwap result")
	}

	amount, _ := calldata.ParseAmount("amountIn", amountIn)
	return &Quote{Dex: best, AmountIn: amount, AmountOut: amountOut}, nil
}

// run derives the account, encodes the target call, builds, negotiates and
// submits. encode receives the smart-account address for defaulted fields.
func (p *Pipeline) run(
	ctx context.Context,
	kind string,
	target common.Address,
	strategy paymaster.Strategy,
	encode func(account common.Address) ([]byte, error),
) (*preset.Result, error) {
	runID := ulid.Make().String()
	log := logger.ForRun(p.logger, kind, runID).With("strategy", strategy.String())

	resolved, err := p.deriver.Resolve(ctx, p.owner)
	if err != nil {
		return p.finish(log, kind, &preset.Result{State: preset.StateDraft}, err)
	}
	account := resolved.Sender
	log = log.With("sender", account.Hex())

	callData, err := encode(account)
	if err != nil {
		return p.finish(log, kind, &preset.Result{State: preset.StateDraft}, err)
	}

	if p.queue != nil {
		release, err := p.queue.acquire(ctx, account)
		if err != nil {
			return p.finish(log, kind, &preset.Result{State: preset.StateDraft},
				aaerr.FromContext(aaerr.StageQueue, err, "stopped waiting for a previous operation from this account"))
		}
		defer release()
	}

	draft, err := p.builder.BuildDraftFor(ctx, resolved, target, big.NewInt(0), callData)
	if err != nil {
		return p.finish(log, kind, &preset.Result{State: preset.StateDraft}, err)
	}

	negotiated, err := p.negotiator.Apply(draft, strategy)
	if err != nil {
		return p.finish(log, kind, &preset.Result{State: preset.StateDraft}, err)
	}

	log.Info("submitting operation", "target", target.Hex(), "nonce", negotiated.Nonce.String())
	result, err := p.submitter.Submit(ctx, negotiated, p.owner)
	return p.finish(log, kind, result, err)
}

func (p *Pipeline) finish(log sdklogging.Logger, kind string, result *preset.Result, err error) (*preset.Result, error) {
	if err == nil {
		p.metrics.IncRun(kind, "ok")
		log.Info("run completed", "userOpHash", result.UserOpHash.Hex(), "txHash", result.TxHash.Hex())
		return result, nil
	}

	result.State = preset.StateFailed
	result.Err = err
	p.metrics.IncRun(kind, "failed")
	log.Error("run failed",
		"code", aaerr.CodeOf(err),
		"stage", aaerr.StageOf(err),
		"userOpHash", result.UserOpHash.Hex(),
		"error", err)
	return result, err
}

// rejected reports input that failed validation before any network call.
func (p *Pipeline) rejected(kind string, err error) (*preset.Result, error) {
	p.metrics.IncRun(kind, "rejected")
	return &preset.Result{State: preset.StateFailed, Err: err}, err
}
