package paymaster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
	"github.com/nerotrade/aaswap/pkg/erc4337/userop"
	"github.com/nerotrade/aaswap/pkg/logger"
)

const (
	MethodSupportedTokens = "pm_supported_tokens"
	MethodSponsorUserOp   = "pm_sponsor_userop"

	DefaultTimeout = 15 * time.Second
)

// RPCError is a JSON-RPC error object returned by the paymaster.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("paymaster error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// SponsorContext is the payment selection sent along with pm_sponsor_userop.
type SponsorContext struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// SponsorResponse holds the fields the paymaster fills in. Gas fields are
// only present when the paymaster re-priced the operation.
type SponsorResponse struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	CallGasLimit         *hexutil.Big  `json:"callGasLimit,omitempty"`
	VerificationGasLimit *hexutil.Big  `json:"verificationGasLimit,omitempty"`
	PreVerificationGas   *hexutil.Big  `json:"preVerificationGas,omitempty"`
	MaxFeePerGas         *hexutil.Big  `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big  `json:"maxPriorityFeePerGas,omitempty"`
}

type supportedTokensResult struct {
	Tokens []map[string]interface{} `json:"tokens"`
}

// Client speaks the paymaster JSON-RPC API over HTTP.
type Client struct {
	httpClient *resty.Client
	url        string
	apiKey     string
	entryPoint common.Address
	logger     sdklogging.Logger

	nextID atomic.Uint64
}

func NewClient(url, apiKey string, entryPoint common.Address, log sdklogging.Logger) *Client {
	httpClient := resty.New().SetTimeout(DefaultTimeout)
	httpClient.SetHeaders(map[string]string{
		"Accept":       "application/json",
		"Content-Type": "application/json",
		"User-Agent":   "aaswap/1.0",
	})

	return &Client{
		httpClient: httpClient,
		url:        url,
		apiKey:     apiKey,
		entryPoint: entryPoint,
		logger:     logger.EnsureLogger(log),
	}
}

// SetTimeout overrides the per request timeout.
func (c *Client) SetTimeout(timeout time.Duration) *Client {
	c.httpClient.SetTimeout(timeout)
	return c
}

// SupportedTokens returns the raw token entries the paymaster accepts for
// the probe operation's sender.
func (c *Client) SupportedTokens(ctx context.Context, probe *userop.UserOperation) ([]map[string]interface{}, error) {
	var result supportedTokensResult
	if err := c.call(ctx, MethodSupportedTokens, []interface{}{probe, c.apiKey, c.entryPoint.Hex()}, &result); err != nil {
		return nil, err
	}
	return result.Tokens, nil
}

// SponsorUserOp asks the paymaster to sign op for the given strategy and
// returns a copy of op carrying the paymaster's paymasterAndData and any gas
// fields it changed.
func (c *Client) SponsorUserOp(ctx context.Context, op *userop.UserOperation, strategy Strategy) (*userop.UserOperation, error) {
	if err := strategy.Validate(); err != nil {
		return nil, aaerr.WithStage(err, aaerr.StageSponsor, aaerr.MissingToken)
	}

	sponsorCtx := SponsorContext{Type: fmt.Sprintf("%d", strategy.Kind)}
	if strategy.NeedsToken() {
		sponsorCtx.Token = strategy.Token.Hex()
	}

	var resp SponsorResponse
	err := c.call(ctx, MethodSponsorUserOp, []interface{}{op, c.apiKey, c.entryPoint.Hex(), sponsorCtx}, &resp)
	if err != nil {
		return nil, c.classify(err)
	}
	if len(resp.PaymasterAndData) < common.AddressLength {
		return nil, aaerr.Wrap(aaerr.PaymasterRejected, aaerr.StageSponsor,
			fmt.Errorf("paymasterAndData has %d bytes", len(resp.PaymasterAndData)), "paymaster returned no sponsorship")
	}

	sponsored := op.Copy()
	sponsored.PaymasterAndData = append([]byte{}, resp.PaymasterAndData...)
	replaceBig(&sponsored.CallGasLimit, resp.CallGasLimit)
	replaceBig(&sponsored.VerificationGasLimit, resp.VerificationGasLimit)
	replaceBig(&sponsored.PreVerificationGas, resp.PreVerificationGas)
	replaceBig(&sponsored.MaxFeePerGas, resp.MaxFeePerGas)
	replaceBig(&sponsored.MaxPriorityFeePerGas, resp.MaxPriorityFeePerGas)

	c.logger.Debug("paymaster sponsored operation",
		"sender", op.Sender.Hex(),
		"strategy", strategy.String(),
		"paymasterAndDataLen", len(sponsored.PaymasterAndData))
	return sponsored, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}

	var rpcResp rpcResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&rpcResp).
		SetError(&rpcResp).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if resp.IsError() {
		return &httpStatusError{Method: method, Status: resp.StatusCode(), Body: resp.String()}
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return fmt.Errorf("%s returned an empty result", method)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%s returned an unexpected result: %w", method, err)
	}
	return nil
}

type httpStatusError struct {
	Method string
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Method, e.Status, e.Body)
}

// classify maps a sponsorship failure onto the pipeline error taxonomy: an
// answer from the paymaster is a rejection, no answer is a network failure.
func (c *Client) classify(err error) error {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		e := aaerr.Wrap(aaerr.PaymasterRejected, aaerr.StageSponsor, err, MethodSponsorUserOp)
		e.Details = map[string]interface{}{"rpcCode": rpcErr.Code}
		return e
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.Status < 500 {
		return aaerr.Wrap(aaerr.PaymasterRejected, aaerr.StageSponsor, err, MethodSponsorUserOp)
	}
	return aaerr.Wrap(aaerr.NetworkUnavailable, aaerr.StageSponsor, err, MethodSponsorUserOp)
}

func replaceBig(dst **big.Int, v *hexutil.Big) {
	if v != nil {
		*dst = new(big.Int).Set(v.ToInt())
	}
}
