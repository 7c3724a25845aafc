// Provide primitive to work with a bundler RPC
// Bundler RPC is stateless
package bundler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
	"github.com/nerotrade/aaswap/pkg/erc4337/userop"
	"github.com/nerotrade/aaswap/pkg/logger"
)

// safePreview returns a truncated preview of s with ellipsis when longer than n
func safePreview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// BundlerClient defines a client for interacting with an EIP-4337 bundler RPC endpoint.
type BundlerClient struct {
	client *rpc.Client
	url    string
	logger sdklogging.Logger
}

// NewBundlerClient creates a new BundlerClient that connects to the given URL.
func NewBundlerClient(url string, log sdklogging.Logger) (*BundlerClient, error) {
	// DialHTTP keeps every call a plain POST, which is what hosted bundlers expect.
	c, err := rpc.DialHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("Error creating bundler client: %w", err)
	}
	return &BundlerClient{client: c, url: url, logger: logger.EnsureLogger(log)}, nil
}

// Close closes the underlying RPC client connection.
func (bc *BundlerClient) Close() {
	bc.client.Close()
}

// SendUserOperation sends a signed UserOperation to the bundler and returns
// the user operation hash the bundler assigned to it.
// A JSON-RPC error response is a BundlerRejected error, anything else that
// prevents a response is NetworkUnavailable.
func (bc *BundlerClient) SendUserOperation(
	ctx context.Context,
	userOp *userop.UserOperation,
	entrypoint common.Address,
) (common.Hash, error) {
	bc.logger.Debug("eth_sendUserOperation",
		"url", bc.url,
		"entrypoint", entrypoint.Hex(),
		"sender", userOp.Sender.Hex(),
		"nonce", userOp.Nonce,
		"callData", safePreview(fmt.Sprintf("0x%x", userOp.CallData), 50),
		"paymasterAndData", safePreview(fmt.Sprintf("0x%x", userOp.PaymasterAndData), 50),
	)

	// The wire form relies on UserOperation.MarshalJSON for hex encoding.
	// EntryPoint is sent EIP-55 checksummed, some bundlers compare it as a string.
	var userOpHash common.Hash
	err := bc.client.CallContext(ctx, &userOpHash, "eth_sendUserOperation", userOp, entrypoint.Hex())
	if err != nil {
		return common.Hash{}, classify(err, aaerr.StageSend, "eth_sendUserOperation")
	}
	if userOpHash == (common.Hash{}) {
		return common.Hash{}, aaerr.Wrap(aaerr.BundlerRejected, aaerr.StageSend,
			errors.New("empty user operation hash"), "eth_sendUserOperation")
	}

	bc.logger.Info("user operation accepted by bundler", "userOpHash", userOpHash.Hex(), "sender", userOp.Sender.Hex())
	return userOpHash, nil
}

// GetUserOperationReceipt fetches the receipt of a UserOperation. A nil
// receipt with a nil error means the operation is not included yet.
func (bc *BundlerClient) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOperationReceipt, error) {
	var receipt *UserOperationReceipt
	if err := bc.client.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", hash.Hex()); err != nil {
		return nil, classify(err, aaerr.StageConfirm, "eth_getUserOperationReceipt")
	}
	return receipt, nil
}

// SupportedEntryPoints lists the EntryPoint contracts the bundler serves.
func (bc *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var entrypoints []common.Address
	if err := bc.client.CallContext(ctx, &entrypoints, "eth_supportedEntryPoints"); err != nil {
		return nil, classify(err, aaerr.StageSend, "eth_supportedEntryPoints")
	}
	return entrypoints, nil
}

// classify maps an rpc client error onto the pipeline error taxonomy.
func classify(err error, stage aaerr.Stage, method string) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		e := aaerr.Wrap(aaerr.BundlerRejected, stage, err, method)
		e.Details = map[string]interface{}{"rpcCode": rpcErr.ErrorCode()}

		var dataErr rpc.DataError
		if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
			e.Details["data"] = dataErr.ErrorData()
		}
		return e
	}

	// A bundler answering with a non-2xx status and a body is still a response.
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
		e := aaerr.Wrap(aaerr.BundlerRejected, stage, err, method)
		e.Details = map[string]interface{}{"httpStatus": httpErr.StatusCode}
		return e
	}

	return aaerr.Wrap(aaerr.NetworkUnavailable, stage, err, method)
}
