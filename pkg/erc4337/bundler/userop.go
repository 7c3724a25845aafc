package bundler

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// UserOperationReceipt is the eth_getUserOperationReceipt result.
type UserOperationReceipt struct {
	UserOpHash    common.Hash        `json:"userOpHash"`
	EntryPoint    common.Address     `json:"entryPoint"`
	Sender        common.Address     `json:"sender"`
	Nonce         *hexutil.Big       `json:"nonce"`
	Paymaster     common.Address     `json:"paymaster"`
	ActualGasCost *hexutil.Big       `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big       `json:"actualGasUsed"`
	Success       bool               `json:"success"`
	Reason        string             `json:"reason,omitempty"`
	Logs          []json.RawMessage  `json:"logs,omitempty"`
	Receipt       TransactionReceipt `json:"receipt"`
}

// TransactionReceipt is the settlement transaction as reported by the
// bundler. Bundlers differ in which fields they fill, so only the ones the
// pipeline reads are decoded.
type TransactionReceipt struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	BlockHash       common.Hash     `json:"blockHash"`
	BlockNumber     *hexutil.Big    `json:"blockNumber"`
	From            common.Address  `json:"from"`
	To              *common.Address `json:"to,omitempty"`
	GasUsed         *hexutil.Big    `json:"gasUsed"`
	Status          hexutil.Uint64  `json:"status"`
}

// TxHash returns the settlement transaction hash.
func (r *UserOperationReceipt) TxHash() common.Hash {
	if r == nil {
		return common.Hash{}
	}
	return r.Receipt.TransactionHash
}
