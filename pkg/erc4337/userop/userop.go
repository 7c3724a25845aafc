// Package userop models the ERC-4337 (EntryPoint v0.6) user operation.
package userop

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
)

var (
	address, _ = abi.NewType("address", "", nil)
	uint256, _ = abi.NewType("uint256", "", nil)
	bytes32, _ = abi.NewType("bytes32", "", nil)

	packArgs = abi.Arguments{
		{Name: "sender", Type: address},
		{Name: "nonce", Type: uint256},
		{Name: "hashInitCode", Type: bytes32},
		{Name: "hashCallData", Type: bytes32},
		{Name: "callGasLimit", Type: uint256},
		{Name: "verificationGasLimit", Type: uint256},
		{Name: "preVerificationGas", Type: uint256},
		{Name: "maxFeePerGas", Type: uint256},
		{Name: "maxPriorityFeePerGas", Type: uint256},
		{Name: "hashPaymasterAndData", Type: bytes32},
	}
)

// UserOperation represents an EIP-4337 style transaction for a smart contract account.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// wireUserOperation is the JSON-RPC form: quantities and bytes as 0x hex.
type wireUserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// Copy returns a deep copy so a draft can be transformed without being mutated.
func (op *UserOperation) Copy() *UserOperation {
	return &UserOperation{
		Sender:               op.Sender,
		Nonce:                copyBig(op.Nonce),
		InitCode:             copyBytes(op.InitCode),
		CallData:             copyBytes(op.CallData),
		CallGasLimit:         copyBig(op.CallGasLimit),
		VerificationGasLimit: copyBig(op.VerificationGasLimit),
		PreVerificationGas:   copyBig(op.PreVerificationGas),
		MaxFeePerGas:         copyBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: copyBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     copyBytes(op.PaymasterAndData),
		Signature:            copyBytes(op.Signature),
	}
}

// Validate checks that every integer field is present and non-negative.
func (op *UserOperation) Validate() error {
	fields := []struct {
		name  string
		value *big.Int
	}{
		{"nonce", op.Nonce},
		{"callGasLimit", op.CallGasLimit},
		{"verificationGasLimit", op.VerificationGasLimit},
		{"preVerificationGas", op.PreVerificationGas},
		{"maxFeePerGas", op.MaxFeePerGas},
		{"maxPriorityFeePerGas", op.MaxPriorityFeePerGas},
	}
	for _, f := range fields {
		if f.value == nil {
			return aaerr.ForField(aaerr.InvalidOperation, f.name, "missing value")
		}
		if f.value.Sign() < 0 {
			return aaerr.ForField(aaerr.InvalidOperation, f.name, fmt.Sprintf("negative value %s", f.value))
		}
	}
	if op.MaxPriorityFeePerGas.Cmp(op.MaxFeePerGas) > 0 {
		return aaerr.ForField(aaerr.InvalidOperation, "maxPriorityFeePerGas", "exceeds maxFeePerGas")
	}
	return nil
}

// Pack encodes every field except the signature, hashing the dynamic byte fields.
func (op *UserOperation) Pack() []byte {
	packed, _ := packArgs.Pack(
		op.Sender,
		bigOrZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		bigOrZero(op.CallGasLimit),
		bigOrZero(op.VerificationGasLimit),
		bigOrZero(op.PreVerificationGas),
		bigOrZero(op.MaxFeePerGas),
		bigOrZero(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	return packed
}

// GetUserOpHash returns the hash of the packed userOp + entryPoint address + chainID.
// This is the value the account owner signs.
func (op *UserOperation) GetUserOpHash(entryPoint common.Address, chainID *big.Int) common.Hash {
	return crypto.Keccak256Hash(
		crypto.Keccak256(op.Pack()),
		common.LeftPadBytes(entryPoint.Bytes(), 32),
		common.LeftPadBytes(bigOrZero(chainID).Bytes(), 32),
	)
}

// MarshalJSON renders the operation in the hex form bundlers and paymasters expect.
func (op UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireUserOperation{
		Sender:               op.Sender,
		Nonce:                (*hexutil.Big)(bigOrZero(op.Nonce)),
		InitCode:             nonNilBytes(op.InitCode),
		CallData:             nonNilBytes(op.CallData),
		CallGasLimit:         (*hexutil.Big)(bigOrZero(op.CallGasLimit)),
		VerificationGasLimit: (*hexutil.Big)(bigOrZero(op.VerificationGasLimit)),
		PreVerificationGas:   (*hexutil.Big)(bigOrZero(op.PreVerificationGas)),
		MaxFeePerGas:         (*hexutil.Big)(bigOrZero(op.MaxFeePerGas)),
		MaxPriorityFeePerGas: (*hexutil.Big)(bigOrZero(op.MaxPriorityFeePerGas)),
		PaymasterAndData:     nonNilBytes(op.PaymasterAndData),
		Signature:            nonNilBytes(op.Signature),
	})
}

// UnmarshalJSON parses the hex form. Missing quantities decode as nil.
func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var w wireUserOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*op = UserOperation{
		Sender:               w.Sender,
		Nonce:                w.Nonce.ToInt(),
		InitCode:             w.InitCode,
		CallData:             w.CallData,
		CallGasLimit:         w.CallGasLimit.ToInt(),
		VerificationGasLimit: w.VerificationGasLimit.ToInt(),
		PreVerificationGas:   w.PreVerificationGas.ToInt(),
		MaxFeePerGas:         w.MaxFeePerGas.ToInt(),
		MaxPriorityFeePerGas: w.MaxPriorityFeePerGas.ToInt(),
		PaymasterAndData:     w.PaymasterAndData,
		Signature:            w.Signature,
	}
	return nil
}

func nonNilBytes(b []byte) hexutil.Bytes {
	if b == nil {
		return hexutil.Bytes{}
	}
	return b
}

func (op *UserOperation) String() string {
	return fmt.Sprintf("UserOperation{sender=%s nonce=%s initCode=%d bytes callData=%d bytes paymasterAndData=%s signed=%t}",
		op.Sender.Hex(), bigOrZero(op.Nonce), len(op.InitCode), len(op.CallData),
		hexutil.Encode(op.PaymasterAndData), len(op.Signature) > 0)
}
