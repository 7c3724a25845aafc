// Package calldata encodes the DEX aggregator and social contract calls that a
// smart account executes. Encoding is pure: no network access happens here.
package calldata

import (
	"bytes"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
)

// AmountDecimals is the fixed-point scale the target contracts expect for
// every amount, whatever the token's own decimals are.
const AmountDecimals = 18

const (
	dexAggregatorABIJSON = `[
		{"type":"function","name":"swap","stateMutability":"nonpayable",
		 "inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
		           {"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
		           {"name":"to","type":"address"}],
		 "outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"getBestSwap","stateMutability":"view",
		 "inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
		           {"name":"amountIn","type":"uint256"}],
		 "outputs":[{"name":"dex","type":"address"},{"name":"amountOut","type":"uint256"}]}
	]`

	socialContractABIJSON = `[
		{"type":"function","name":"shareTrade","stateMutability":"nonpayable",
		 "inputs":[{"name":"trader","type":"address"},{"name":"strategy","type":"string"},
		           {"name":"amountIn","type":"uint256"},{"name":"amountOut","type":"uint256"},
		           {"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"}],
		 "outputs":[]},
		{"type":"function","name":"getTrades","stateMutability":"view",
		 "inputs":[{"name":"trader","type":"address"}],
		 "outputs":[{"name":"","type":"tuple[]","components":[
		           {"name":"trader","type":"address"},{"name":"strategy","type":"string"},
		           {"name":"amountIn","type":"uint256"},{"name":"amountOut","type":"uint256"},
		           {"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"}]}]}
	]`
)

var (
	DexAggregatorABI  = mustParseABI(dexAggregatorABIJSON)
	SocialContractABI = mustParseABI(socialContractABIJSON)

	amountPattern = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// SwapRequest is a swap as entered by the user. Amounts are decimal strings.
type SwapRequest struct {
	TokenIn      string `json:"tokenIn" validate:"required"`
	TokenOut     string `json:"tokenOut" validate:"required"`
	AmountIn     string `json:"amountIn" validate:"required"`
	AmountOutMin string `json:"amountOutMin" validate:"required"`
	Recipient    string `json:"recipient,omitempty"`
}

// TradeShare is a completed trade published to the social contract.
type TradeShare struct {
	Trader    string `json:"trader,omitempty"`
	Strategy  string `json:"strategy"`
	AmountIn  string `json:"amountIn" validate:"required"`
	AmountOut string `json:"amountOut" validate:"required"`
	TokenIn   string `json:"tokenIn" validate:"required"`
	TokenOut  string `json:"tokenOut" validate:"required"`
}

// Swap is a decoded swap call.
type Swap struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int
	To           common.Address
}

// Share is a decoded shareTrade call.
type Share struct {
	Trader    common.Address
	Strategy  string
	AmountIn  *big.Int
	AmountOut *big.Int
	TokenIn   common.Address
	TokenOut  common.Address
}

// EncodeSwap builds swap(tokenIn, tokenOut, amountIn, amountOutMin, to).
func EncodeSwap(req SwapRequest) ([]byte, error) {
	tokenIn, err := ParseAddress("tokenIn", req.TokenIn)
	if err != nil {
		return nil, err
	}
	tokenOut, err := ParseAddress("tokenOut", req.TokenOut)
	if err != nil {
		return nil, err
	}
	recipient, err := ParseAddress("recipient", req.Recipient)
	if err != nil {
		return nil, err
	}
	amountIn, err := ParseAmount("amountIn", req.AmountIn)
	if err != nil {
		return nil, err
	}
	amountOutMin, err := ParseAmount("amountOutMin", req.AmountOutMin)
	if err != nil {
		return nil, err
	}

	data, err := DexAggregatorABI.Pack("swap", tokenIn, tokenOut, amountIn, amountOutMin, recipient)
	if err != nil {
		return nil, aaerr.Wrap(aaerr.InvalidOperation, aaerr.StageEncode, err, "cannot pack swap call")
	}
	return data, nil
}

// EncodeTradeShare builds shareTrade(trader, strategy, amountIn, amountOut,
// tokenIn, tokenOut).
func EncodeTradeShare(share TradeShare) ([]byte, error) {
	trader, err := ParseAddress("trader", share.Trader)
	if err != nil {
		return nil, err
	}
	amountIn, err := ParseAmount("amountIn", share.AmountIn)
	if err != nil {
		return nil, err
	}
	amountOut, err := ParseAmount("amountOut", share.AmountOut)
	if err != nil {
		return nil, err
	}
	tokenIn, err := ParseAddress("tokenIn", share.TokenIn)
	if err != nil {
		return nil, err
	}
	tokenOut, err := ParseAddress("tokenOut", share.TokenOut)
	if err != nil {
		return nil, err
	}

	data, err := SocialContractABI.Pack("shareTrade", trader, share.Strategy, amountIn, amountOut, tokenIn, tokenOut)
	if err != nil {
		return nil, aaerr.Wrap(aaerr.InvalidOperation, aaerr.StageEncode, err, "cannot pack shareTrade call")
	}
	return data, nil
}

// EncodeBestSwapQuery builds the read-only getBestSwap(tokenIn, tokenOut, amountIn) call.
func EncodeBestSwapQuery(tokenIn, tokenOut, amountIn string) ([]byte, error) {
	in, err := ParseAddress("tokenIn", tokenIn)
	if err != nil {
		return nil, err
	}
	out, err := ParseAddress("tokenOut", tokenOut)
	if err != nil {
		return nil, err
	}
	amount, err := ParseAmount("amountIn", amountIn)
	if err != nil {
		return nil, err
	}
	return DexAggregatorABI.Pack("getBestSwap", in, out, amount)
}

// DecodeBestSwap unpacks the getBestSwap return data.
func DecodeBestSwap(data []byte) (common.Address, *big.Int, error) {
	out, err := DexAggregatorABI.Unpack("getBestSwap", data)
	if err != nil {
		return common.Address{}, nil, err
	}
	if len(out) != 2 {
		return common.Address{}, nil, fmt.Errorf("unexpected getBestSwap output length %d", len(out))
	}
	return out[0].(common.Address), out[1].(*big.Int), nil
}

// EncodeTradesQuery builds the read-only getTrades(trader) call.
func EncodeTradesQuery(field, trader string) ([]byte, error) {
	address, err := ParseAddress(field, trader)
	if err != nil {
		return nil, err
	}
	return SocialContractABI.Pack("getTrades", address)
}

// DecodeTrades unpacks the trades a trader has shared.
func DecodeTrades(data []byte) ([]Share, error) {
	out, err := SocialContractABI.Unpack("getTrades", data)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected getTrades output length %d", len(out))
	}
	trades, ok := abi.ConvertType(out[0], new([]Share)).(*[]Share)
	if !ok {
		return nil, fmt.Errorf("unexpected getTrades output %T", out[0])
	}
	return *trades, nil
}

// DecodeSwap is the inverse of EncodeSwap.
func DecodeSwap(data []byte) (*Swap, error) {
	args, err := unpackInputs(DexAggregatorABI, "swap", data)
	if err != nil {
		return nil, err
	}
	return &Swap{
		TokenIn:      args[0].(common.Address),
		TokenOut:     args[1].(common.Address),
		AmountIn:     args[2].(*big.Int),
		AmountOutMin: args[3].(*big.Int),
		To:           args[4].(common.Address),
	}, nil
}

// DecodeTradeShare is the inverse of EncodeTradeShare.
func DecodeTradeShare(data []byte) (*Share, error) {
	args, err := unpackInputs(SocialContractABI, "shareTrade", data)
	if err != nil {
		return nil, err
	}
	return &Share{
		Trader:    args[0].(common.Address),
		Strategy:  args[1].(string),
		AmountIn:  args[2].(*big.Int),
		AmountOut: args[3].(*big.Int),
		TokenIn:   args[4].(common.Address),
		TokenOut:  args[5].(common.Address),
	}, nil
}

func unpackInputs(contract abi.ABI, name string, data []byte) ([]interface{}, error) {
	method := contract.Methods[name]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return nil, fmt.Errorf("calldata is not a %s() call", name)
	}
	return method.Inputs.Unpack(data[4:])
}

// ParseAddress validates a 0x-prefixed 20 byte hex address. Mixed-case
// input must carry a valid EIP-55 checksum; all lower or all upper case is
// taken as is.
func ParseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !has0xPrefix(value) || !common.IsHexAddress(value) {
		return common.Address{}, encodeErr(aaerr.AddressFormatError, field, fmt.Sprintf("%q is not a valid address", value))
	}

	digits := value[2:]
	if digits != strings.ToLower(digits) && digits != strings.ToUpper(digits) {
		mixed, err := common.NewMixedcaseAddressFromString(value)
		if err != nil || !mixed.ValidChecksum() {
			return common.Address{}, encodeErr(aaerr.AddressFormatError, field, fmt.Sprintf("%q has an invalid checksum", value))
		}
	}
	return common.HexToAddress(value), nil
}

// ParseAmount converts a human decimal string into base units on the fixed
// 18-decimal scale. "1.5" becomes 1500000000000000000. More than 18
// fractional digits of precision is an error, trailing zeros are not.
func ParseAmount(field, value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if !amountPattern.MatchString(value) {
		return nil, encodeErr(aaerr.AmountParseError, field, fmt.Sprintf("%q is not a non-negative decimal number", value))
	}

	if strings.HasPrefix(value, ".") {
		value = "0" + value
	}
	value = strings.TrimSuffix(value, ".")

	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, encodeErr(aaerr.AmountParseError, field, err.Error())
	}

	scaled := d.Shift(AmountDecimals)
	if !scaled.IsInteger() {
		return nil, encodeErr(aaerr.AmountParseError, field,
			fmt.Sprintf("%q has more than %d fractional digits", value, AmountDecimals))
	}
	amount := scaled.BigInt()
	if amount.BitLen() > 256 {
		return nil, encodeErr(aaerr.AmountParseError, field, fmt.Sprintf("%q does not fit in uint256", value))
	}
	return amount, nil
}

// FormatAmount renders base units on the 18-decimal scale back into a
// decimal string.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -AmountDecimals).String()
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func encodeErr(code aaerr.Code, field, msg string) *aaerr.Error {
	e := aaerr.ForField(code, field, msg)
	e.Stage = aaerr.StageEncode
	return e
}
