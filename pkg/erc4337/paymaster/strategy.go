// Package paymaster implements the gas payment strategies a smart account can
// use and the NERO paymaster JSON-RPC API behind them.
package paymaster

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
	"github.com/nerotrade/aaswap/pkg/erc4337/userop"
)

// StrategyKind is the payment type tag the paymaster understands.
type StrategyKind uint8

const (
	// Sponsored operations are paid for entirely by the paymaster.
	Sponsored StrategyKind = 0
	// Prepay charges the fee in an ERC-20 token before execution.
	Prepay StrategyKind = 1
	// Postpay charges the fee in an ERC-20 token after execution.
	Postpay StrategyKind = 2
)

func (k StrategyKind) String() string {
	switch k {
	case Sponsored:
		return "sponsored"
	case Prepay:
		return "prepay"
	case Postpay:
		return "postpay"
	}
	return fmt.Sprintf("StrategyKind(%d)", uint8(k))
}

// Strategy selects how an operation's gas is paid. Token is only meaningful
// for Prepay and Postpay.
type Strategy struct {
	Kind  StrategyKind
	Token common.Address
}

func SponsoredStrategy() Strategy { return Strategy{Kind: Sponsored} }

func PrepayStrategy(token common.Address) Strategy {
	return Strategy{Kind: Prepay, Token: token}
}

func PostpayStrategy(token common.Address) Strategy {
	return Strategy{Kind: Postpay, Token: token}
}

// NeedsToken reports whether the strategy pays in an ERC-20 token.
func (s Strategy) NeedsToken() bool {
	return s.Kind == Prepay || s.Kind == Postpay
}

func (s Strategy) String() string {
	if s.NeedsToken() {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Token.Hex())
	}
	return s.Kind.String()
}

// Validate checks the kind is known and a token is set when required.
func (s Strategy) Validate() error {
	switch s.Kind {
	case Sponsored:
		return nil
	case Prepay, Postpay:
		if s.Token == (common.Address{}) {
			e := aaerr.ForField(aaerr.MissingToken, "token", fmt.Sprintf("%s requires a payment token", s.Kind))
			e.Stage = aaerr.StageNegotiate
			return e
		}
		return nil
	}
	e := aaerr.ForField(aaerr.InvalidOperation, "strategy", fmt.Sprintf("unknown payment type %d", uint8(s.Kind)))
	e.Stage = aaerr.StageNegotiate
	return e
}

// ParseStrategy accepts a payment type by name or tag ("sponsored" or "0",
// "prepay" or "1", "postpay" or "2") and an optional token address.
func ParseStrategy(kind, token string) (Strategy, error) {
	var k StrategyKind
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "0", "sponsored", "free", "freepay":
		k = Sponsored
	case "1", "prepay":
		k = Prepay
	case "2", "postpay":
		k = Postpay
	default:
		e := aaerr.ForField(aaerr.InvalidOperation, "strategy", fmt.Sprintf("unknown payment type %q", kind))
		e.Stage = aaerr.StageNegotiate
		return Strategy{}, e
	}

	s := Strategy{Kind: k}
	if k != Sponsored && token != "" {
		if !common.IsHexAddress(token) {
			e := aaerr.ForField(aaerr.AddressFormatError, "token", fmt.Sprintf("%q is not a valid address", token))
			e.Stage = aaerr.StageNegotiate
			return Strategy{}, e
		}
		s.Token = common.HexToAddress(token)
	}
	return s, s.Validate()
}

// Negotiator writes the paymasterAndData field for a chosen strategy.
type Negotiator struct {
	paymaster common.Address
}

func NewNegotiator(paymaster common.Address) *Negotiator {
	return &Negotiator{paymaster: paymaster}
}

func (n *Negotiator) Paymaster() common.Address { return n.paymaster }

// Apply returns a copy of draft carrying the strategy in paymasterAndData:
// paymaster(20) || type(1) for Sponsored and paymaster(20) || type(1) ||
// token(20) for token strategies. The draft itself is never modified.
func (n *Negotiator) Apply(draft *userop.UserOperation, strategy Strategy) (*userop.UserOperation, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, aaerr.Wrap(aaerr.InvalidOperation, aaerr.StageNegotiate, nil, "no operation to negotiate")
	}

	op := draft.Copy()
	op.PaymasterAndData = EncodePaymasterAndData(n.paymaster, strategy)
	return op, nil
}

// EncodePaymasterAndData is the raw encoding used by Apply.
func EncodePaymasterAndData(paymaster common.Address, strategy Strategy) []byte {
	data := make([]byte, 0, common.AddressLength*2+1)
	data = append(data, paymaster.Bytes()...)
	data = append(data, byte(strategy.Kind))
	if strategy.NeedsToken() {
		data = append(data, strategy.Token.Bytes()...)
	}
	return data
}

// DecodePaymasterAndData recovers the paymaster and strategy from a
// negotiated operation. Data the paymaster signed on top of that prefix is
// ignored.
func DecodePaymasterAndData(data []byte) (common.Address, Strategy, error) {
	if len(data) < common.AddressLength+1 {
		return common.Address{}, Strategy{}, fmt.Errorf("paymasterAndData too short: %d bytes", len(data))
	}

	paymaster := common.BytesToAddress(data[:common.AddressLength])
	s := Strategy{Kind: StrategyKind(data[common.AddressLength])}
	if s.NeedsToken() {
		rest := data[common.AddressLength+1:]
		if len(rest) < common.AddressLength {
			return paymaster, s, fmt.Errorf("paymasterAndData for %s is missing the token", s.Kind)
		}
		s.Token = common.BytesToAddress(rest[:common.AddressLength])
	}
	return paymaster, s, s.Validate()
}
