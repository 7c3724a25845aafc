package paymaster

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
	"github.com/nerotrade/aaswap/pkg/erc4337/userop"
)

var (
	paymasterAddr = common.HexToAddress("0x5a6680dFd4a77FEea0A7be291147768EaA2414ad")
	tokenAddr     = common.HexToAddress("0xC86Fed58edF0981e927160C50ecB8a8B05B32fed")
)

func draftOp() *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Nonce:                big.NewInt(7),
		CallData:             []byte{0x01, 0x02},
		CallGasLimit:         big.NewInt(300000),
		VerificationGasLimit: big.NewInt(2000000),
		PreVerificationGas:   big.NewInt(100000),
		MaxFeePerGas:         big.NewInt(0x2162553062),
		MaxPriorityFeePerGas: big.NewInt(0x40dbcf36),
	}
}

func TestApplyStrategies(t *testing.T) {
	n := NewNegotiator(paymasterAddr)

	cases := []struct {
		name     string
		strategy Strategy
		want     []byte
	}{
		{"sponsored", SponsoredStrategy(), append(paymasterAddr.Bytes(), 0x00)},
		{"sponsored ignores token", Strategy{Kind: Sponsored, Token: tokenAddr}, append(paymasterAddr.Bytes(), 0x00)},
		{"prepay", PrepayStrategy(tokenAddr), append(append(paymasterAddr.Bytes(), 0x01), tokenAddr.Bytes()...)},
		{"postpay", PostpayStrategy(tokenAddr), append(append(paymasterAddr.Bytes(), 0x02), tokenAddr.Bytes()...)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			draft := draftOp()
			op, err := n.Apply(draft, tc.strategy)
			require.NoError(t, err)
			assert.Equal(t, tc.want, op.PaymasterAndData)

			// Only paymasterAndData differs from the draft, which stays untouched.
			assert.Empty(t, draft.PaymasterAndData)
			op.PaymasterAndData = nil
			assert.Equal(t, draft, op)

			pm, decoded, err := DecodePaymasterAndData(tc.want)
			require.NoError(t, err)
			assert.Equal(t, paymasterAddr, pm)
			assert.Equal(t, tc.strategy.Kind, decoded.Kind)
		})
	}
}

func TestApplyIsExclusive(t *testing.T) {
	n := NewNegotiator(paymasterAddr)

	first, err := n.Apply(draftOp(), PrepayStrategy(tokenAddr))
	require.NoError(t, err)
	second, err := n.Apply(first, SponsoredStrategy())
	require.NoError(t, err)

	assert.Len(t, second.PaymasterAndData, 21)
	_, s, err := DecodePaymasterAndData(second.PaymasterAndData)
	require.NoError(t, err)
	assert.Equal(t, SponsoredStrategy(), s)
}

func TestApplyMissingToken(t *testing.T) {
	n := NewNegotiator(paymasterAddr)

	for _, s := range []Strategy{{Kind: Prepay}, {Kind: Postpay}} {
		op, err := n.Apply(draftOp(), s)
		assert.Nil(t, op)
		assert.True(t, aaerr.HasCode(err, aaerr.MissingToken), err)
		assert.Equal(t, aaerr.StageNegotiate, aaerr.StageOf(err))
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("", "")
	require.NoError(t, err)
	assert.Equal(t, SponsoredStrategy(), s)

	s, err = ParseStrategy("1", tokenAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, PrepayStrategy(tokenAddr), s)

	s, err = ParseStrategy("postpay", tokenAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, PostpayStrategy(tokenAddr), s)

	s, err = ParseStrategy("sponsored", tokenAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, s.Token)

	_, err = ParseStrategy("prepay", "")
	assert.True(t, aaerr.HasCode(err, aaerr.MissingToken))

	_, err = ParseStrategy("prepay", "0xnope")
	assert.True(t, aaerr.HasCode(err, aaerr.AddressFormatError))

	_, err = ParseStrategy("barter", "")
	assert.True(t, aaerr.HasCode(err, aaerr.InvalidOperation))
}

func TestDecodePaymasterAndDataErrors(t *testing.T) {
	_, _, err := DecodePaymasterAndData(paymasterAddr.Bytes())
	assert.Error(t, err)

	_, _, err = DecodePaymasterAndData(append(paymasterAddr.Bytes(), 0x01))
	assert.Error(t, err)

	// Trailing paymaster signature is ignored.
	data := append(append(paymasterAddr.Bytes(), 0x00), make([]byte, 65)...)
	_, s, err := DecodePaymasterAndData(data)
	require.NoError(t, err)
	assert.Equal(t, Sponsored, s.Kind)
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "sponsored", SponsoredStrategy().String())
	assert.Equal(t, "prepay("+tokenAddr.Hex()+")", PrepayStrategy(tokenAddr).String())
	assert.Equal(t, "StrategyKind(9)", StrategyKind(9).String())
}
