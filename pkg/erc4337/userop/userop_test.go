package userop

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
)

var (
	testEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	testChainID    = big.NewInt(689)
)

func sampleOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0xAAA0000000000000000000000000000000000001"),
		Nonce:                big.NewInt(3),
		InitCode:             nil,
		CallData:             common.FromHex("0xb61d27f6"),
		CallGasLimit:         big.NewInt(300000),
		VerificationGasLimit: big.NewInt(2000000),
		PreVerificationGas:   big.NewInt(100000),
		MaxFeePerGas:         big.NewInt(143383670882),
		MaxPriorityFeePerGas: big.NewInt(1088147254),
		PaymasterAndData:     common.FromHex("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d278900"),
	}
}

func TestGetUserOpHashMatchesManualComputation(t *testing.T) {
	op := sampleOp()

	expected := crypto.Keccak256Hash(
		crypto.Keccak256(op.Pack()),
		common.LeftPadBytes(testEntryPoint.Bytes(), 32),
		common.LeftPadBytes(testChainID.Bytes(), 32),
	)
	assert.Equal(t, expected, op.GetUserOpHash(testEntryPoint, testChainID))
}

func TestGetUserOpHashIgnoresSignature(t *testing.T) {
	op := sampleOp()
	before := op.GetUserOpHash(testEntryPoint, testChainID)

	op.Signature = common.FromHex("0xdeadbeef")
	assert.Equal(t, before, op.GetUserOpHash(testEntryPoint, testChainID))
}

func TestGetUserOpHashCoversEveryOtherField(t *testing.T) {
	base := sampleOp().GetUserOpHash(testEntryPoint, testChainID)

	mutations := map[string]func(op *UserOperation){
		"nonce":            func(op *UserOperation) { op.Nonce = big.NewInt(4) },
		"initCode":         func(op *UserOperation) { op.InitCode = []byte{0x01} },
		"callData":         func(op *UserOperation) { op.CallData = []byte{0x02} },
		"callGasLimit":     func(op *UserOperation) { op.CallGasLimit = big.NewInt(1) },
		"maxFeePerGas":     func(op *UserOperation) { op.MaxFeePerGas = big.NewInt(2) },
		"paymasterAndData": func(op *UserOperation) { op.PaymasterAndData = nil },
	}
	for name, mutate := range mutations {
		op := sampleOp()
		mutate(op)
		assert.NotEqual(t, base, op.GetUserOpHash(testEntryPoint, testChainID), name)
	}

	assert.NotEqual(t, base, sampleOp().GetUserOpHash(testEntryPoint, big.NewInt(1)))
}

func TestJSONUsesEvenLengthHex(t *testing.T) {
	op := sampleOp()
	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))

	for _, name := range []string{"initCode", "callData", "paymasterAndData", "signature"} {
		v := fields[name]
		require.True(t, strings.HasPrefix(v, "0x"), name)
		assert.Equal(t, 0, len(v)%2, name)
	}
	assert.Equal(t, "0x", fields["signature"])
	assert.Equal(t, "0x3", fields["nonce"])

	var decoded UserOperation
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, op.GetUserOpHash(testEntryPoint, testChainID), decoded.GetUserOpHash(testEntryPoint, testChainID))
}

func TestCopyIsIndependent(t *testing.T) {
	op := sampleOp()
	cp := op.Copy()
	cp.Nonce.SetInt64(99)
	cp.PaymasterAndData[0] = 0xff

	assert.Equal(t, int64(3), op.Nonce.Int64())
	assert.NotEqual(t, byte(0xff), op.PaymasterAndData[0])
}

func TestValidate(t *testing.T) {
	require.NoError(t, sampleOp().Validate())

	op := sampleOp()
	op.CallGasLimit = big.NewInt(-1)
	err := op.Validate()
	require.Error(t, err)
	assert.True(t, aaerr.HasCode(err, aaerr.InvalidOperation))

	op = sampleOp()
	op.Nonce = nil
	assert.Error(t, op.Validate())

	op = sampleOp()
	op.MaxPriorityFeePerGas = new(big.Int).Add(op.MaxFeePerGas, big.NewInt(1))
	assert.Error(t, op.Validate())
}
