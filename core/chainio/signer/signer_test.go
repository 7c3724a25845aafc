package signer

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestKeySignerRoundTrip(t *testing.T) {
	s, err := FromPrivateKeyHex(testKey)
	require.NoError(t, err)

	owner, err := s.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), owner)

	hash := crypto.Keccak256Hash([]byte("user operation"))
	sig, err := s.SignHash(context.Background(), hash)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.True(t, sig[64] == 27 || sig[64] == 28)

	recovered, err := RecoverAddress(hash.Bytes(), sig)
	require.NoError(t, err)
	assert.Equal(t, owner, recovered)
}

func TestKeySignerWithoutKeyIsUnavailable(t *testing.T) {
	var s *KeySigner
	_, err := s.Address(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = NewKeySigner(nil).SignHash(context.Background(), common.Hash{})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestFromPrivateKeyHexRejectsGarbage(t *testing.T) {
	_, err := FromPrivateKeyHex("0xnotakey")
	assert.Error(t, err)
}

func TestSignHashHonorsCancelledContext(t *testing.T) {
	s, err := FromPrivateKeyHex(testKey)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.SignHash(ctx, common.Hash{})
	assert.ErrorIs(t, err, context.Canceled)
}
