package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	sdkecdsa "github.com/Layr-Labs/eigensdk-go/crypto/ecdsa"
)

const (
	eip191Prefix = "\x19Ethereum Signed Message:\n"
)

var (
	// ErrUnavailable is returned when the signer cannot produce its identity,
	// for example a disconnected wallet.
	ErrUnavailable = errors.New("signer unavailable")
	// ErrRejected is returned when the owner declines to sign.
	ErrRejected = errors.New("signature rejected")
)

// Identity is the owner of a smart account. The pipeline only ever asks it
// for its address and for a signature over a user operation hash.
type Identity interface {
	Address(ctx context.Context) (common.Address, error)
	SignHash(ctx context.Context, hash common.Hash) ([]byte, error)
}

// KeySigner is an Identity backed by a local ECDSA key. It signs the EIP-191
// prefixed hash, which is what SimpleAccount.validateUserOp recovers against.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

// FromPrivateKeyHex parses a hex private key, with or without 0x prefix.
func FromPrivateKeyHex(privateKeyHex string) (*KeySigner, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid owner private key: %w", err)
	}

	return NewKeySigner(privateKey), nil
}

// FromKeystore decrypts an encrypted JSON keystore file.
func FromKeystore(path, password string) (*KeySigner, error) {
	privateKey, err := sdkecdsa.ReadKey(path, password)
	if err != nil {
		return nil, fmt.Errorf("cannot read owner keystore %s: %w", path, err)
	}

	return NewKeySigner(privateKey), nil
}

func (s *KeySigner) Address(ctx context.Context) (common.Address, error) {
	if s == nil || s.key == nil {
		return common.Address{}, ErrUnavailable
	}
	return crypto.PubkeyToAddress(s.key.PublicKey), nil
}

func (s *KeySigner) SignHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return SignMessage(s.key, hash.Bytes())
}

// Generate EIP191 signature
func SignMessage(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	hash := HashMessage(data)
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, err
	}
	// https://stackoverflow.com/questions/69762108/implementing-ethereum-personal-sign-eip-191-from-go-ethereum-gives-different-s
	sig[64] += 27

	return sig, nil
}

// HashMessage returns the EIP-191 personal message hash of data.
func HashMessage(data []byte) common.Hash {
	prefix := []byte(eip191Prefix + fmt.Sprint(len(data)))
	return crypto.Keccak256Hash(append(prefix, data...))
}

// RecoverAddress returns the signer of an EIP-191 signature produced by SignMessage.
func RecoverAddress(data []byte, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	normalized := append([]byte{}, sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(HashMessage(data).Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
