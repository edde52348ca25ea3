// Package cryptoutil implements the Crypto capability the networking core
// treats as a pure-function collaborator: key generation, signing,
// verification, and address derivation. It is grounded on
// github.com/ethereum/go-ethereum/crypto (secp256k1 + Keccak256), the same
// primitive suite the rest of the dependency graph already pulls in.
package cryptoutil

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/concilium-chain/witnessd/internal/wire"
)

// KeyPair is a secp256k1 key pair.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// CreateKeyPair generates a fresh secp256k1 key pair.
func CreateKeyPair() (*KeyPair, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: generate key: %w", err)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// PublicKeyBytes returns the uncompressed SEC1 encoding of pub.
func PublicKeyBytes(pub *ecdsa.PublicKey) []byte {
	return crypto.FromECDSAPub(pub)
}

// Address derives the 20-byte account address from a public key: the
// low-order 20 bytes of Keccak256(publicKey), mirroring the convention the
// rest of the dependency graph (go-ethereum, and the pack repos built on
// it) already uses for address derivation.
func Address(publicKey []byte) wire.Address {
	if len(publicKey) == 65 && publicKey[0] == 0x04 {
		// Like go-ethereum, hash the coordinates without the SEC1 prefix.
		publicKey = publicKey[1:]
	}
	sum := crypto.Keccak256(publicKey)
	var addr wire.Address
	copy(addr[:], sum[len(sum)-20:])
	return addr
}

// Sign produces a recoverable secp256k1 signature over a 32-byte digest.
func Sign(digest []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: sign: %w", err)
	}
	return sig, nil
}

// Verify checks a recoverable secp256k1 signature over a 32-byte digest
// against a raw (uncompressed) public key.
func Verify(digest, signature, publicKey []byte) bool {
	if len(signature) < 64 {
		return false
	}
	return crypto.VerifySignature(publicKey, digest, signature[:64])
}
