// Package token implements the sealed credential model the route
// controller uses to hand out per-hop routing state: flow tokens (one per
// relay hop, carrying the hop's symmetric key and next-hop address),
// continue tokens (extend a flow without rotating keys) and server tokens
// (opaque acknowledgement blobs echoed back to the controller).
//
// Sealing uses Curve25519 authenticated encryption between a sender
// keypair and a recipient keypair — libsodium's crypto_box construction
// (X25519 + XSalsa20-Poly1305). The
// data plane only ever opens tokens addressed to itself; it never seals
// one (that's the route controller's job, out of scope here, mirrored by
// this package's Open-only production API plus a Seal used by tests and
// by the synthetic controller fixtures).
package token

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// PublicKeySize and PrivateKeySize are the Curve25519 key sizes used for
// token sealing.
const (
	PublicKeySize  = 32
	PrivateKeySize = 32
	// NonceSize and MACSize describe the sealed-form envelope:
	// nonce || ciphertext || mac.
	NonceSize = 24
	MACSize   = 16
)

var (
	ErrInvalidPublicKey  = errors.New("token: invalid public key size")
	ErrInvalidPrivateKey = errors.New("token: invalid private key size")
	ErrSealedTooShort    = errors.New("token: sealed blob too short")
	ErrOpenFailed        = errors.New("token: failed to open (wrong key or corrupted data)")
)

// KeyPair holds a Curve25519 keypair used for token sealing. The data
// plane never verifies a signature — route tokens are opened by
// possession of the recipient's private key — but nodes that carry an
// Ed25519 identity can derive their token keypair from it (identity.go).
type KeyPair struct {
	PublicKey  [PublicKeySize]byte
	PrivateKey [PrivateKeySize]byte
}

// GenerateKeyPair creates a new random Curve25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("token: failed to generate key pair: %w", err)
	}
	return &KeyPair{PublicKey: *pub, PrivateKey: *priv}, nil
}

// KeyPairFromPrivateKey reconstructs a KeyPair from a raw 32-byte private
// key, deriving the matching public key via scalar multiplication against
// the Curve25519 base point.
func KeyPairFromPrivateKey(priv []byte) (*KeyPair, error) {
	if len(priv) != PrivateKeySize {
		return nil, ErrInvalidPrivateKey
	}
	var sk [PrivateKeySize]byte
	copy(sk[:], priv)
	var pk [PublicKeySize]byte
	curve25519ScalarBaseMult(&pk, &sk)
	return &KeyPair{PublicKey: pk, PrivateKey: sk}, nil
}
