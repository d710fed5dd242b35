package token

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
)

// Deployments that already issue Ed25519 identities to their nodes can
// reuse them for the token box: the conversions below derive the X25519
// keypair the sealed-token construction needs from an Ed25519 identity,
// so one key distribution covers both signing elsewhere in the overlay
// and token opening here.

// X25519FromEd25519PublicKey converts an Ed25519 public key to its
// X25519 (Curve25519) equivalent, suitable as a token-box recipient key.
func X25519FromEd25519PublicKey(edPubKey []byte) ([PublicKeySize]byte, error) {
	var out [PublicKeySize]byte
	if len(edPubKey) != ed25519.PublicKeySize {
		return out, ErrInvalidPublicKey
	}
	point, err := new(edwards25519.Point).SetBytes(edPubKey)
	if err != nil {
		return out, fmt.Errorf("token: invalid Ed25519 public key: %w", err)
	}
	copy(out[:], point.BytesMontgomery())
	return out, nil
}

// X25519FromEd25519PrivateKey converts an Ed25519 private key to its
// X25519 equivalent per RFC 8032: SHA-512 the seed, then clamp.
func X25519FromEd25519PrivateKey(edPrivKey ed25519.PrivateKey) ([PrivateKeySize]byte, error) {
	var out [PrivateKeySize]byte
	if len(edPrivKey) != ed25519.PrivateKeySize {
		return out, ErrInvalidPrivateKey
	}
	h := sha512.Sum512(edPrivKey.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	copy(out[:], h[:32])
	return out, nil
}

// KeyPairFromEd25519 derives the full X25519 KeyPair matching an Ed25519
// identity key. The public half is re-derived from the converted private
// scalar rather than converted from the Ed25519 public key, so the pair
// is guaranteed internally consistent.
func KeyPairFromEd25519(edPrivKey ed25519.PrivateKey) (*KeyPair, error) {
	sk, err := X25519FromEd25519PrivateKey(edPrivKey)
	if err != nil {
		return nil, err
	}
	var pk [PublicKeySize]byte
	curve25519ScalarBaseMult(&pk, &sk)
	return &KeyPair{PublicKey: pk, PrivateKey: sk}, nil
}
