package token

import "golang.org/x/crypto/curve25519"

// curve25519ScalarBaseMult derives the Curve25519 public key matching a
// given private scalar, i.e. priv * basepoint. box.GenerateKey already does
// this internally for freshly generated keys; this helper exists so that a
// private key loaded from configuration (not freshly generated) can still
// produce its public counterpart, the same role Ed25519PubKeyToX25519 plays
// for a converted identity key.
func curve25519ScalarBaseMult(dst, priv *[32]byte) {
	curve25519.ScalarBaseMult(dst, priv)
}
