package token

import (
	"crypto/rand"

	"golang.org/x/crypto/nacl/box"
)

// Seal encrypts plaintext for recipientPublicKey, authenticated as having
// come from the holder of senderPrivateKey. Returns
// [nonce(24) || ciphertext || mac(16)], the crypto_box sealed envelope.
//
// Production code never calls this directly for flow/continue/server
// tokens — those are minted by the route controller, out of scope here —
// but it is exercised by the controller-fixture helpers used in client
// and server tests.
func Seal(plaintext []byte, senderPrivateKey, recipientPublicKey *[32]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	sealed := box.Seal(nonce[:], plaintext, &nonce, recipientPublicKey, senderPrivateKey)
	return sealed, nil
}

// Open decrypts a blob produced by Seal, verifying it was sent by the
// holder of senderPublicKey to the holder of recipientPrivateKey.
func Open(sealed []byte, senderPublicKey, recipientPrivateKey *[32]byte) ([]byte, error) {
	if len(sealed) < NonceSize+MACSize {
		return nil, ErrSealedTooShort
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:NonceSize])
	plaintext, ok := box.Open(nil, sealed[NonceSize:], &nonce, senderPublicKey, recipientPrivateKey)
	if !ok {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// OpenFlowToken opens a sealed FlowToken addressed to the holder of
// recipientPrivateKey from the route controller's master public key.
func OpenFlowToken(sealed []byte, controllerPublicKey, recipientPrivateKey *[32]byte) (FlowToken, error) {
	plaintext, err := Open(sealed, controllerPublicKey, recipientPrivateKey)
	if err != nil {
		return FlowToken{}, err
	}
	return UnmarshalFlowToken(plaintext)
}

// SealFlowToken is the controller-side counterpart of OpenFlowToken, used
// only by test fixtures that stand in for the (out-of-scope) route
// controller.
func SealFlowToken(t FlowToken, controllerPrivateKey, recipientPublicKey *[32]byte) ([]byte, error) {
	plaintext, err := t.Marshal()
	if err != nil {
		return nil, err
	}
	return Seal(plaintext, controllerPrivateKey, recipientPublicKey)
}

// OpenContinueToken opens a sealed ContinueToken.
func OpenContinueToken(sealed []byte, controllerPublicKey, recipientPrivateKey *[32]byte) (ContinueToken, error) {
	plaintext, err := Open(sealed, controllerPublicKey, recipientPrivateKey)
	if err != nil {
		return ContinueToken{}, err
	}
	return UnmarshalContinueToken(plaintext)
}

// SealContinueToken is the controller-side counterpart of OpenContinueToken.
func SealContinueToken(t ContinueToken, controllerPrivateKey, recipientPublicKey *[32]byte) ([]byte, error) {
	return Seal(t.Marshal(), controllerPrivateKey, recipientPublicKey)
}

// OpenServerToken opens a sealed ServerToken.
func OpenServerToken(sealed []byte, controllerPublicKey, recipientPrivateKey *[32]byte) (ServerToken, error) {
	plaintext, err := Open(sealed, controllerPublicKey, recipientPrivateKey)
	if err != nil {
		return ServerToken{}, err
	}
	return UnmarshalServerToken(plaintext)
}

// SealServerToken is the controller-side counterpart of OpenServerToken.
func SealServerToken(t ServerToken, controllerPrivateKey, recipientPublicKey *[32]byte) ([]byte, error) {
	return Seal(t.Marshal(), controllerPrivateKey, recipientPublicKey)
}
