package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestEd25519ConversionsAgree(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	fromPub, err := X25519FromEd25519PublicKey(pub)
	if err != nil {
		t.Fatalf("public conversion: %v", err)
	}
	pair, err := KeyPairFromEd25519(priv)
	if err != nil {
		t.Fatalf("private conversion: %v", err)
	}
	if pair.PublicKey != fromPub {
		t.Fatal("public key converted from Ed25519 does not match scalar-base-mult of converted private key")
	}
}

func TestEd25519DerivedKeysOpenSealedTokens(t *testing.T) {
	_, senderEd, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	_, recipientEd, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sender, err := KeyPairFromEd25519(senderEd)
	if err != nil {
		t.Fatal(err)
	}
	recipient, err := KeyPairFromEd25519(recipientEd)
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("per-hop routing state")
	sealed, err := Seal(plaintext, &sender.PrivateKey, &recipient.PublicKey)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	opened, err := Open(sealed, &sender.PublicKey, &recipient.PrivateKey)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("opened %q, want %q", opened, plaintext)
	}
}

func TestEd25519ConversionRejectsBadSizes(t *testing.T) {
	if _, err := X25519FromEd25519PublicKey(make([]byte, 16)); err == nil {
		t.Fatal("expected error for short public key")
	}
	if _, err := X25519FromEd25519PrivateKey(make([]byte, 32)); err == nil {
		t.Fatal("expected error for short private key")
	}
}
