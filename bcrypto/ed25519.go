package bcrypto

import (
	"context"
	"crypto/ed25519"
	"fmt"
)

const ed25519TypeName = "ed25519"

// RegisterEd25519 makes ed25519 keys decodable through reg.
// Validator keys and transaction sender keys are both ed25519,
// so every registry in this chain registers it;
// there is no global registry.
func RegisterEd25519(reg *Registry) {
	reg.Register(ed25519TypeName, Ed25519PubKey{}, NewEd25519PubKey)
}

// Ed25519PubKey is the public half of a validator or account key.
type Ed25519PubKey ed25519.PublicKey

// NewEd25519PubKey wraps b as an ed25519 public key.
// It rejects input of the wrong length, so corrupt wire data
// surfaces at decode time rather than as a silent
// verification failure later.
func NewEd25519PubKey(b []byte) (PubKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf(
			"ed25519 public key must be %d bytes, got %d",
			ed25519.PublicKeySize, len(b),
		)
	}
	return Ed25519PubKey(b), nil
}

func (e Ed25519PubKey) PubKeyBytes() []byte {
	return []byte(e)
}

func (e Ed25519PubKey) Verify(msg, sig []byte) bool {
	if len(e) != ed25519.PublicKeySize {
		// An unchecked conversion from a short slice;
		// ed25519.Verify would panic on it.
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(e), msg, sig)
}

func (e Ed25519PubKey) Equal(other PubKey) bool {
	o, ok := other.(Ed25519PubKey)
	if !ok {
		return false
	}

	return ed25519.PublicKey(e).Equal(ed25519.PublicKey(o))
}

func (e Ed25519PubKey) TypeName() string {
	return ed25519TypeName
}

// Ed25519Signer signs with an in-process ed25519 private key.
// Validator fixtures and single-binary nodes use it directly;
// a production deployment could substitute a [Signer]
// backed by remote key storage.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  Ed25519PubKey
}

func NewEd25519Signer(priv ed25519.PrivateKey) Ed25519Signer {
	return Ed25519Signer{
		priv: priv,
		pub:  Ed25519PubKey(priv.Public().(ed25519.PublicKey)),
	}
}

func (s Ed25519Signer) PubKey() PubKey {
	return s.pub
}

// Sign signs input directly; ed25519 hashes internally,
// so the input is the raw signing content.
// The context is unused for a local key.
func (s Ed25519Signer) Sign(_ context.Context, input []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, input), nil
}
