package bcrypto

import "context"

// Signer produces signatures over consensus and transaction
// signing content. The private key may not live in this process,
// which is why [Signer] is an interface and not a key type.
type Signer interface {
	// PubKey returns the public key that verifies
	// this signer's signatures.
	PubKey() PubKey

	// Sign signs input and returns the signature.
	// The context bounds signers that call out to a remote
	// or hardware-backed key; local signers ignore it.
	Sign(ctx context.Context, input []byte) (signature []byte, err error)
}
