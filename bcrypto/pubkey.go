package bcrypto

// PubKey is the minimal interface the rest of the system
// needs to verify signatures produced by a validator or a patient device.
type PubKey interface {
	// PubKeyBytes returns the raw bytes of the public key.
	PubKeyBytes() []byte

	// Equal reports whether other is the same key.
	Equal(other PubKey) bool

	// Verify reports whether sig is a valid signature of msg by this key.
	Verify(msg, sig []byte) bool

	// TypeName returns the short name of the key type,
	// used when marshaling through a [Registry].
	TypeName() string
}
