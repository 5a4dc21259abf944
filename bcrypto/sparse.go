package bcrypto

// SparseSignature is a single signature
// with a compact reference to the key that produced it,
// as stored in commit proofs.
//
// The KeyID meaning is deliberately unspecified here;
// in commit proofs it is the big-endian index
// of the validator within the set that signed.
type SparseSignature struct {
	KeyID []byte

	Sig []byte
}
