package bconsensus

import "github.com/bachledger/bach/bcrypto"

// HashScheme defines how the engine derives its identifying hashes.
type HashScheme interface {
	// Header calculates and returns the header hash,
	// without consulting or modifying the Hash field on the header.
	Header(Header) ([]byte, error)

	// PubKeys calculates and returns the hash
	// of the ordered set of public keys.
	PubKeys([]bcrypto.PubKey) ([]byte, error)

	// VotePowers calculates and returns the hash
	// of the ordered set of voting power,
	// mapped 1:1 with the ordered set of public keys.
	VotePowers([]uint64) ([]byte, error)
}
