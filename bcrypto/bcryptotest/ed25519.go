package bcryptotest

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/bachledger/bach/bcrypto"
)

var (
	muEd sync.Mutex

	generatedEd25519 []ed25519.PrivateKey
)

// DeterministicEd25519Signers returns a deterministic slice of ed25519 signer values.
//
// There are two advantages to using deterministic keys.
// First, subsequent runs of the same test will use the same keys,
// so logs involving keys or IDs will not change across runs,
// simplifying the debugging process.
// Second, the generated keys are cached,
// so there is effectively zero CPU time cost for additional tests
// calling this function, beyond the first call.
func DeterministicEd25519Signers(n int) []bcrypto.Ed25519Signer {
	muEd.Lock()
	defer muEd.Unlock()

	for i := len(generatedEd25519); i < n; i++ {
		seed := blake2b.Sum256(fmt.Appendf(nil, "bach:ed25519:%d", i))
		generatedEd25519 = append(generatedEd25519, ed25519.NewKeyFromSeed(seed[:]))
	}

	res := make([]bcrypto.Ed25519Signer, n)
	for i := range res {
		res[i] = bcrypto.NewEd25519Signer(generatedEd25519[i])
	}
	return res
}
