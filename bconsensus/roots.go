package bconsensus

import (
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/bachledger/bach/bmerkle"
	"github.com/bachledger/bach/bsched"
)

var emptyTxRoot = func() []byte {
	h := blake2b.Sum256([]byte("bach:tx-root:empty"))
	return h[:]
}()

var emptyReceiptRoot = func() []byte {
	h := blake2b.Sum256([]byte("bach:receipt-root:empty"))
	return h[:]
}()

// EmptyTxRoot is the TxRoot of a block with no transactions.
func EmptyTxRoot() []byte {
	out := make([]byte, len(emptyTxRoot))
	copy(out, emptyTxRoot)
	return out
}

// EmptyReceiptRoot is the ReceiptRoot of a block with no transactions.
func EmptyReceiptRoot() []byte {
	out := make([]byte, len(emptyReceiptRoot))
	copy(out, emptyReceiptRoot)
	return out
}

func merkleRoot(leaves [][]byte) ([]byte, error) {
	return bmerkle.RootID(bmerkle.BlakeScheme{}, leaves)
}

// ReceiptRoot derives the Merkle root committing to the receipts
// of one block, in transaction order.
//
// Only the application-level outcome is committed.
// Receipt.Attempts is a local scheduling diagnostic and may differ
// between validators executing the same block, so it is excluded.
func ReceiptRoot(receipts []bsched.Receipt) ([]byte, error) {
	if len(receipts) == 0 {
		return EmptyReceiptRoot(), nil
	}

	leaves := make([][]byte, len(receipts))
	for i, r := range receipts {
		leaf := fmt.Appendf(nil, "%x/%d/%d/%q", r.TxHash[:], r.Status, r.GasUsed, r.Log)
		leaves[i] = leaf
	}
	return merkleRoot(leaves)
}
