// Package btx defines the signed transaction type
// and its canonical hashing and signing content.
package btx

import (
	"bytes"
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/blake2b"

	"github.com/bachledger/bach/bcrypto"
	"github.com/bachledger/bach/bstate"
)

// Transaction is one signed state transition request.
//
// Transactions are value types; the byte-slice fields
// must not be mutated after construction.
type Transaction struct {
	// Nonce must equal the sender account's nonce at execution time.
	Nonce uint64

	// To is the destination account.
	To bstate.Address

	// Value is the amount transferred to the destination.
	Value *uint256.Int

	// GasLimit bounds the execution cost the sender will pay for.
	GasLimit uint64

	// Data is the opaque payload interpreted by the executor.
	Data []byte

	// PubKey identifies the sender; the sender address derives from it.
	PubKey bcrypto.PubKey

	// Signature is the sender's signature over [Transaction.SigningContent].
	Signature []byte
}

// Hash returns the canonical transaction hash,
// covering the signature so that two differently-signed copies
// of the same content have distinct hashes.
func (tx Transaction) Hash() [32]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to create blake2b hasher: %w", err))
	}

	h.Write(tx.SigningContent())
	h.Write(tx.Signature)

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// SigningContent returns the canonical byte representation of tx
// that the sender signs. The signature field is excluded.
func (tx Transaction) SigningContent() []byte {
	var buf bytes.Buffer

	var val [32]byte
	if tx.Value != nil {
		val = tx.Value.Bytes32()
	}

	var pub []byte
	if tx.PubKey != nil {
		pub = tx.PubKey.PubKeyBytes()
	}

	fmt.Fprintf(
		&buf,
		`TX
Nonce: %d
To: %x
Value: %x
GasLimit: %d
Data: %x
Sender: %x
`,
		tx.Nonce, tx.To[:], val[:], tx.GasLimit, tx.Data, pub,
	)

	return buf.Bytes()
}

// Sender returns the account address derived from the transaction's
// public key.
func (tx Transaction) Sender() bstate.Address {
	return bstate.AddressFromPubKey(tx.PubKey)
}

// VerifySignature reports whether the signature is valid
// for the transaction's content and public key.
func (tx Transaction) VerifySignature() bool {
	if tx.PubKey == nil {
		return false
	}
	return tx.PubKey.Verify(tx.SigningContent(), tx.Signature)
}

// Sign populates the PubKey and Signature fields using s.
func (tx *Transaction) Sign(ctx context.Context, s bcrypto.Signer) error {
	tx.PubKey = s.PubKey()

	sig, err := s.Sign(ctx, tx.SigningContent())
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}

	tx.Signature = sig
	return nil
}
