// Package bexec contains the built-in transaction executors.
package bexec

import (
	"context"
	"fmt"

	"github.com/bachledger/bach/bsched"
	"github.com/bachledger/bach/btx"
)

// transferGas is the flat cost charged for a value transfer.
const transferGas = 21_000

// TransferExecutor applies plain value transfers:
// it validates the signature and nonce, moves Value from the sender
// to the destination, and increments the sender's nonce.
//
// A transaction that fails validation reports a failed [bsched.ExecResult]
// without touching state, except that a wrong-signature transaction
// never reaches state at all.
type TransferExecutor struct{}

var _ bsched.Executor = TransferExecutor{}

func (TransferExecutor) ExecuteTx(
	_ context.Context, view bsched.StateView, tx btx.Transaction,
) (bsched.ExecResult, error) {
	if !tx.VerifySignature() {
		return failed("invalid signature"), nil
	}
	if tx.GasLimit < transferGas {
		return failed("gas limit below transfer cost"), nil
	}

	sender := tx.Sender()
	from, err := view.GetAccount(sender)
	if err != nil {
		return bsched.ExecResult{}, fmt.Errorf("failed to load sender account: %w", err)
	}

	if from.Nonce != tx.Nonce {
		return failed(fmt.Sprintf("nonce mismatch: account at %d, transaction has %d", from.Nonce, tx.Nonce)), nil
	}
	if tx.Value != nil && from.Balance.Lt(tx.Value) {
		return failed("insufficient balance"), nil
	}

	from.Nonce++

	// A self-transfer only advances the nonce.
	if sender == tx.To {
		if err := view.SetAccount(sender, from); err != nil {
			return bsched.ExecResult{}, err
		}
		return bsched.ExecResult{Status: bsched.StatusSuccess, GasUsed: transferGas}, nil
	}

	to, err := view.GetAccount(tx.To)
	if err != nil {
		return bsched.ExecResult{}, fmt.Errorf("failed to load destination account: %w", err)
	}

	if tx.Value != nil {
		from.Balance.Sub(from.Balance, tx.Value)
		to.Balance.Add(to.Balance, tx.Value)
	}

	if err := view.SetAccount(sender, from); err != nil {
		return bsched.ExecResult{}, err
	}
	if err := view.SetAccount(tx.To, to); err != nil {
		return bsched.ExecResult{}, err
	}

	return bsched.ExecResult{Status: bsched.StatusSuccess, GasUsed: transferGas}, nil
}

func failed(reason string) bsched.ExecResult {
	return bsched.ExecResult{Status: bsched.StatusFailed, GasUsed: transferGas, Log: reason}
}
