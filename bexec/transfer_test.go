package bexec_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/bachledger/bach/bcrypto/bcryptotest"
	"github.com/bachledger/bach/bexec"
	"github.com/bachledger/bach/bsched"
	"github.com/bachledger/bach/bstate"
	"github.com/bachledger/bach/btx"
)

// plainView adapts a bare map of accounts to the executor's view,
// without any scheduling machinery.
type plainView struct {
	accounts map[bstate.Address]bstate.Account
}

func newPlainView() *plainView {
	return &plainView{accounts: make(map[bstate.Address]bstate.Account)}
}

func (v *plainView) GetAccount(addr bstate.Address) (bstate.Account, error) {
	if a, ok := v.accounts[addr]; ok {
		return a.Clone(), nil
	}
	return bstate.ZeroAccount(), nil
}

func (v *plainView) SetAccount(addr bstate.Address, acct bstate.Account) error {
	v.accounts[addr] = acct.Clone()
	return nil
}

func (v *plainView) GetStorage(bstate.Address, [32]byte) (uint256.Int, error) {
	return uint256.Int{}, nil
}

func (v *plainView) SetStorage(bstate.Address, [32]byte, uint256.Int) error {
	return nil
}

func fund(v *plainView, addr bstate.Address, balance uint64) {
	a := bstate.ZeroAccount()
	a.Balance.SetUint64(balance)
	v.accounts[addr] = a
}

func TestTransferExecutor_MovesValue(t *testing.T) {
	t.Parallel()

	signers := bcryptotest.DeterministicEd25519Signers(2)
	sender := bstate.AddressFromPubKey(signers[0].PubKey())
	dest := bstate.AddressFromPubKey(signers[1].PubKey())

	v := newPlainView()
	fund(v, sender, 100)

	tx := btx.Transaction{Nonce: 0, To: dest, Value: uint256.NewInt(30), GasLimit: 21_000}
	require.NoError(t, tx.Sign(context.Background(), signers[0]))

	res, err := bexec.TransferExecutor{}.ExecuteTx(context.Background(), v, tx)
	require.NoError(t, err)
	require.Equal(t, bsched.StatusSuccess, res.Status)

	from, _ := v.GetAccount(sender)
	to, _ := v.GetAccount(dest)
	require.Equal(t, uint64(70), from.Balance.Uint64())
	require.Equal(t, uint64(1), from.Nonce)
	require.Equal(t, uint64(30), to.Balance.Uint64())
}

func TestTransferExecutor_SelfTransferAdvancesNonceOnly(t *testing.T) {
	t.Parallel()

	signers := bcryptotest.DeterministicEd25519Signers(1)
	sender := bstate.AddressFromPubKey(signers[0].PubKey())

	v := newPlainView()
	fund(v, sender, 100)

	tx := btx.Transaction{Nonce: 0, To: sender, Value: uint256.NewInt(40), GasLimit: 21_000}
	require.NoError(t, tx.Sign(context.Background(), signers[0]))

	res, err := bexec.TransferExecutor{}.ExecuteTx(context.Background(), v, tx)
	require.NoError(t, err)
	require.Equal(t, bsched.StatusSuccess, res.Status)

	got, _ := v.GetAccount(sender)
	require.Equal(t, uint64(100), got.Balance.Uint64())
	require.Equal(t, uint64(1), got.Nonce)
}

func TestTransferExecutor_Failures(t *testing.T) {
	t.Parallel()

	signers := bcryptotest.DeterministicEd25519Signers(2)
	sender := bstate.AddressFromPubKey(signers[0].PubKey())
	dest := bstate.AddressFromPubKey(signers[1].PubKey())
	ctx := context.Background()

	for _, tc := range []struct {
		name    string
		balance uint64
		mutate  func(*btx.Transaction)
		reason  string
	}{
		{
			name:    "insufficient balance",
			balance: 10,
			mutate:  func(*btx.Transaction) {},
			reason:  "insufficient balance",
		},
		{
			name:    "wrong nonce",
			balance: 100,
			mutate:  func(tx *btx.Transaction) { tx.Nonce = 9 },
			reason:  "nonce mismatch",
		},
		{
			name:    "gas limit too low",
			balance: 100,
			mutate:  func(tx *btx.Transaction) { tx.GasLimit = 1 },
			reason:  "gas limit",
		},
		{
			name:    "tampered signature",
			balance: 100,
			mutate:  func(*btx.Transaction) {},
			reason:  "invalid signature",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			v := newPlainView()
			fund(v, sender, tc.balance)

			tx := btx.Transaction{Nonce: 0, To: dest, Value: uint256.NewInt(30), GasLimit: 21_000}
			tc.mutate(&tx)
			require.NoError(t, tx.Sign(ctx, signers[0]))
			if tc.name == "tampered signature" {
				tx.Signature[0] ^= 1
			}

			res, err := bexec.TransferExecutor{}.ExecuteTx(ctx, v, tx)
			require.NoError(t, err)
			require.Equal(t, bsched.StatusFailed, res.Status)
			require.Contains(t, res.Log, tc.reason)

			got, _ := v.GetAccount(sender)
			require.Zero(t, got.Nonce, "failed transaction must not change state")
			require.Equal(t, tc.balance, got.Balance.Uint64())
		})
	}
}

var _ bsched.StateView = (*plainView)(nil)
