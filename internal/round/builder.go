package round

import (
	"crypto/rand"
	"math/big"

	"github.com/btcsuite/btcd/wire"
)

// BuildCoinJoin assembles the joint transaction from the current registries:
// one denomination output per output-claimer, then per input-provider one
// transaction input per claimed UTXO plus one change output. Inputs and
// outputs are shuffled independently so positions carry no correlation
// between the two sides. The result is stored as the round's coinjoin.
func (r *Round) BuildCoinJoin() *wire.MsgTx {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := wire.NewMsgTx(wire.TxVersion)
	denomination := r.denomination.Load()

	for _, b := range r.bobs {
		tx.AddTxOut(wire.NewTxOut(denomination, b.Script))
	}
	for _, a := range r.alices {
		for _, in := range a.Inputs {
			prev := in.OutPoint
			tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
		}
		tx.AddTxOut(wire.NewTxOut(int64(a.ChangeAmount), a.ChangeScript))
	}

	shuffle(tx.TxIn)
	shuffle(tx.TxOut)

	r.coinjoin = tx
	return tx
}

// shuffle applies a Fisher–Yates permutation drawn from crypto/rand.
func shuffle[T any](items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := cryptoRandIntn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

// cryptoRandIntn returns a uniform int in [0, n) from the system CSPRNG.
// crypto/rand.Int performs the rejection sampling; a read failure here means
// the OS entropy source is broken, which the scheduler's recovery handles.
func cryptoRandIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(err)
	}
	return int(v.Int64())
}
