package round

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// WitnessVerifier checks one submitted witness against the coinjoin at the
// given input position. The prevout script and amount come from the
// admission check.
type WitnessVerifier func(tx *wire.MsgTx, inputIndex int, pkScript []byte, amount btcutil.Amount, witness wire.TxWitness) error

// VerifyInputWitness executes the input's script with the candidate witness
// attached. Runs on a copy so a failing witness never touches the shared
// transaction.
func VerifyInputWitness(tx *wire.MsgTx, inputIndex int, pkScript []byte, amount btcutil.Amount, witness wire.TxWitness) error {
	txCopy := tx.Copy()
	txCopy.TxIn[inputIndex].Witness = witness

	prevOuts := txscript.NewCannedPrevOutputFetcher(pkScript, int64(amount))
	hashCache := txscript.NewTxSigHashes(txCopy, prevOuts)

	vm, err := txscript.NewEngine(pkScript, txCopy, inputIndex,
		txscript.StandardVerifyFlags, nil, hashCache, int64(amount), prevOuts)
	if err != nil {
		return err
	}
	return vm.Execute()
}
