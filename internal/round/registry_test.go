package round

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
)

func testOutPoint(tag byte, index uint32) wire.OutPoint {
	var h chainhash.Hash
	h[0] = tag
	return wire.OutPoint{Hash: h, Index: index}
}

// openRound returns a round accepting input registrations with known
// parameters: denomination 0.01 BTC, 680 sat per input, 330 sat per output.
func openRound() *Round {
	r := NewRound()
	r.reset(false)
	r.setParameters(1_000_000, 680, 330, 2)
	r.setAccepting(true)
	return r
}

func TestRegisterAliceRoundTrip(t *testing.T) {
	r := openRound()

	inputs := []Input{
		{OutPoint: testOutPoint(1, 0), Amount: 2_000_000},
		{OutPoint: testOutPoint(2, 1), Amount: 1_000_000},
	}
	a, err := r.RegisterAlice(inputs, []byte{0x51})
	if err != nil {
		t.Fatalf("RegisterAlice failed: %v", err)
	}
	if a.ID == uuid.Nil {
		t.Error("Expected a non-nil registration id")
	}

	// 3,000,000 - 1,000,000 denomination - 2*680 input fees - 330 output fee
	wantChange := btcutil.Amount(1_998_310)
	if a.ChangeAmount != wantChange {
		t.Errorf("Expected change %d, got %d", wantChange, a.ChangeAmount)
	}
	if a.State() != AliceRegistered {
		t.Errorf("Expected state Registered, got %v", a.State())
	}

	found, err := r.FindAlice(a.ID)
	if err != nil {
		t.Fatalf("FindAlice failed: %v", err)
	}
	if found != a {
		t.Error("Lookup by id returned a different entry")
	}
}

func TestRegisterAliceWrongPhase(t *testing.T) {
	r := openRound()
	r.setPhase(PhaseConnectionConfirmation)

	_, err := r.RegisterAlice([]Input{{OutPoint: testOutPoint(1, 0), Amount: 2_000_000}}, []byte{0x51})
	if !errors.Is(err, ErrWrongPhase) {
		t.Errorf("Expected ErrWrongPhase, got %v", err)
	}
}

func TestRegisterAliceNotAccepting(t *testing.T) {
	r := openRound()
	r.setAccepting(false)

	_, err := r.RegisterAlice([]Input{{OutPoint: testOutPoint(1, 0), Amount: 2_000_000}}, []byte{0x51})
	if !errors.Is(err, ErrWrongPhase) {
		t.Errorf("Expected ErrWrongPhase when not accepting, got %v", err)
	}
}

func TestRegisterAliceInsufficientFunds(t *testing.T) {
	r := openRound()

	// 1,000,000 covers the denomination but not the fees.
	_, err := r.RegisterAlice([]Input{{OutPoint: testOutPoint(1, 0), Amount: 1_000_000}}, []byte{0x51})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for insufficient inputs, got %v", err)
	}
	if r.AliceCount() != 0 {
		t.Errorf("Rejected registration must not mutate the round; have %d entries", r.AliceCount())
	}
}

func TestRegisterAliceDuplicateOutpoint(t *testing.T) {
	r := openRound()

	op := testOutPoint(7, 0)
	if _, err := r.RegisterAlice([]Input{{OutPoint: op, Amount: 2_000_000}}, []byte{0x51}); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	_, err := r.RegisterAlice([]Input{{OutPoint: op, Amount: 2_000_000}}, []byte{0x52})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for duplicate outpoint, got %v", err)
	}
}

func TestConfirmConnection(t *testing.T) {
	r := openRound()
	a, err := r.RegisterAlice([]Input{{OutPoint: testOutPoint(1, 0), Amount: 2_000_000}}, []byte{0x51})
	if err != nil {
		t.Fatalf("RegisterAlice failed: %v", err)
	}

	if err := r.ConfirmConnection(a.ID); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("Expected ErrWrongPhase confirming during InputRegistration, got %v", err)
	}

	r.setPhase(PhaseConnectionConfirmation)
	if err := r.ConfirmConnection(uuid.New()); !errors.Is(err, ErrUnknownID) {
		t.Errorf("Expected ErrUnknownID, got %v", err)
	}
	if err := r.ConfirmConnection(a.ID); err != nil {
		t.Fatalf("ConfirmConnection failed: %v", err)
	}
	if a.State() != AliceConnectionConfirmed {
		t.Errorf("Expected state ConnectionConfirmed, got %v", a.State())
	}
	if !r.AllConfirmed() {
		t.Error("Expected AllConfirmed after the only entry confirmed")
	}
}

func TestRegisterBobAdmission(t *testing.T) {
	r := openRound()
	if _, err := r.RegisterAlice([]Input{{OutPoint: testOutPoint(1, 0), Amount: 2_000_000}}, []byte{0x51}); err != nil {
		t.Fatalf("RegisterAlice failed: %v", err)
	}

	if err := r.RegisterBob([]byte{0xaa}); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("Expected ErrWrongPhase outside OutputRegistration, got %v", err)
	}

	r.setPhase(PhaseOutputRegistration)
	r.setAccepting(true)

	if err := r.RegisterBob([]byte{0xaa}); err != nil {
		t.Fatalf("RegisterBob failed: %v", err)
	}

	// Same script again: silently dropped, still a success.
	if err := r.RegisterBob([]byte{0xaa}); err != nil {
		t.Fatalf("Duplicate output script must be a no-op success, got %v", err)
	}
	if r.BobCount() != 1 {
		t.Errorf("Expected 1 output-claimer after duplicate, got %d", r.BobCount())
	}

	// One provider registered, so a second distinct claimer is over capacity.
	if err := r.RegisterBob([]byte{0xbb}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation once claimers match providers, got %v", err)
	}
}

func TestSubmitSignature(t *testing.T) {
	r := openRound()
	a, err := r.RegisterAlice([]Input{{OutPoint: testOutPoint(1, 0), Amount: 2_000_000}}, []byte{0x51})
	if err != nil {
		t.Fatalf("RegisterAlice failed: %v", err)
	}

	witness := wire.TxWitness{[]byte{0x01}}
	if err := r.SubmitSignature(a.ID, 0, witness, nil); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("Expected ErrWrongPhase before Signing, got %v", err)
	}

	r.setPhase(PhaseSigning)
	tx := r.BuildCoinJoin()
	r.setAccepting(true)

	if err := r.SubmitSignature(a.ID, len(tx.TxIn), witness, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for out-of-range index, got %v", err)
	}
	if err := r.SubmitSignature(uuid.New(), 0, witness, nil); !errors.Is(err, ErrUnknownID) {
		t.Errorf("Expected ErrUnknownID, got %v", err)
	}

	if err := r.SubmitSignature(a.ID, 0, witness, nil); err != nil {
		t.Fatalf("SubmitSignature failed: %v", err)
	}
	if a.State() != AliceSigned {
		t.Errorf("Expected state Signed after the only input was witnessed, got %v", a.State())
	}
	if !r.FullySigned() {
		t.Error("Expected FullySigned with every input witnessed")
	}
}

func TestSubmitSignatureRejectedByVerifier(t *testing.T) {
	r := openRound()
	a, err := r.RegisterAlice([]Input{{
		OutPoint: testOutPoint(1, 0),
		Amount:   2_000_000,
		PkScript: []byte{0x00, 0x14},
	}}, []byte{0x51})
	if err != nil {
		t.Fatalf("RegisterAlice failed: %v", err)
	}
	r.setPhase(PhaseSigning)
	r.BuildCoinJoin()

	reject := func(tx *wire.MsgTx, idx int, pkScript []byte, amount btcutil.Amount, w wire.TxWitness) error {
		return errors.New("bad signature")
	}
	err = r.SubmitSignature(a.ID, 0, wire.TxWitness{[]byte{0x01}}, reject)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation from verifier rejection, got %v", err)
	}
	if r.FullySigned() {
		t.Error("Rejected witness must not count toward completeness")
	}
}
