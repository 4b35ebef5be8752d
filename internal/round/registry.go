package round

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
)

// Input is one UTXO an input-provider claims to control. PkScript is filled
// in by the admission check when one is configured; without it, witness
// verification at signing time is skipped for that input.
type Input struct {
	OutPoint wire.OutPoint
	Amount   btcutil.Amount
	PkScript []byte
}

// AliceState tracks an input-provider through the round.
type AliceState int

const (
	AliceRegistered AliceState = iota
	AliceConnectionConfirmed
	AliceSigned
)

// Alice is a registered input-provider: its claimed inputs, its change
// output, and the witnesses it has submitted so far. The coordinator
// generates the ID at registration and returns it to the client as the
// only handle for later requests.
type Alice struct {
	ID           uuid.UUID
	Inputs       []Input
	ChangeScript []byte
	ChangeAmount btcutil.Amount

	mu        sync.Mutex
	state     AliceState
	witnessed map[int]struct{} // coinjoin input indices already signed
}

func (a *Alice) State() AliceState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Alice) confirm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == AliceRegistered {
		a.state = AliceConnectionConfirmed
	}
}

// recordWitness marks one coinjoin input index as signed and flips the
// state to Signed once every claimed input is covered.
func (a *Alice) recordWitness(txIndex int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.witnessed == nil {
		a.witnessed = make(map[int]struct{})
	}
	a.witnessed[txIndex] = struct{}{}
	if len(a.witnessed) >= len(a.Inputs) {
		a.state = AliceSigned
	}
}

func (a *Alice) ownsOutPoint(op wire.OutPoint) (Input, bool) {
	for _, in := range a.Inputs {
		if in.OutPoint == op {
			return in, true
		}
	}
	return Input{}, false
}

// Bob is a registered output-claimer: a single opaque script that will
// receive one denomination-sized output. Bobs carry no identity.
type Bob struct {
	Script []byte
}

// RegisterAlice admits an input-provider. Only succeeds while
// InputRegistration is accepting. The registry checks the amount arithmetic
// only; UTXO existence is the admission hook's job and runs before this.
func (r *Round) RegisterAlice(inputs []Input, changeScript []byte) (*Alice, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one input is required", ErrValidation)
	}
	if len(changeScript) == 0 {
		return nil, fmt.Errorf("%w: change script must not be empty", ErrValidation)
	}

	var sum btcutil.Amount
	for _, in := range inputs {
		if in.Amount <= 0 {
			return nil, fmt.Errorf("%w: input %s has non-positive amount", ErrValidation, in.OutPoint)
		}
		sum += in.Amount
	}
	change := sum - r.Denomination() - r.FeePerInput()*btcutil.Amount(len(inputs)) - r.FeePerOutput()
	if change < 0 {
		return nil, fmt.Errorf("%w: inputs total %v cannot cover denomination plus fees", ErrValidation, sum)
	}

	a := &Alice{
		ID:           uuid.New(),
		Inputs:       inputs,
		ChangeScript: changeScript,
		ChangeAmount: change,
		state:        AliceRegistered,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Phase gate re-checked under the lock: a transition closes admissions
	// before the scheduler proceeds, so no entry lands after it.
	if Phase(r.phase.Load()) != PhaseInputRegistration || !r.accepting.Load() {
		return nil, ErrWrongPhase
	}
	for _, existing := range r.alices {
		for _, in := range inputs {
			if _, dup := existing.ownsOutPoint(in.OutPoint); dup {
				return nil, fmt.Errorf("%w: input %s is already registered", ErrValidation, in.OutPoint)
			}
		}
	}
	r.alices = append(r.alices, a)
	r.aliceIDs[a.ID] = a
	return a, nil
}

// FindAlice looks an input-provider up by its registration id.
func (r *Round) FindAlice(id uuid.UUID) (*Alice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.aliceIDs[id]
	if !ok {
		return nil, ErrUnknownID
	}
	return a, nil
}

// ConfirmConnection marks an input-provider as still present. Only valid
// during ConnectionConfirmation.
func (r *Round) ConfirmConnection(id uuid.UUID) error {
	if r.Phase() != PhaseConnectionConfirmation {
		return ErrWrongPhase
	}
	a, err := r.FindAlice(id)
	if err != nil {
		return err
	}
	a.confirm()
	return nil
}

// RegisterBob appends an output-claimer. Only succeeds while
// OutputRegistration is accepting and while claimers do not outnumber
// providers. A script already registered is silently dropped: output
// scripts form a set, and a repeat registration is a no-op success.
func (r *Round) RegisterBob(script []byte) error {
	if len(script) == 0 {
		return fmt.Errorf("%w: output script must not be empty", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if Phase(r.phase.Load()) != PhaseOutputRegistration || !r.accepting.Load() {
		return ErrWrongPhase
	}
	if _, seen := r.bobSeen[string(script)]; seen {
		return nil
	}
	if len(r.bobs) >= len(r.alices) {
		return fmt.Errorf("%w: every registered input-provider already has an output", ErrValidation)
	}
	r.bobs = append(r.bobs, &Bob{Script: script})
	r.bobSeen[string(script)] = struct{}{}
	return nil
}

// SubmitSignature records one witness at the given coinjoin input position.
// The position must be owned by the identified input-provider, and the
// witness must pass the verifier when the prevout script is known.
func (r *Round) SubmitSignature(id uuid.UUID, inputIndex int, witness wire.TxWitness, verify WitnessVerifier) error {
	if r.Phase() != PhaseSigning {
		return ErrWrongPhase
	}
	a, err := r.FindAlice(id)
	if err != nil {
		return err
	}
	if len(witness) == 0 {
		return fmt.Errorf("%w: empty witness", ErrValidation)
	}

	r.mu.Lock()
	tx := r.coinjoin
	if tx == nil {
		r.mu.Unlock()
		return ErrWrongPhase
	}
	if inputIndex < 0 || inputIndex >= len(tx.TxIn) {
		r.mu.Unlock()
		return fmt.Errorf("%w: input index %d out of range", ErrValidation, inputIndex)
	}
	in, owned := a.ownsOutPoint(tx.TxIn[inputIndex].PreviousOutPoint)
	if !owned {
		r.mu.Unlock()
		return fmt.Errorf("%w: input %d does not belong to this registration", ErrValidation, inputIndex)
	}
	r.mu.Unlock()

	// Verification runs outside the registry lock; script execution is the
	// expensive part of signing.
	if verify != nil && len(in.PkScript) > 0 {
		if err := verify(tx, inputIndex, in.PkScript, in.Amount, witness); err != nil {
			return fmt.Errorf("%w: witness rejected at input %d: %v", ErrValidation, inputIndex, err)
		}
	}

	r.mu.Lock()
	if r.coinjoin != tx {
		// Round moved on while the witness was being verified.
		r.mu.Unlock()
		return ErrWrongPhase
	}
	tx.TxIn[inputIndex].Witness = witness
	r.mu.Unlock()

	a.recordWitness(inputIndex)
	return nil
}
