package round

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
)

// Round is the coordinator's single mutable round. Request handlers hold it
// for the process lifetime; the scheduler resets it at each entry into
// InputRegistration and is the only writer of the scalar fields. Scalars are
// atomics so handlers read them without taking the registry lock; writes of
// id, phase, accepting and fallback happen under mu so they order with entry
// insertion, while the round parameters and registration duration are stored
// without it.
type Round struct {
	id        atomic.Uint64
	phase     atomic.Int32
	accepting atomic.Bool
	fallback  atomic.Bool

	denomination    atomic.Int64 // Satoshis
	feePerInput     atomic.Int64 // Satoshis
	feePerOutput    atomic.Int64 // Satoshis
	anonymityTarget atomic.Int64

	// inputRegDuration holds the wall-clock duration of the most recent
	// non-fallback InputRegistration phase, in nanoseconds.
	inputRegDuration atomic.Int64

	mu       sync.RWMutex
	alices   []*Alice
	aliceIDs map[uuid.UUID]*Alice
	bobs     []*Bob
	bobSeen  map[string]struct{}
	coinjoin *wire.MsgTx
}

// NewRound returns an empty round positioned before its first reset. The
// scheduler seeds the anonymity target and registration duration before
// driving it.
func NewRound() *Round {
	r := &Round{}
	r.resetEntries()
	return r
}

func (r *Round) resetEntries() {
	r.alices = nil
	r.aliceIDs = make(map[uuid.UUID]*Alice)
	r.bobs = nil
	r.bobSeen = make(map[string]struct{})
	r.coinjoin = nil
}

// reset begins a new round: fresh entry sets, cleared coinjoin, incremented
// id, fallback flag carried in from the previous round's outcome. The
// anonymity target and registration duration survive across resets.
func (r *Round) reset(fallback bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id.Add(1)
	r.fallback.Store(fallback)
	r.accepting.Store(false)
	r.phase.Store(int32(PhaseInputRegistration))
	r.resetEntries()
}

func (r *Round) ID() uint64      { return r.id.Load() }
func (r *Round) Phase() Phase    { return Phase(r.phase.Load()) }
func (r *Round) Accepting() bool { return r.accepting.Load() }
func (r *Round) Fallback() bool  { return r.fallback.Load() }

func (r *Round) AnonymityTarget() int {
	return int(r.anonymityTarget.Load())
}

func (r *Round) Denomination() btcutil.Amount {
	return btcutil.Amount(r.denomination.Load())
}

func (r *Round) FeePerInput() btcutil.Amount {
	return btcutil.Amount(r.feePerInput.Load())
}

func (r *Round) FeePerOutput() btcutil.Amount {
	return btcutil.Amount(r.feePerOutput.Load())
}

// InputRegistrationDuration returns the duration of the most recent
// non-fallback InputRegistration phase.
func (r *Round) InputRegistrationDuration() time.Duration {
	return time.Duration(r.inputRegDuration.Load())
}

// setAccepting is scheduler-only; taken under mu so the flip orders with
// in-flight registrations.
func (r *Round) setAccepting(v bool) {
	r.mu.Lock()
	r.accepting.Store(v)
	r.mu.Unlock()
}

// setPhase atomically closes admissions and replaces the phase tag. The
// scheduler fires the phase-cancel signal immediately after.
func (r *Round) setPhase(p Phase) {
	r.mu.Lock()
	r.accepting.Store(false)
	r.phase.Store(int32(p))
	r.mu.Unlock()
}

func (r *Round) setParameters(denom, feeIn, feeOut btcutil.Amount, anonTarget int) {
	r.denomination.Store(int64(denom))
	r.feePerInput.Store(int64(feeIn))
	r.feePerOutput.Store(int64(feeOut))
	r.anonymityTarget.Store(int64(anonTarget))
}

func (r *Round) setInputRegistrationDuration(d time.Duration) {
	r.inputRegDuration.Store(int64(d))
}

// AliceCount returns the number of registered input-providers.
func (r *Round) AliceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.alices)
}

// BobCount returns the number of registered output-claimers.
func (r *Round) BobCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bobs)
}

// CoinJoin returns the assembled joint transaction, or nil outside Signing.
func (r *Round) CoinJoin() *wire.MsgTx {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.coinjoin
}

func (r *Round) clearCoinJoin() {
	r.mu.Lock()
	r.coinjoin = nil
	r.mu.Unlock()
}

// AllConfirmed reports whether every registered input-provider has confirmed
// its connection. Vacuously true for an empty round.
func (r *Round) AllConfirmed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.alices {
		if a.State() < AliceConnectionConfirmed {
			return false
		}
	}
	return true
}

// FullySigned reports whether the coinjoin exists and every input carries a
// non-empty witness.
func (r *Round) FullySigned() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.coinjoin == nil {
		return false
	}
	for _, in := range r.coinjoin.TxIn {
		if len(in.Witness) == 0 {
			return false
		}
	}
	return true
}
