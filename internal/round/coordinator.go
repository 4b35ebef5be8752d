package round

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"

	"github.com/rawblock/coinjoin-coordinator/internal/config"
	"github.com/rawblock/coinjoin-coordinator/pkg/models"
)

// EventSink receives one phase-change event per phase entry. The WebSocket
// hub implements it; tests use an in-memory recorder.
type EventSink interface {
	PublishPhaseChange(e models.PhaseChange)
}

// AuditSink receives a summary row when a round ends. Failures are logged
// and never perturb the round.
type AuditSink interface {
	SaveRoundSummary(ctx context.Context, s models.RoundSummary) error
}

// Coordinator owns the current round and drives it through the phase cycle.
// The scheduler goroutine (Run) is the only writer of phase, accepting,
// round id, fallback, and the phase-cancel signal; request handlers go
// through the exported registration operations.
type Coordinator struct {
	cfg    *config.Config
	fees   FeeRateSource
	rates  RateSource
	events EventSink
	audit  AuditSink

	inputCheck InputChecker
	verify     WitnessVerifier

	round *Round

	mu          sync.Mutex
	phaseCancel chan struct{}

	// Scheduler-goroutine state; never touched by handlers.
	nextFallback  bool
	prevDenom     btcutil.Amount
	havePrevDenom bool
	prevFeeIn     btcutil.Amount
	prevFeeOut    btcutil.Amount
	havePrevFees  bool
}

// NewCoordinator wires the coordinator. Every collaborator may be nil: a nil
// fee source prices fees off the configured fallback, a nil rate source
// forces the BTC-fixed denomination path, nil sinks drop events and audits.
func NewCoordinator(cfg *config.Config, fees FeeRateSource, rateSrc RateSource, events EventSink, audit AuditSink) *Coordinator {
	c := &Coordinator{
		cfg:    cfg,
		fees:   fees,
		rates:  rateSrc,
		events: events,
		audit:  audit,
		verify: VerifyInputWitness,
		round:  NewRound(),
	}
	// Seed the adaptive target so the first round opens at the minimum:
	// the seeded duration exceeds the average, which steps the target down
	// onto the floor.
	c.round.anonymityTarget.Store(int64(cfg.MinAnonymitySet))
	c.round.setInputRegistrationDuration(cfg.AverageInputRegistration + time.Second)
	return c
}

// SetInputChecker installs the UTXO admission hook.
func (c *Coordinator) SetInputChecker(ic InputChecker) { c.inputCheck = ic }

// SetWitnessVerifier replaces the default script-engine verification.
func (c *Coordinator) SetWitnessVerifier(v WitnessVerifier) { c.verify = v }

// Round exposes the shared round handle to request handlers.
func (c *Coordinator) Round() *Round { return c.round }

// ── Handler-facing operations ──────────────────────────────────────

// RegisterInput admits an input-provider: runs the admission hook on every
// claimed UTXO, registers the entry, and cuts InputRegistration short once
// the anonymity target is reached. Returns the id the client uses for all
// later requests.
func (c *Coordinator) RegisterInput(ctx context.Context, inputs []Input, changeScript []byte) (uuid.UUID, error) {
	if c.inputCheck != nil {
		for i := range inputs {
			script, err := c.inputCheck.CheckInput(ctx, inputs[i].OutPoint, inputs[i].Amount)
			if err != nil {
				return uuid.Nil, fmt.Errorf("%w: input %s: %v", ErrValidation, inputs[i].OutPoint, err)
			}
			inputs[i].PkScript = script
		}
	}

	a, err := c.round.RegisterAlice(inputs, changeScript)
	if err != nil {
		return uuid.Nil, err
	}
	if c.round.AliceCount() >= c.round.AnonymityTarget() {
		log.Printf("[Registry] Round %d: anonymity target %d reached, advancing",
			c.round.ID(), c.round.AnonymityTarget())
		c.AdvancePhase()
	}
	return a.ID, nil
}

// ConfirmConnection marks the input-provider as present and cuts the phase
// short once every provider has confirmed.
func (c *Coordinator) ConfirmConnection(id uuid.UUID) error {
	if err := c.round.ConfirmConnection(id); err != nil {
		return err
	}
	if c.round.AllConfirmed() {
		c.AdvancePhase()
	}
	return nil
}

// RegisterOutput appends an output-claimer and cuts the phase short once
// claimers match providers.
func (c *Coordinator) RegisterOutput(script []byte) error {
	if err := c.round.RegisterBob(script); err != nil {
		return err
	}
	if c.round.BobCount() >= c.round.AliceCount() {
		c.AdvancePhase()
	}
	return nil
}

// SubmitSignature records one witness and cuts Signing short once the
// coinjoin is fully signed.
func (c *Coordinator) SubmitSignature(id uuid.UUID, inputIndex int, witness wire.TxWitness) error {
	if err := c.round.SubmitSignature(id, inputIndex, witness, c.verify); err != nil {
		return err
	}
	if c.round.FullySigned() {
		log.Printf("[Registry] Round %d: coinjoin fully signed", c.round.ID())
		c.AdvancePhase()
	}
	return nil
}

// Status snapshots the current round for the API.
func (c *Coordinator) Status() models.RoundStatus {
	r := c.round
	return models.RoundStatus{
		RoundID:           r.ID(),
		Phase:             r.Phase().String(),
		Accepting:         r.Accepting(),
		Fallback:          r.Fallback(),
		Denomination:      int64(r.Denomination()),
		FeePerInput:       int64(r.FeePerInput()),
		FeePerOutput:      int64(r.FeePerOutput()),
		AnonymityTarget:   r.AnonymityTarget(),
		RegisteredInputs:  r.AliceCount(),
		RegisteredOutputs: r.BobCount(),
	}
}

// AdvancePhase fires the phase-cancel signal, releasing the scheduler's
// current timed wait so it transitions immediately. Safe from any
// goroutine and idempotent within a phase.
func (c *Coordinator) AdvancePhase() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phaseCancel == nil {
		return
	}
	select {
	case <-c.phaseCancel:
	default:
		close(c.phaseCancel)
	}
}

// armPhaseCancel installs a fresh single-shot cancel for the phase about to
// open. Called by the scheduler only.
func (c *Coordinator) armPhaseCancel() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phaseCancel = make(chan struct{})
	return c.phaseCancel
}

// ── Round-parameter computation ────────────────────────────────────

// refreshParameters computes this round's denomination, fees, and anonymity
// target. Provider failures degrade to retained or configured values; the
// round always starts.
func (c *Coordinator) refreshParameters(ctx context.Context) {
	r := c.round

	target := adaptAnonymityTarget(r.AnonymityTarget(), r.InputRegistrationDuration(),
		c.cfg.AverageInputRegistration, c.cfg.MinAnonymitySet, c.cfg.MaxAnonymitySet)

	denom := c.computeDenomination(ctx)
	feeIn, feeOut := c.computeFees(ctx)

	r.setParameters(denom, feeIn, feeOut, target)
	log.Printf("[Scheduler] Round %d parameters: denomination=%v feePerInput=%v feePerOutput=%v anonymityTarget=%d",
		r.ID(), denom, feeIn, feeOut, target)
}

func (c *Coordinator) configuredDenomination() btcutil.Amount {
	amt, err := btcutil.NewAmount(c.cfg.DenominationBTC)
	if err != nil {
		log.Printf("[Scheduler] Invalid configured denomination %v: %v", c.cfg.DenominationBTC, err)
		return 0
	}
	return amt
}

func (c *Coordinator) computeDenomination(ctx context.Context) btcutil.Amount {
	if c.cfg.DenominationAlgorithm != config.DenominationFixedUSD {
		return c.configuredDenomination()
	}

	denom, err := c.fetchUSDDenomination(ctx)
	if err != nil {
		if c.havePrevDenom {
			log.Printf("[Scheduler] Exchange rate unavailable (%v); keeping previous denomination %v", err, c.prevDenom)
			return c.prevDenom
		}
		log.Printf("[Scheduler] Exchange rate unavailable (%v); using configured denomination", err)
		return c.configuredDenomination()
	}
	c.prevDenom = denom
	c.havePrevDenom = true
	return denom
}

func (c *Coordinator) fetchUSDDenomination(ctx context.Context) (btcutil.Amount, error) {
	if c.rates == nil {
		return 0, ErrExternalUnavailable
	}
	list, err := c.rates.GetExchangeRates(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExternalUnavailable, err)
	}
	price, err := selectUSDRate(list)
	if err != nil {
		return 0, err
	}
	return usdDenomination(c.cfg.DenominationUSD, price)
}

func (c *Coordinator) computeFees(ctx context.Context) (btcutil.Amount, btcutil.Amount) {
	var (
		rate float64
		err  error
	)
	if c.fees != nil {
		rate, err = c.fees.FeeRateBTCPerKvB(ctx)
	} else {
		err = ErrExternalUnavailable
	}

	if err != nil || rate <= 0 {
		if c.havePrevFees {
			log.Printf("[Scheduler] Fee estimator unavailable (%v); keeping previous fees", err)
			return c.prevFeeIn, c.prevFeeOut
		}
		log.Printf("[Scheduler] Fee estimator unavailable (%v); using fallback %d sat/byte", err, c.cfg.FallbackSatPerByte)
		return feesFromFallback(c.cfg.FallbackSatPerByte)
	}

	feeIn, feeOut := feesFromRate(rate)
	c.prevFeeIn, c.prevFeeOut = feeIn, feeOut
	c.havePrevFees = true
	return feeIn, feeOut
}
