package round

import (
	"context"
	"log"
	"time"

	"github.com/rawblock/coinjoin-coordinator/pkg/models"
)

// Run drives rounds forever until ctx is canceled. Per-round faults set the
// fallback flag and restart at InputRegistration; the coordinator never
// stops making forward progress on its own.
func (c *Coordinator) Run(ctx context.Context) {
	log.Println("[Scheduler] Coordinator phase loop started")
	for ctx.Err() == nil {
		c.runRound(ctx)
	}
	log.Println("[Scheduler] Coordinator phase loop stopped")
}

func (c *Coordinator) runRound(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[Scheduler] Round %d fault: %v; restarting with fallback", c.round.ID(), rec)
			c.nextFallback = true
		}
	}()

	r := c.round
	r.reset(c.nextFallback)
	c.nextFallback = false

	c.refreshParameters(ctx)

	// ── InputRegistration ──────────────────────────────────────
	cancel := c.armPhaseCancel()
	r.setAccepting(true)
	c.publish("Input registration is open")
	started := time.Now()
	c.wait(ctx, c.cfg.InputRegistrationTimeout, cancel)
	if !r.Fallback() {
		r.setInputRegistrationDuration(time.Since(started))
	}
	if ctx.Err() != nil {
		return
	}
	c.setPhase(PhaseConnectionConfirmation)

	// ── ConnectionConfirmation ─────────────────────────────────
	cancel = c.armPhaseCancel()
	c.publish("Confirm your connection")
	c.wait(ctx, c.cfg.ConnectionConfirmationTimeout, cancel)
	if ctx.Err() != nil {
		return
	}
	if !r.AllConfirmed() {
		log.Printf("[Scheduler] Round %d: not all inputs confirmed; restarting with fallback", r.ID())
		c.nextFallback = true
		c.finishRound(false, "")
		return
	}
	c.setPhase(PhaseOutputRegistration)

	// ── OutputRegistration ─────────────────────────────────────
	// Never falls back: output-claimers are anonymous, so non-registration
	// cannot be attributed to any input-provider.
	cancel = c.armPhaseCancel()
	r.setAccepting(true)
	c.publish("Output registration is open")
	c.wait(ctx, c.cfg.OutputRegistrationTimeout, cancel)
	if ctx.Err() != nil {
		return
	}
	c.setPhase(PhaseSigning)

	// ── Signing ────────────────────────────────────────────────
	tx := r.BuildCoinJoin()
	log.Printf("[Scheduler] Round %d: coinjoin built with %d inputs, %d outputs",
		r.ID(), len(tx.TxIn), len(tx.TxOut))
	cancel = c.armPhaseCancel()
	r.setAccepting(true)
	c.publish("Coinjoin is ready to sign")
	c.wait(ctx, c.cfg.SigningTimeout, cancel)
	if ctx.Err() != nil {
		return
	}

	signed := r.FullySigned()
	txid := ""
	if signed {
		txid = tx.TxHash().String()
		log.Printf("[Scheduler] Round %d: coinjoin %s fully signed", r.ID(), txid)
	} else {
		log.Printf("[Scheduler] Round %d: signing incomplete; restarting with fallback", r.ID())
		c.nextFallback = true
	}
	c.finishRound(signed, txid)
}

// finishRound closes admissions, clears the coinjoin, and emits the audit
// summary. The next loop iteration re-enters InputRegistration.
func (c *Coordinator) finishRound(completed bool, txid string) {
	r := c.round
	r.setAccepting(false)
	r.clearCoinJoin()

	if c.audit == nil {
		return
	}
	summary := models.RoundSummary{
		RoundID:             r.ID(),
		Completed:           completed,
		Fallback:            r.Fallback(),
		AliceCount:          r.AliceCount(),
		BobCount:            r.BobCount(),
		Denomination:        int64(r.Denomination()),
		InputRegistrationMs: r.InputRegistrationDuration().Milliseconds(),
		CoinJoinTxid:        txid,
	}
	// Detached context: audit must not block the loop past a short bound,
	// and a shutdown mid-write should still record the round.
	auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.audit.SaveRoundSummary(auditCtx, summary); err != nil {
		log.Printf("[Scheduler] Failed to persist round %d summary: %v", r.ID(), err)
	}
}

// setPhase transitions the round: admissions close, the phase tag is
// replaced, and the current phase-cancel signal fires so nothing stays
// blocked on the old phase.
func (c *Coordinator) setPhase(p Phase) {
	c.round.setPhase(p)
	c.AdvancePhase()
}

// wait blocks until the phase timeout elapses, the phase-cancel signal
// fires, or the coordinator shuts down. These timed waits, the provider
// calls in refreshParameters and the bounded audit write in finishRound are
// the scheduler's only suspension points.
func (c *Coordinator) wait(ctx context.Context, d time.Duration, cancel <-chan struct{}) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-cancel:
	case <-timer.C:
	}
}

func (c *Coordinator) publish(message string) {
	if c.events == nil {
		return
	}
	r := c.round
	c.events.PublishPhaseChange(models.PhaseChange{
		NewPhase:     r.Phase().String(),
		Message:      message,
		RoundID:      r.ID(),
		Denomination: int64(r.Denomination()),
		Fallback:     r.Fallback(),
	})
}
