package round

import (
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/rawblock/coinjoin-coordinator/internal/rates"
)

func TestAdaptAnonymityTarget_SlowRoundStepsDown(t *testing.T) {
	// A 180s registration against a 120s average means demand is thin:
	// the target drops from 5 to 4.
	got := adaptAnonymityTarget(5, 180*time.Second, 120*time.Second, 2, 5)
	if got != 4 {
		t.Errorf("Expected target 4 after a slow round, got %d", got)
	}
}

func TestAdaptAnonymityTarget_FastRoundStepsUp(t *testing.T) {
	got := adaptAnonymityTarget(3, 60*time.Second, 120*time.Second, 2, 5)
	if got != 4 {
		t.Errorf("Expected target 4 after a fast round, got %d", got)
	}
}

func TestAdaptAnonymityTarget_Clamped(t *testing.T) {
	if got := adaptAnonymityTarget(2, 300*time.Second, 120*time.Second, 2, 5); got != 2 {
		t.Errorf("Expected target clamped at minimum 2, got %d", got)
	}
	if got := adaptAnonymityTarget(5, 10*time.Second, 120*time.Second, 2, 5); got != 5 {
		t.Errorf("Expected target clamped at maximum 5, got %d", got)
	}
}

func TestUSDDenomination_Rounding(t *testing.T) {
	// $100 at $30,000/BTC is 0.00333... BTC; one and two decimal places
	// round to zero, three give 0.003 BTC.
	amt, err := usdDenomination(100, 30_000)
	if err != nil {
		t.Fatalf("usdDenomination failed: %v", err)
	}
	if amt != 300_000 {
		t.Errorf("Expected 300000 sats, got %d", amt)
	}

	// A whole-coin target resolves at the first decimal place.
	amt, err = usdDenomination(30_000, 30_000)
	if err != nil {
		t.Fatalf("usdDenomination failed: %v", err)
	}
	if amt != 100_000_000 {
		t.Errorf("Expected 1 BTC in sats, got %d", amt)
	}
}

func TestUSDDenomination_RoundsToZero(t *testing.T) {
	// Sub-satoshi target: even eight decimal places round to zero.
	_, err := usdDenomination(0.000_000_1, 100_000)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for a vanishing denomination, got %v", err)
	}
}

func TestUSDDenomination_BadPrice(t *testing.T) {
	_, err := usdDenomination(100, 0)
	if !errors.Is(err, ErrExternalUnavailable) {
		t.Errorf("Expected ErrExternalUnavailable for zero price, got %v", err)
	}
}

func TestSelectUSDRate(t *testing.T) {
	list := []rates.ExchangeRate{
		{Code: "EUR", Rate: 27_000},
		{Code: "USD", Rate: 30_000},
	}
	price, err := selectUSDRate(list)
	if err != nil {
		t.Fatalf("selectUSDRate failed: %v", err)
	}
	if price != 30_000 {
		t.Errorf("Expected 30000, got %f", price)
	}

	if _, err := selectUSDRate([]rates.ExchangeRate{{Code: "EUR", Rate: 27_000}}); !errors.Is(err, ErrExternalUnavailable) {
		t.Errorf("Expected ErrExternalUnavailable without a USD entry, got %v", err)
	}
}

func TestFeesFromRate(t *testing.T) {
	// 0.00001 BTC/kvB is exactly 1 sat/byte.
	feeIn, feeOut := feesFromRate(0.00001)
	if feeIn != btcutil.Amount(inputVsizeBytes()) {
		t.Errorf("Expected fee per input %d, got %d", inputVsizeBytes(), feeIn)
	}
	if feeOut != outputSizeBytes {
		t.Errorf("Expected fee per output %d, got %d", outputSizeBytes, feeOut)
	}
}

func TestFeesFromFallback(t *testing.T) {
	feeIn, feeOut := feesFromFallback(20)
	if feeIn != btcutil.Amount(20*inputVsizeBytes()) {
		t.Errorf("Expected fee per input %d, got %d", 20*inputVsizeBytes(), feeIn)
	}
	if feeOut != 20*outputSizeBytes {
		t.Errorf("Expected fee per output %d, got %d", 20*outputSizeBytes, feeOut)
	}
}

func TestInputVsize(t *testing.T) {
	// ceil((3*41 + 148) / 4) — the BIP141 vsize of a P2WPKH spend.
	if got := inputVsizeBytes(); got != 68 {
		t.Errorf("Expected input vsize 68, got %d", got)
	}
}
