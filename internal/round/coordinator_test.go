package round

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/coinjoin-coordinator/internal/config"
	"github.com/rawblock/coinjoin-coordinator/internal/rates"
)

type fakeRates struct {
	fn func(ctx context.Context) ([]rates.ExchangeRate, error)
}

func (f *fakeRates) GetExchangeRates(ctx context.Context) ([]rates.ExchangeRate, error) {
	return f.fn(ctx)
}

type fakeFees struct {
	rate float64
	err  error
}

func (f *fakeFees) FeeRateBTCPerKvB(ctx context.Context) (float64, error) {
	return f.rate, f.err
}

func usdConfig() *config.Config {
	cfg := config.Default()
	cfg.DenominationAlgorithm = config.DenominationFixedUSD
	cfg.DenominationUSD = 100
	cfg.DenominationBTC = 0.05
	return cfg
}

func TestComputeDenominationFixedUSD(t *testing.T) {
	provider := &fakeRates{fn: func(ctx context.Context) ([]rates.ExchangeRate, error) {
		return []rates.ExchangeRate{{Code: "USD", Rate: 20_000}}, nil
	}}
	c := NewCoordinator(usdConfig(), nil, provider, nil, nil)

	// $100 at $20,000/BTC is 0.005 BTC, which first survives rounding at
	// two decimal places as 0.01 BTC.
	denom := c.computeDenomination(context.Background())
	if denom != 1_000_000 {
		t.Errorf("Expected 1000000 sats, got %d", denom)
	}
}

func TestComputeDenominationProviderFailure(t *testing.T) {
	calls := 0
	provider := &fakeRates{fn: func(ctx context.Context) ([]rates.ExchangeRate, error) {
		calls++
		switch calls {
		case 2:
			return []rates.ExchangeRate{{Code: "USD", Rate: 20_000}}, nil
		default:
			return nil, context.DeadlineExceeded
		}
	}}
	c := NewCoordinator(usdConfig(), nil, provider, nil, nil)

	// First failure with no prior value: the configured BTC denomination.
	denom := c.computeDenomination(context.Background())
	if denom != 5_000_000 {
		t.Errorf("Expected configured 0.05 BTC = 5000000 sats, got %d", denom)
	}

	// A successful fetch establishes a prior...
	denom = c.computeDenomination(context.Background())
	if denom != 1_000_000 {
		t.Errorf("Expected 1000000 sats from the provider, got %d", denom)
	}

	// ...which the next failure retains.
	denom = c.computeDenomination(context.Background())
	if denom != 1_000_000 {
		t.Errorf("Expected retained 1000000 sats, got %d", denom)
	}
}

func TestComputeFeesFallbackAndRetention(t *testing.T) {
	cfg := config.Default()
	cfg.FallbackSatPerByte = 20
	src := &fakeFees{err: context.DeadlineExceeded}
	c := NewCoordinator(cfg, src, nil, nil, nil)

	// Estimator down, nothing retained: the configured floor prices fees.
	feeIn, feeOut := c.computeFees(context.Background())
	wantIn, wantOut := feesFromFallback(20)
	if feeIn != wantIn || feeOut != wantOut {
		t.Errorf("Expected fallback fees %d/%d, got %d/%d", wantIn, wantOut, feeIn, feeOut)
	}

	// A real estimate replaces the floor...
	src.err = nil
	src.rate = 0.00002 // 2 sat/byte
	feeIn, feeOut = c.computeFees(context.Background())
	wantIn, wantOut = feesFromRate(0.00002)
	if feeIn != wantIn || feeOut != wantOut {
		t.Errorf("Expected estimated fees %d/%d, got %d/%d", wantIn, wantOut, feeIn, feeOut)
	}

	// ...and survives the next outage.
	src.err = context.DeadlineExceeded
	src.rate = 0
	feeIn, feeOut = c.computeFees(context.Background())
	if feeIn != wantIn || feeOut != wantOut {
		t.Errorf("Expected retained fees %d/%d, got %d/%d", wantIn, wantOut, feeIn, feeOut)
	}
}

func TestFirstRoundOpensAtMinimumTarget(t *testing.T) {
	cfg := config.Default()
	cfg.MinAnonymitySet = 2
	cfg.MaxAnonymitySet = 5
	c := NewCoordinator(cfg, nil, nil, nil, nil)
	c.round.reset(false)

	c.refreshParameters(context.Background())
	if got := c.round.AnonymityTarget(); got != 2 {
		t.Errorf("Expected first round at the minimum target 2, got %d", got)
	}
	if d := c.round.InputRegistrationDuration(); d <= cfg.AverageInputRegistration {
		t.Errorf("Seeded duration %v must exceed the average %v", d, cfg.AverageInputRegistration)
	}
}

func TestRefreshParametersAdaptsTarget(t *testing.T) {
	cfg := config.Default()
	cfg.MinAnonymitySet = 2
	cfg.MaxAnonymitySet = 5
	cfg.AverageInputRegistration = 120 * time.Second
	c := NewCoordinator(cfg, nil, nil, nil, nil)
	c.round.reset(false)
	c.round.anonymityTarget.Store(5)
	c.round.setInputRegistrationDuration(180 * time.Second)

	c.refreshParameters(context.Background())
	if got := c.round.AnonymityTarget(); got != 4 {
		t.Errorf("Expected target 4 after a 180s round against a 120s average, got %d", got)
	}
}
