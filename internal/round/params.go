package round

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/coinjoin-coordinator/internal/rates"
)

// FeeRateSource is the Bitcoin node's smart-fee estimator: one confirmation
// target, ECONOMICAL mode, BTC-per-kvB result.
type FeeRateSource interface {
	FeeRateBTCPerKvB(ctx context.Context) (float64, error)
}

// RateSource is the exchange-rate provider.
type RateSource interface {
	GetExchangeRates(ctx context.Context) ([]rates.ExchangeRate, error)
}

// InputChecker is the pluggable admission hook for claimed UTXOs. It must
// confirm the outpoint exists unspent with exactly the claimed amount, and
// returns the prevout script for later witness verification.
type InputChecker interface {
	CheckInput(ctx context.Context, op wire.OutPoint, amount btcutil.Amount) ([]byte, error)
}

// Standard virtual sizes used for per-participant fee shares. Inputs are
// budgeted at the BIP141 vsize of a P2WPKH spend; outputs at the standard
// output size.
const (
	p2wpkhInputSizeBytes = 41
	p2pkhInputSizeBytes  = 148
	outputSizeBytes      = 33
)

func inputVsizeBytes() int {
	return (3*p2wpkhInputSizeBytes + p2pkhInputSizeBytes + 3) / 4
}

// feesFromRate turns a BTC/kvB estimate into per-input and per-output fee
// shares in Satoshis.
func feesFromRate(btcPerKvB float64) (feePerInput, feePerOutput btcutil.Amount) {
	// Whole Satoshis per kvB first, then integer ceiling division, so an
	// exact rate such as 0.00001 BTC/kvB carries no float error upward.
	satPerKvB := int64(math.Round(btcPerKvB * 1e8))
	feePerInput = btcutil.Amount((satPerKvB*int64(inputVsizeBytes()) + 999) / 1000)
	feePerOutput = btcutil.Amount((satPerKvB*outputSizeBytes + 999) / 1000)
	return feePerInput, feePerOutput
}

// feesFromFallback prices fees off the configured sat/byte floor.
func feesFromFallback(satPerByte int64) (feePerInput, feePerOutput btcutil.Amount) {
	return btcutil.Amount(satPerByte * int64(inputVsizeBytes())),
		btcutil.Amount(satPerByte * outputSizeBytes)
}

// adaptAnonymityTarget nudges the target one step per round: down when the
// last InputRegistration ran longer than the configured average (too few
// participants), up when it filled faster.
func adaptAnonymityTarget(current int, lastDuration, average time.Duration, min, max int) int {
	if lastDuration > average {
		if current-1 < min {
			return min
		}
		return current - 1
	}
	if current+1 > max {
		return max
	}
	return current + 1
}

// usdDenomination converts a USD target to BTC at the given price, rounded
// to the fewest decimal places (1..8) that yield a non-zero amount.
func usdDenomination(denominationUSD, price float64) (btcutil.Amount, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive exchange rate", ErrExternalUnavailable)
	}
	btc := denominationUSD / price
	for k := 1; k <= 8; k++ {
		scale := math.Pow(10, float64(k))
		rounded := math.Round(btc*scale) / scale
		if rounded != 0 {
			return btcutil.NewAmount(rounded)
		}
	}
	return 0, fmt.Errorf("%w: denomination rounds to zero at current rate", ErrValidation)
}

// selectUSDRate picks the USD entry from a provider response.
func selectUSDRate(list []rates.ExchangeRate) (float64, error) {
	for _, r := range list {
		if r.Code == "USD" {
			return r.Rate, nil
		}
	}
	return 0, fmt.Errorf("%w: provider returned no USD rate", ErrExternalUnavailable)
}
