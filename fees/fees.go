// Package fees holds the pure fee arithmetic shared by the ledger, the
// dispatcher and the compute engine.
package fees

import (
	"errors"
	"fmt"
	"math/bits"

	"light/shielded-pool/primitives"
)

var (
	ErrInvertedBounds = errors.New("commission lower bound exceeds upper bound")
	ErrRateTooHigh    = errors.New("commission rate exceeds 10000 basis points")
	ErrFeeOutOfBounds = errors.New("fee outside configured bounds")
)

// Configuration mirrors the persisted fee configuration record.
type Configuration struct {
	RelayerFees              primitives.Amount      `json:"relayerFees"`
	CommissionFeesLowerBound primitives.Amount      `json:"commissionFeesLowerBound"`
	CommissionFeesUpperBound primitives.Amount      `json:"commissionFeesUpperBound"`
	CommissionFees           primitives.BasisPoints `json:"commissionFees"`
}

func (c Configuration) Validate() error {
	if c.CommissionFeesLowerBound > c.CommissionFeesUpperBound {
		return fmt.Errorf("%w: %d > %d", ErrInvertedBounds, c.CommissionFeesLowerBound, c.CommissionFeesUpperBound)
	}
	if !c.CommissionFees.Valid() {
		return fmt.Errorf("%w: %d", ErrRateTooHigh, c.CommissionFees)
	}
	return nil
}

// ComputeFee returns clamp(amount*rate/10000, lower, upper). The product is
// taken in 128 bits so large amounts do not wrap.
func ComputeFee(amount primitives.Amount, cfg Configuration) primitives.Amount {
	rate := min(cfg.CommissionFees, primitives.MaxBasisPoints)
	hi, lo := bits.Mul64(uint64(amount), uint64(rate))
	quo, _ := bits.Div64(hi, lo, uint64(primitives.MaxBasisPoints))
	fee := primitives.Amount(quo)
	if fee > cfg.CommissionFeesUpperBound {
		fee = cfg.CommissionFeesUpperBound
	}
	if fee < cfg.CommissionFeesLowerBound {
		fee = cfg.CommissionFeesLowerBound
	}
	return fee
}

// CheckRevealed verifies a commission fee reported by the compute engine.
func CheckRevealed(fee primitives.Amount, cfg Configuration) error {
	if fee < cfg.CommissionFeesLowerBound || fee > cfg.CommissionFeesUpperBound {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrFeeOutOfBounds, fee, cfg.CommissionFeesLowerBound, cfg.CommissionFeesUpperBound)
	}
	return nil
}

// TotalCharge is the amount leaving the sender for a transfer of amount.
func TotalCharge(amount primitives.Amount, cfg Configuration) (primitives.Amount, error) {
	total, err := amount.Add(ComputeFee(amount, cfg))
	if err != nil {
		return 0, err
	}
	return total.Add(cfg.RelayerFees)
}
