package lsps1

import (
	"context"

	"github.com/Blockstream/cln-lsps/lsps/common"
)

// FeeCalculation is the price quoted for an order: the provider's fee and the
// total the client must pay (fee plus any client balance pushed to them).
type FeeCalculation struct {
	FeeTotalSat   common.Amount
	OrderTotalSat common.Amount
}

// FeeCalculator prices an order. Implementations may consult fee estimates,
// available funds or configuration.
type FeeCalculator interface {
	CalculateFee(ctx context.Context, req *CreateOrderRequest) (*FeeCalculation, error)
}

// FixedFeeCalculator charges a flat fee per channel regardless of size.
type FixedFeeCalculator struct {
	FixedFeeSat common.Amount
}

func (c *FixedFeeCalculator) CalculateFee(ctx context.Context, req *CreateOrderRequest) (*FeeCalculation, error) {
	total, err := c.FixedFeeSat.CheckedAdd(req.ClientBalanceSat)
	if err != nil {
		return nil, err
	}
	return &FeeCalculation{
		FeeTotalSat:   c.FixedFeeSat,
		OrderTotalSat: total,
	}, nil
}

// FeerateEstimator estimates an on-chain feerate for a confirmation target.
type FeerateEstimator interface {
	EstimateFeeRate(ctx context.Context, targetBlocks uint32) (satPerVByte uint64, err error)
}

// OnchainFeeCalculator charges a base fee plus the estimated on-chain cost of
// the funding transaction at the order's confirmation target.
type OnchainFeeCalculator struct {
	BaseFeeSat common.Amount
	// FundingTxVBytes is the assumed weight of a funding transaction.
	FundingTxVBytes uint64
	Estimator       FeerateEstimator
}

func (c *OnchainFeeCalculator) CalculateFee(ctx context.Context, req *CreateOrderRequest) (*FeeCalculation, error) {
	target := req.ConfirmsWithinBlocks
	if target == 0 {
		target = 6
	}
	satPerVByte, err := c.Estimator.EstimateFeeRate(ctx, target)
	if err != nil {
		return nil, err
	}

	fee, err := c.BaseFeeSat.CheckedAdd(common.Amount(satPerVByte * c.FundingTxVBytes))
	if err != nil {
		return nil, err
	}
	total, err := fee.CheckedAdd(req.ClientBalanceSat)
	if err != nil {
		return nil, err
	}
	return &FeeCalculation{
		FeeTotalSat:   fee,
		OrderTotalSat: total,
	}, nil
}
