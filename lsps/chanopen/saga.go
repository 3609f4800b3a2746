// Package chanopen turns a paid order into a funded channel through a
// compensable multi-step workflow. Broadcasting the funding transaction is
// the last and least reversible step; every failure before it unwinds
// whatever was already reserved.
package chanopen

import (
	"context"
	"fmt"
	"time"

	"github.com/Blockstream/cln-lsps/lnclient"
	"github.com/Blockstream/cln-lsps/logger"
)

// Funder is the slice of the node backend the saga drives.
type Funder interface {
	ReserveChannel(ctx context.Context, req *lnclient.ReserveChannelRequest) (*lnclient.ChannelReservation, error)
	PrepareFundingTx(ctx context.Context, address string, amountSat uint64, satPerVByte uint64) (*lnclient.FundingTx, error)
	SecureCommitment(ctx context.Context, reservation *lnclient.ChannelReservation, tx *lnclient.FundingTx) error
	BroadcastTx(ctx context.Context, tx *lnclient.FundingTx) error
	DiscardFundingTx(ctx context.Context, tx *lnclient.FundingTx) error
	CancelChannelReservation(ctx context.Context, reservation *lnclient.ChannelReservation) error
}

// Request carries the negotiated channel parameters for one order.
type Request struct {
	OrderId         string
	PeerPubkey      string
	CapacitySat     uint64
	PushSat         uint64
	SatPerVByte     uint64
	MinConfs        int32
	AnnounceChannel bool
}

// Result reports the broadcast funding transaction.
type Result struct {
	FundingTxId string
	OutputIndex uint32
	FundedAt    time.Time
}

// StepError reports which step failed and why. The saga guarantees that by
// the time a StepError surfaces, compensation has already run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("channel open failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// compensationTimeout bounds each best-effort cleanup call so a dead peer
// cannot wedge the saga in its failure path.
const compensationTimeout = 30 * time.Second

// Saga executes the channel-opening workflow.
type Saga struct {
	funder Funder
}

func NewSaga(funder Funder) *Saga {
	return &Saga{funder: funder}
}

// Open runs the workflow under a single shared deadline: slow early steps
// shrink the budget of later ones instead of stacking per-step timeouts.
//
// Steps: reserve the channel with the peer, prepare (but not broadcast) the
// funding transaction, exchange commitment signatures, then broadcast. A
// failure before broadcast discards the prepared transaction and cancels the
// peer reservation, in that order, best-effort. Cancellation mid-step also
// runs compensation before propagating, because an abandoned half-open
// channel is exactly the ambiguous state this workflow exists to avoid.
func (s *Saga) Open(ctx context.Context, deadline time.Time, req *Request) (*Result, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	reservation, err := s.funder.ReserveChannel(ctx, &lnclient.ReserveChannelRequest{
		PeerPubkey:      req.PeerPubkey,
		CapacitySat:     req.CapacitySat,
		PushSat:         req.PushSat,
		SatPerVByte:     req.SatPerVByte,
		MinConfs:        req.MinConfs,
		AnnounceChannel: req.AnnounceChannel,
	})
	if err != nil {
		// Nothing reserved yet, nothing to unwind.
		return nil, &StepError{Step: "reserve_channel", Err: err}
	}

	tx, err := s.funder.PrepareFundingTx(ctx, reservation.FundingAddress, req.CapacitySat, req.SatPerVByte)
	if err != nil {
		s.compensate(ctx, req.OrderId, reservation, nil)
		return nil, &StepError{Step: "prepare_funding_tx", Err: err}
	}

	if err := s.funder.SecureCommitment(ctx, reservation, tx); err != nil {
		s.compensate(ctx, req.OrderId, reservation, tx)
		return nil, &StepError{Step: "secure_commitment", Err: err}
	}

	if err := s.funder.BroadcastTx(ctx, tx); err != nil {
		// The peer holds our commitment signatures and the transaction
		// is fully signed; unwinding here could double-spend against a
		// broadcast that partially went through.
		logger.Logger.Error().Err(err).
			Str("order_id", req.OrderId).
			Str("funding_txid", tx.TxId).
			Msg("Funding tx broadcast failed after commitment exchange")
		return nil, &StepError{Step: "broadcast", Err: err}
	}

	return &Result{
		FundingTxId: tx.TxId,
		OutputIndex: tx.OutputIndex,
		FundedAt:    time.Now(),
	}, nil
}

// compensate unwinds a partially executed workflow: discard the prepared
// transaction first so the wallet releases its input leases, then cancel the
// reservation with the peer. Both are attempted even if the first fails;
// failures are logged, not retried, so the saga always reaches a terminal
// state. Runs detached from the saga deadline, which may already be spent.
func (s *Saga) compensate(ctx context.Context, orderId string, reservation *lnclient.ChannelReservation, tx *lnclient.FundingTx) {
	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if tx != nil {
		if err := s.funder.DiscardFundingTx(compCtx, tx); err != nil {
			logger.Logger.Error().Err(err).
				Str("order_id", orderId).
				Msg("Failed to discard prepared funding tx")
		}
	}

	if err := s.funder.CancelChannelReservation(compCtx, reservation); err != nil {
		logger.Logger.Error().Err(err).
			Str("order_id", orderId).
			Str("peer_pubkey", reservation.PeerPubkey).
			Msg("Failed to cancel channel reservation")
	}

	logger.Logger.Warn().
		Str("order_id", orderId).
		Msg("Channel open unwound")
}
