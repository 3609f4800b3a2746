package lsps1

import (
	"context"
	"errors"
	"time"

	"github.com/Blockstream/cln-lsps/lnclient"
	"github.com/Blockstream/cln-lsps/logger"
	"github.com/Blockstream/cln-lsps/lsps/chanopen"
	"github.com/Blockstream/cln-lsps/lsps/events"
	"github.com/Blockstream/cln-lsps/lsps/persist"
)

// PaymentHandlerConfig tunes the payment-to-channel pipeline.
type PaymentHandlerConfig struct {
	// SagaBudget is the end-to-end deadline for one channel open, shared
	// across its steps.
	SagaBudget time.Duration
	// FeeTargetBlocks is the fallback confirmation target when the order
	// did not specify one.
	FeeTargetBlocks uint32
}

// PaymentSource is the slice of the node backend the payment pipeline
// consumes: settled invoices and fee estimates.
type PaymentSource interface {
	SubscribeInvoicePayments(ctx context.Context) (<-chan lnclient.InvoicePayment, <-chan error, error)
	EstimateFeeRate(ctx context.Context, targetBlocks uint32) (satPerVByte uint64, err error)
}

// PaymentHandler watches settled invoices and drives paid orders through the
// channel-opening workflow to a terminal state.
type PaymentHandler struct {
	cfg        PaymentHandlerConfig
	store      *persist.Store
	saga       *chanopen.Saga
	ln         PaymentSource
	eventQueue *events.EventQueue
}

func NewPaymentHandler(cfg PaymentHandlerConfig, store *persist.Store, saga *chanopen.Saga, ln PaymentSource, eventQueue *events.EventQueue) *PaymentHandler {
	if cfg.SagaBudget == 0 {
		cfg.SagaBudget = 10 * time.Minute
	}
	if cfg.FeeTargetBlocks == 0 {
		cfg.FeeTargetBlocks = 6
	}
	return &PaymentHandler{
		cfg:        cfg,
		store:      store,
		saga:       saga,
		ln:         ln,
		eventQueue: eventQueue,
	}
}

// Run consumes the node's settled-invoice stream until ctx is cancelled.
func (h *PaymentHandler) Run(ctx context.Context) error {
	payments, errs, err := h.ln.SubscribeInvoicePayments(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case payment, ok := <-payments:
			if !ok {
				return nil
			}
			h.HandlePayment(ctx, payment)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandlePayment processes one settled invoice. Settlements that do not
// belong to any order are ignored: the invoice channel is shared with
// whatever else the node is doing.
func (h *PaymentHandler) HandlePayment(ctx context.Context, payment lnclient.InvoicePayment) {
	view, err := h.lookupOrder(payment)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			logger.Logger.Debug().
				Str("label", payment.Label).
				Str("payment_hash", payment.PaymentHash).
				Msg("Settled invoice does not belong to an order, ignoring")
			return
		}
		logger.Logger.Error().Err(err).
			Str("payment_hash", payment.PaymentHash).
			Msg("Failed to look up order for settled invoice")
		return
	}

	if view.PaymentState != string(PaymentStateExpectPayment) {
		logger.Logger.Warn().
			Str("order_id", view.Order.Id).
			Str("payment_state", view.PaymentState).
			Msg("Duplicate settlement for order, ignoring")
		return
	}
	if view.OrderState != string(OrderStateCreated) {
		logger.Logger.Warn().
			Str("order_id", view.Order.Id).
			Str("order_state", view.OrderState).
			Msg("Settlement for order in terminal state, ignoring")
		return
	}

	// Capture the funds before touching the chain: HOLD is what makes the
	// workflow retryable without double-charging.
	view, err = h.transitionPayment(view, PaymentStateExpectPayment, PaymentStateHold)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("order_id", view.Order.Id).
			Msg("Failed to move payment to HOLD")
		return
	}

	h.eventQueue.Enqueue(events.PaymentReceived{
		OrderId:   view.Order.Id,
		PaymentId: view.Payment.Id,
		AmountSat: payment.AmountSat,
	})

	h.openChannel(ctx, view)
}

func (h *PaymentHandler) lookupOrder(payment lnclient.InvoicePayment) (*persist.OrderView, error) {
	if payment.Label != "" {
		view, err := h.store.GetOrderByInvoiceLabel(payment.Label)
		if err == nil || !errors.Is(err, persist.ErrNotFound) {
			return view, err
		}
	}
	if payment.PaymentHash == "" {
		return nil, persist.ErrNotFound
	}
	return h.store.GetOrderByPaymentHash(payment.PaymentHash)
}

func (h *PaymentHandler) openChannel(ctx context.Context, view *persist.OrderView) {
	order := view.Order

	target := order.ConfirmsWithinBlocks
	if target == 0 {
		target = h.cfg.FeeTargetBlocks
	}
	satPerVByte, err := h.ln.EstimateFeeRate(ctx, target)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("order_id", order.Id).
			Msg("Fee estimation failed, failing order")
		h.failOrder(view, "fee estimation failed")
		return
	}

	capacity := order.LspBalanceSat + order.ClientBalanceSat
	deadline := time.Now().Add(h.cfg.SagaBudget)

	result, err := h.saga.Open(ctx, deadline, &chanopen.Request{
		OrderId:         order.Id,
		PeerPubkey:      order.ClientNodeId,
		CapacitySat:     capacity,
		PushSat:         order.ClientBalanceSat,
		SatPerVByte:     satPerVByte,
		MinConfs:        1,
		AnnounceChannel: order.AnnounceChannel,
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("order_id", order.Id).
			Msg("Channel open failed, refunding order")
		h.failOrder(view, err.Error())
		return
	}

	if err := h.completeOrder(view, result); err != nil {
		logger.Logger.Error().Err(err).
			Str("order_id", order.Id).
			Str("funding_txid", result.FundingTxId).
			Msg("Channel funded but order completion failed")
		return
	}

	h.eventQueue.Enqueue(events.ChannelOpened{
		OrderId:     order.Id,
		FundingTxId: result.FundingTxId,
		OutputIndex: result.OutputIndex,
	})

	logger.Logger.Info().
		Str("order_id", order.Id).
		Str("funding_txid", result.FundingTxId).
		Msg("Order completed")
}

func (h *PaymentHandler) completeOrder(view *persist.OrderView, result *chanopen.Result) error {
	leaseDuration := time.Duration(view.Order.ChannelExpiryBlocks) * bitcoinBlockInterval
	if err := h.store.CreateChannel(&persist.Channel{
		OrderId:     view.Order.Id,
		FundingTxId: result.FundingTxId,
		OutputIndex: result.OutputIndex,
		FundedAt:    result.FundedAt,
		ExpiresAt:   result.FundedAt.Add(leaseDuration),
	}); err != nil {
		return err
	}

	view, err := h.transitionPayment(view, PaymentStateHold, PaymentStatePaid)
	if err != nil {
		return err
	}
	_, err = h.transitionOrder(view, OrderStateCreated, OrderStateCompleted)
	return err
}

func (h *PaymentHandler) failOrder(view *persist.OrderView, reason string) {
	orderId := view.Order.Id

	view, err := h.transitionPayment(view, PaymentStateHold, PaymentStateRefunded)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("order_id", orderId).
			Msg("Failed to move payment to REFUNDED")
		return
	}
	if _, err := h.transitionOrder(view, OrderStateCreated, OrderStateFailed); err != nil {
		logger.Logger.Error().Err(err).
			Str("order_id", orderId).
			Msg("Failed to move order to FAILED")
		return
	}

	h.eventQueue.Enqueue(events.OrderFailed{
		OrderId: orderId,
		Reason:  reason,
	})
}

// transitionPayment moves the payment from one state to the next, retrying
// once on a generation conflict. State is always re-read right before the
// conditional write, never cached across a suspension point.
func (h *PaymentHandler) transitionPayment(view *persist.OrderView, from, to PaymentState) (*persist.OrderView, error) {
	for attempt := 0; ; attempt++ {
		if view.PaymentState == string(to) {
			return view, nil
		}
		if view.PaymentState != string(from) {
			return view, errors.New("payment state moved unexpectedly to " + view.PaymentState)
		}
		err := h.store.TransitionPayment(view.Payment.Id, view.PaymentGeneration, string(to))
		if err == nil {
			return h.store.GetOrder(view.Order.Id)
		}
		if !errors.Is(err, persist.ErrStaleGeneration) || attempt >= 1 {
			return view, err
		}
		view, err = h.store.GetOrder(view.Order.Id)
		if err != nil {
			return nil, err
		}
	}
}

func (h *PaymentHandler) transitionOrder(view *persist.OrderView, from, to OrderState) (*persist.OrderView, error) {
	for attempt := 0; ; attempt++ {
		if view.OrderState == string(to) {
			return view, nil
		}
		if view.OrderState != string(from) {
			return view, errors.New("order state moved unexpectedly to " + view.OrderState)
		}
		err := h.store.TransitionOrder(view.Order.Id, view.OrderGeneration, string(to))
		if err == nil {
			return h.store.GetOrder(view.Order.Id)
		}
		if !errors.Is(err, persist.ErrStaleGeneration) || attempt >= 1 {
			return view, err
		}
		view, err = h.store.GetOrder(view.Order.Id)
		if err != nil {
			return nil, err
		}
	}
}
