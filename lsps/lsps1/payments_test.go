package lsps1

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Blockstream/cln-lsps/lnclient"
	"github.com/Blockstream/cln-lsps/lsps/chanopen"
	"github.com/Blockstream/cln-lsps/lsps/events"
	"github.com/Blockstream/cln-lsps/lsps/persist"
)

type fakePaymentSource struct {
	feeRate uint64
	feeErr  error
}

func (f *fakePaymentSource) SubscribeInvoicePayments(ctx context.Context) (<-chan lnclient.InvoicePayment, <-chan error, error) {
	return make(chan lnclient.InvoicePayment), make(chan error), nil
}

func (f *fakePaymentSource) EstimateFeeRate(ctx context.Context, targetBlocks uint32) (uint64, error) {
	if f.feeErr != nil {
		return 0, f.feeErr
	}
	return f.feeRate, nil
}

// scriptedFunder drives the saga to success or failure.
type scriptedFunder struct {
	secureErr error
	calls     []string
}

func (f *scriptedFunder) ReserveChannel(ctx context.Context, req *lnclient.ReserveChannelRequest) (*lnclient.ChannelReservation, error) {
	f.calls = append(f.calls, "reserve")
	return &lnclient.ChannelReservation{
		PeerPubkey:     req.PeerPubkey,
		FundingAddress: "bcrt1qaddress",
		PendingChanId:  []byte{9},
	}, nil
}

func (f *scriptedFunder) PrepareFundingTx(ctx context.Context, address string, amountSat uint64, satPerVByte uint64) (*lnclient.FundingTx, error) {
	f.calls = append(f.calls, "prepare")
	return &lnclient.FundingTx{FundedPsbt: []byte("psbt")}, nil
}

func (f *scriptedFunder) SecureCommitment(ctx context.Context, reservation *lnclient.ChannelReservation, tx *lnclient.FundingTx) error {
	f.calls = append(f.calls, "secure")
	if f.secureErr != nil {
		return f.secureErr
	}
	tx.TxId = "feedface"
	tx.OutputIndex = 0
	return nil
}

func (f *scriptedFunder) BroadcastTx(ctx context.Context, tx *lnclient.FundingTx) error {
	f.calls = append(f.calls, "broadcast")
	return nil
}

func (f *scriptedFunder) DiscardFundingTx(ctx context.Context, tx *lnclient.FundingTx) error {
	f.calls = append(f.calls, "discard")
	return nil
}

func (f *scriptedFunder) CancelChannelReservation(ctx context.Context, reservation *lnclient.ChannelReservation) error {
	f.calls = append(f.calls, "cancel")
	return nil
}

func setupPaymentHandler(t *testing.T, funder chanopen.Funder, source PaymentSource) (*PaymentHandler, *persist.Store, *events.EventQueue) {
	store := setupStore(t)
	queue := events.NewEventQueue(10)
	handler := NewPaymentHandler(PaymentHandlerConfig{
		SagaBudget:      time.Minute,
		FeeTargetBlocks: 6,
	}, store, chanopen.NewSaga(funder), source, queue)

	return handler, store, queue
}

func createPaidOrder(t *testing.T, store *persist.Store) *persist.OrderView {
	now := time.Now()
	order := &persist.Order{
		Id:                   "order-1",
		ClientNodeId:         testClientPeer.String(),
		LspBalanceSat:        500000,
		ClientBalanceSat:     0,
		ConfirmsWithinBlocks: 6,
		ChannelExpiryBlocks:  1000,
		CreatedAt:            now,
		ExpiresAt:            now.Add(time.Hour),
	}
	payment := &persist.PaymentDetails{
		Id:            "payment-1",
		OrderId:       "order-1",
		FeeTotalSat:   10000,
		OrderTotalSat: 10000,
		Bolt11Invoice: "lnbc1...",
		InvoiceLabel:  "lsps1-order-1",
		PaymentHash:   "cafebabe",
		CreatedAt:     now,
	}
	require.NoError(t, store.CreateOrder(order, payment, string(OrderStateCreated), string(PaymentStateExpectPayment)))

	view, err := store.GetOrder("order-1")
	require.NoError(t, err)
	return view
}

func settlement() lnclient.InvoicePayment {
	return lnclient.InvoicePayment{
		Label:       "lsps1-order-1",
		PaymentHash: "cafebabe",
		AmountSat:   10000,
		SettledAt:   time.Now(),
	}
}

func TestPaymentHandler_SuccessfulOrder(t *testing.T) {
	funder := &scriptedFunder{}
	handler, store, queue := setupPaymentHandler(t, funder, &fakePaymentSource{feeRate: 2})
	createPaidOrder(t, store)

	handler.HandlePayment(context.Background(), settlement())

	view, err := store.GetOrder("order-1")
	require.NoError(t, err)
	require.Equal(t, string(OrderStateCompleted), view.OrderState)
	require.Equal(t, string(PaymentStatePaid), view.PaymentState)
	require.NotNil(t, view.Channel)
	require.Equal(t, "feedface", view.Channel.FundingTxId)

	require.Equal(t, []string{"reserve", "prepare", "secure", "broadcast"}, funder.calls)

	// HOLD was entered before any funding step ran, and each transition
	// left its own generation row.
	require.Equal(t, uint64(2), view.PaymentGeneration)
	require.Equal(t, uint64(1), view.OrderGeneration)

	pending := queue.GetAndClearPendingEvents()
	require.Len(t, pending, 2)
	require.Equal(t, "lsps1.payment_received", pending[0].EventType())
	require.Equal(t, "lsps1.channel_opened", pending[1].EventType())
}

func TestPaymentHandler_SagaFailureRefunds(t *testing.T) {
	funder := &scriptedFunder{secureErr: errors.New("peer vanished")}
	handler, store, queue := setupPaymentHandler(t, funder, &fakePaymentSource{feeRate: 2})
	createPaidOrder(t, store)

	handler.HandlePayment(context.Background(), settlement())

	view, err := store.GetOrder("order-1")
	require.NoError(t, err)
	require.Equal(t, string(OrderStateFailed), view.OrderState)
	require.Equal(t, string(PaymentStateRefunded), view.PaymentState)
	require.Nil(t, view.Channel)

	// Compensation ran: discard first, then cancel.
	require.Equal(t, []string{"reserve", "prepare", "secure", "discard", "cancel"}, funder.calls)

	pending := queue.GetAndClearPendingEvents()
	require.Len(t, pending, 2)
	require.Equal(t, "lsps1.payment_received", pending[0].EventType())
	require.Equal(t, "lsps1.order_failed", pending[1].EventType())
}

func TestPaymentHandler_UnrelatedInvoiceIgnored(t *testing.T) {
	funder := &scriptedFunder{}
	handler, store, queue := setupPaymentHandler(t, funder, &fakePaymentSource{feeRate: 2})
	createPaidOrder(t, store)

	handler.HandlePayment(context.Background(), lnclient.InvoicePayment{
		Label:       "something-else-entirely",
		PaymentHash: "0000",
		AmountSat:   42,
		SettledAt:   time.Now(),
	})

	// No state mutated, no funding attempted.
	view, err := store.GetOrder("order-1")
	require.NoError(t, err)
	require.Equal(t, string(OrderStateCreated), view.OrderState)
	require.Equal(t, string(PaymentStateExpectPayment), view.PaymentState)
	require.Empty(t, funder.calls)
	require.Empty(t, queue.GetAndClearPendingEvents())
}

func TestPaymentHandler_FallbackToPaymentHash(t *testing.T) {
	funder := &scriptedFunder{}
	handler, store, _ := setupPaymentHandler(t, funder, &fakePaymentSource{feeRate: 2})
	createPaidOrder(t, store)

	// A restart lost the label; the settlement still resolves by hash.
	payment := settlement()
	payment.Label = ""
	handler.HandlePayment(context.Background(), payment)

	view, err := store.GetOrder("order-1")
	require.NoError(t, err)
	require.Equal(t, string(OrderStateCompleted), view.OrderState)
}

func TestPaymentHandler_DuplicateSettlementIgnored(t *testing.T) {
	funder := &scriptedFunder{}
	handler, store, _ := setupPaymentHandler(t, funder, &fakePaymentSource{feeRate: 2})
	createPaidOrder(t, store)

	handler.HandlePayment(context.Background(), settlement())
	require.Equal(t, []string{"reserve", "prepare", "secure", "broadcast"}, funder.calls)

	// Redelivery of the same settlement must not fund twice.
	handler.HandlePayment(context.Background(), settlement())
	require.Equal(t, []string{"reserve", "prepare", "secure", "broadcast"}, funder.calls)

	view, err := store.GetOrder("order-1")
	require.NoError(t, err)
	require.Equal(t, string(OrderStateCompleted), view.OrderState)
}

func TestPaymentHandler_TerminalOrderIgnored(t *testing.T) {
	funder := &scriptedFunder{}
	handler, store, _ := setupPaymentHandler(t, funder, &fakePaymentSource{feeRate: 2})
	view := createPaidOrder(t, store)

	// The order expired and failed before the (late) settlement arrived.
	require.NoError(t, store.TransitionOrder(view.Order.Id, view.OrderGeneration, string(OrderStateFailed)))

	handler.HandlePayment(context.Background(), settlement())
	require.Empty(t, funder.calls)

	after, err := store.GetOrder(view.Order.Id)
	require.NoError(t, err)
	require.Equal(t, string(PaymentStateExpectPayment), after.PaymentState)
}

func TestPaymentHandler_FeeEstimateFailureFailsOrder(t *testing.T) {
	funder := &scriptedFunder{}
	handler, store, _ := setupPaymentHandler(t, funder, &fakePaymentSource{feeErr: errors.New("estimator down")})
	createPaidOrder(t, store)

	handler.HandlePayment(context.Background(), settlement())

	view, err := store.GetOrder("order-1")
	require.NoError(t, err)
	require.Equal(t, string(OrderStateFailed), view.OrderState)
	require.Equal(t, string(PaymentStateRefunded), view.PaymentState)
	require.Empty(t, funder.calls)
}
