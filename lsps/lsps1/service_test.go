package lsps1

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Blockstream/cln-lsps/lnclient"
	"github.com/Blockstream/cln-lsps/lsps/common"
	"github.com/Blockstream/cln-lsps/lsps/events"
	"github.com/Blockstream/cln-lsps/lsps/persist"
)

const (
	testClientPeer = common.NodeID("02eec7245d6b7d2ccb30380bfbe2a3648cd7a942653f5aa340edcea1f283686619")
	otherPeer      = common.NodeID("03f060953bef5b777dc77e44afa3859d022fc1a77c499b2f38712feea838da21b1")
)

type fakeInvoicer struct {
	failing  bool
	invoices []string
}

func (f *fakeInvoicer) MakeInvoice(ctx context.Context, amountSat uint64, label, description string, expiry time.Duration) (*lnclient.Invoice, error) {
	if f.failing {
		return nil, fmt.Errorf("node unavailable")
	}
	f.invoices = append(f.invoices, label)
	return &lnclient.Invoice{
		PaymentRequest: fmt.Sprintf("lnbc-%d-%s", amountSat, label),
		PaymentHash:    "hash-" + label,
		Label:          label,
		AmountSat:      amountSat,
		ExpiresAt:      time.Now().Add(expiry),
	}, nil
}

func setupStore(t *testing.T) *persist.Store {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&persist.Order{}, &persist.OrderStateRow{},
		&persist.PaymentDetails{}, &persist.PaymentStateRow{}, &persist.Channel{},
	))
	return persist.NewStore(db)
}

func setupService(t *testing.T) (*ServiceHandler, *persist.Store, *fakeInvoicer) {
	store := setupStore(t)
	invoicer := &fakeInvoicer{}
	handler := NewServiceHandler(ServiceConfig{
		Options:       testOptions(),
		Website:       "https://lsp.example.com",
		OrderLifetime: time.Hour,
	}, store, invoicer, &FixedFeeCalculator{FixedFeeSat: 10000}, events.NewEventQueue(10))

	return handler, store, invoicer
}

func rawParams(t *testing.T, v any) json.RawMessage {
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestService_GetInfo(t *testing.T) {
	handler, _, _ := setupService(t)

	result, errData := handler.HandleGetInfo(context.Background(), testClientPeer, json.RawMessage(`{}`))
	require.Nil(t, errData)

	info, ok := result.(*InfoResponse)
	require.True(t, ok)
	require.Equal(t, []uint16{1}, info.SupportedVersions)
	require.Equal(t, "https://lsp.example.com", info.Website)
	require.Equal(t, common.Amount(100000), info.Options.MinChannelBalanceSat)
}

func TestService_CreateOrderAccepted(t *testing.T) {
	handler, store, invoicer := setupService(t)

	req := testOrderRequest() // client_balance=0, lsp_balance=500000, expiry=1000
	result, errData := handler.HandleCreateOrder(context.Background(), testClientPeer, rawParams(t, req))
	require.Nil(t, errData)

	resp, ok := result.(*CreateOrderResponse)
	require.True(t, ok)
	require.Equal(t, OrderStateCreated, resp.OrderState)
	require.Equal(t, PaymentStateExpectPayment, resp.Payment.State)
	require.Equal(t, common.Amount(10000), resp.Payment.FeeTotalSat)
	require.Equal(t, common.Amount(10000), resp.Payment.OrderTotalSat)
	require.NotEmpty(t, resp.Payment.Bolt11Invoice)
	require.Nil(t, resp.Channel)
	require.Len(t, invoicer.invoices, 1)

	view, err := store.GetOrder(resp.OrderId)
	require.NoError(t, err)
	require.Equal(t, string(OrderStateCreated), view.OrderState)
	require.Equal(t, string(PaymentStateExpectPayment), view.PaymentState)
	require.Equal(t, testClientPeer.String(), view.Order.ClientNodeId)
}

func TestService_CreateOrderOptionMismatch(t *testing.T) {
	handler, _, invoicer := setupService(t)

	// Shrink the advertised maximum below the request.
	handler.cfg.Options.MaxInitialLspBalanceSat = 100000

	req := testOrderRequest()
	_, errData := handler.HandleCreateOrder(context.Background(), testClientPeer, rawParams(t, req))
	require.NotNil(t, errData)
	require.Equal(t, common.CodeOptionMismatch, errData.Code)

	var mismatch OptionMismatchError
	require.NoError(t, json.Unmarshal(errData.Data, &mismatch))
	require.Equal(t, "max_initial_lsp_balance_sat", mismatch.Property)

	// Nothing was invoiced or persisted for the rejected order.
	require.Empty(t, invoicer.invoices)
}

func TestService_CreateOrderRejectsUnknownFields(t *testing.T) {
	handler, _, _ := setupService(t)

	params := json.RawMessage(`{"api_version":1,"lsp_balance_sat":"500000","client_balance_sat":"0","confirms_within_blocks":6,"channel_expiry_blocks":1000,"announceChannel":false,"surprise":true}`)
	_, errData := handler.HandleCreateOrder(context.Background(), testClientPeer, params)
	require.NotNil(t, errData)
	require.Equal(t, common.CodeInvalidParams, errData.Code)
}

func TestService_CreateOrderRejectsWrongApiVersion(t *testing.T) {
	handler, _, _ := setupService(t)

	req := testOrderRequest()
	req.ApiVersion = 7
	_, errData := handler.HandleCreateOrder(context.Background(), testClientPeer, rawParams(t, req))
	require.NotNil(t, errData)
	require.Equal(t, common.CodeInvalidParams, errData.Code)
}

func TestService_CreateOrderInvoiceFailure(t *testing.T) {
	handler, _, invoicer := setupService(t)
	invoicer.failing = true

	req := testOrderRequest()
	_, errData := handler.HandleCreateOrder(context.Background(), testClientPeer, rawParams(t, req))
	require.NotNil(t, errData)
	require.Equal(t, common.CodeInternalError, errData.Code)
}

func TestService_GetOrder(t *testing.T) {
	handler, _, _ := setupService(t)

	created, errData := handler.HandleCreateOrder(context.Background(), testClientPeer, rawParams(t, testOrderRequest()))
	require.Nil(t, errData)
	orderId := created.(*CreateOrderResponse).OrderId

	result, errData := handler.HandleGetOrder(context.Background(), testClientPeer, rawParams(t, GetOrderRequest{OrderId: orderId}))
	require.Nil(t, errData)

	resp := result.(*CreateOrderResponse)
	require.Equal(t, orderId, resp.OrderId)
	require.Equal(t, OrderStateCreated, resp.OrderState)
}

func TestService_GetOrderHiddenFromOtherPeers(t *testing.T) {
	handler, _, _ := setupService(t)

	created, errData := handler.HandleCreateOrder(context.Background(), testClientPeer, rawParams(t, testOrderRequest()))
	require.Nil(t, errData)
	orderId := created.(*CreateOrderResponse).OrderId

	_, errData = handler.HandleGetOrder(context.Background(), otherPeer, rawParams(t, GetOrderRequest{OrderId: orderId}))
	require.NotNil(t, errData)
	require.Equal(t, common.CodeOrderNotFound, errData.Code)
}

func TestService_GetOrderExpiresUnpaidOrder(t *testing.T) {
	handler, store, _ := setupService(t)

	now := time.Now()
	orderId := "11111111-2222-3333-4444-555555555555"
	order := &persist.Order{
		Id:                  orderId,
		ClientNodeId:        testClientPeer.String(),
		LspBalanceSat:       500000,
		ChannelExpiryBlocks: 1000,
		CreatedAt:           now.Add(-2 * time.Hour),
		ExpiresAt:           now.Add(-time.Hour),
	}
	payment := &persist.PaymentDetails{
		Id:            "payment-expired",
		OrderId:       orderId,
		OrderTotalSat: 10000,
		InvoiceLabel:  "lsps1-" + orderId,
		CreatedAt:     order.CreatedAt,
	}
	require.NoError(t, store.CreateOrder(order, payment, string(OrderStateCreated), string(PaymentStateExpectPayment)))

	result, errData := handler.HandleGetOrder(context.Background(), testClientPeer, rawParams(t, GetOrderRequest{OrderId: orderId}))
	require.Nil(t, errData)
	require.Equal(t, OrderStateFailed, result.(*CreateOrderResponse).OrderState)

	// The expiry is durable, not just cosmetic.
	view, err := store.GetOrder(orderId)
	require.NoError(t, err)
	require.Equal(t, string(OrderStateFailed), view.OrderState)
	require.Equal(t, uint64(1), view.OrderGeneration)
}

func TestService_GetOrderUnknown(t *testing.T) {
	handler, _, _ := setupService(t)

	_, errData := handler.HandleGetOrder(context.Background(), testClientPeer, rawParams(t, GetOrderRequest{OrderId: "11111111-2222-3333-4444-555555555555"}))
	require.NotNil(t, errData)
	require.Equal(t, common.CodeOrderNotFound, errData.Code)

	_, errData = handler.HandleGetOrder(context.Background(), testClientPeer, rawParams(t, GetOrderRequest{OrderId: "not-a-uuid"}))
	require.NotNil(t, errData)
	require.Equal(t, common.CodeInvalidParams, errData.Code)
}
