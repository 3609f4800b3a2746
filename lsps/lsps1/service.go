package lsps1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"

	"github.com/Blockstream/cln-lsps/lnclient"
	"github.com/Blockstream/cln-lsps/logger"
	"github.com/Blockstream/cln-lsps/lsps/common"
	"github.com/Blockstream/cln-lsps/lsps/events"
	"github.com/Blockstream/cln-lsps/lsps/persist"
)

// bitcoinBlockInterval converts channel lease durations expressed in blocks
// into wall-clock estimates for the response payload.
const bitcoinBlockInterval = 10 * time.Minute

// ServiceConfig carries the provider-side settings for LSPS1.
type ServiceConfig struct {
	Options Options
	Website string
	// OrderLifetime is how long a created order stays payable.
	OrderLifetime time.Duration
	// ChainParams is the network refund addresses must belong to.
	ChainParams *chaincfg.Params
}

// InvoiceMaker is the slice of the node backend the service needs to price
// and invoice orders.
type InvoiceMaker interface {
	MakeInvoice(ctx context.Context, amountSat uint64, label, description string, expiry time.Duration) (*lnclient.Invoice, error)
}

// ServiceHandler answers LSPS1 requests from clients and owns the order
// lifecycle up to the point a payment arrives.
type ServiceHandler struct {
	cfg        ServiceConfig
	store      *persist.Store
	invoicer   InvoiceMaker
	feeCalc    FeeCalculator
	eventQueue *events.EventQueue
}

func NewServiceHandler(cfg ServiceConfig, store *persist.Store, invoicer InvoiceMaker, feeCalc FeeCalculator, eventQueue *events.EventQueue) *ServiceHandler {
	if cfg.OrderLifetime == 0 {
		cfg.OrderLifetime = time.Hour
	}
	return &ServiceHandler{
		cfg:        cfg,
		store:      store,
		invoicer:   invoicer,
		feeCalc:    feeCalc,
		eventQueue: eventQueue,
	}
}

// HandleGetInfo answers lsps1.get_info with the advertised limits.
func (h *ServiceHandler) HandleGetInfo(ctx context.Context, peer common.NodeID, params json.RawMessage) (any, *common.ErrorData) {
	var noParams common.NoParams
	if errData := common.DecodeParams(params, &noParams); errData != nil {
		return nil, errData
	}
	return &InfoResponse{
		SupportedVersions: []uint16{ApiVersion},
		Website:           h.cfg.Website,
		Options:           h.cfg.Options,
	}, nil
}

// HandleCreateOrder validates, prices and persists a new order, handing the
// client an invoice to pay.
func (h *ServiceHandler) HandleCreateOrder(ctx context.Context, peer common.NodeID, params json.RawMessage) (any, *common.ErrorData) {
	var req CreateOrderRequest
	if errData := common.DecodeParams(params, &req); errData != nil {
		return nil, errData
	}

	if req.ApiVersion != ApiVersion {
		return nil, common.InvalidParams(fmt.Sprintf("unsupported api_version %d", req.ApiVersion))
	}

	if req.RefundOnchainAddress != "" && h.cfg.ChainParams != nil {
		addr, err := btcutil.DecodeAddress(req.RefundOnchainAddress, h.cfg.ChainParams)
		if err != nil || !addr.IsForNet(h.cfg.ChainParams) {
			return nil, common.InvalidParams("refund_onchain_address is not valid for this network")
		}
	}

	if mismatch := ValidateOptions(&req, &h.cfg.Options); mismatch != nil {
		logger.Logger.Info().
			Str("peer", peer.String()).
			Str("property", mismatch.Property).
			Msg("Rejected order: option mismatch")
		return nil, mismatch.ErrorData()
	}

	fee, err := h.feeCalc.CalculateFee(ctx, &req)
	if err != nil {
		logger.Logger.Error().Err(err).Str("peer", peer.String()).Msg("Fee calculation failed")
		return nil, common.InternalError()
	}

	orderId := uuid.New().String()
	label := fmt.Sprintf("lsps1-%s", orderId)
	createdAt := time.Now()
	expiresAt := createdAt.Add(h.cfg.OrderLifetime)

	invoice, err := h.invoicer.MakeInvoice(ctx,
		uint64(fee.OrderTotalSat),
		label,
		fmt.Sprintf("LSPS1 channel order %s", orderId),
		time.Until(expiresAt),
	)
	if err != nil {
		logger.Logger.Error().Err(err).Str("order_id", orderId).Msg("Failed to create order invoice")
		return nil, common.InternalError()
	}

	order := &persist.Order{
		Id:                   orderId,
		ClientNodeId:         peer.String(),
		LspBalanceSat:        uint64(req.LspBalanceSat),
		ClientBalanceSat:     uint64(req.ClientBalanceSat),
		ConfirmsWithinBlocks: req.ConfirmsWithinBlocks,
		ChannelExpiryBlocks:  req.ChannelExpiryBlocks,
		Token:                req.Token,
		RefundOnchainAddress: req.RefundOnchainAddress,
		AnnounceChannel:      req.AnnounceChannel,
		CreatedAt:            createdAt,
		ExpiresAt:            expiresAt,
	}
	payment := &persist.PaymentDetails{
		Id:            uuid.New().String(),
		OrderId:       orderId,
		FeeTotalSat:   uint64(fee.FeeTotalSat),
		OrderTotalSat: uint64(fee.OrderTotalSat),
		Bolt11Invoice: invoice.PaymentRequest,
		InvoiceLabel:  label,
		PaymentHash:   invoice.PaymentHash,
		CreatedAt:     createdAt,
	}

	if err := h.store.CreateOrder(order, payment, string(OrderStateCreated), string(PaymentStateExpectPayment)); err != nil {
		logger.Logger.Error().Err(err).Str("order_id", orderId).Msg("Failed to persist order")
		return nil, common.InternalError()
	}

	h.eventQueue.Enqueue(events.OrderCreated{
		OrderId:    orderId,
		ClientNode: peer.String(),
		PaymentId:  payment.Id,
	})

	logger.Logger.Info().
		Str("order_id", orderId).
		Str("peer", peer.String()).
		Uint64("lsp_balance_sat", order.LspBalanceSat).
		Uint64("order_total_sat", payment.OrderTotalSat).
		Msg("Created order")

	view, err := h.store.GetOrder(orderId)
	if err != nil {
		logger.Logger.Error().Err(err).Str("order_id", orderId).Msg("Failed to read back order")
		return nil, common.InternalError()
	}
	return OrderResponse(view), nil
}

// HandleGetOrder answers lsps1.get_order. Orders are only visible to the
// peer that created them; anything else reports not-found rather than
// leaking existence.
func (h *ServiceHandler) HandleGetOrder(ctx context.Context, peer common.NodeID, params json.RawMessage) (any, *common.ErrorData) {
	var req GetOrderRequest
	if errData := common.DecodeParams(params, &req); errData != nil {
		return nil, errData
	}
	if _, err := uuid.Parse(req.OrderId); err != nil {
		return nil, common.InvalidParams("order_id is not a valid uuid")
	}

	view, err := h.store.GetOrder(req.OrderId)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, common.NewErrorData(common.CodeOrderNotFound, "Order not found")
		}
		logger.Logger.Error().Err(err).Str("order_id", req.OrderId).Msg("Failed to load order")
		return nil, common.InternalError()
	}
	if view.Order.ClientNodeId != peer.String() {
		return nil, common.NewErrorData(common.CodeOrderNotFound, "Order not found")
	}

	if view = h.expireIfUnpaid(view); view == nil {
		return nil, common.InternalError()
	}
	return OrderResponse(view), nil
}

// expireIfUnpaid lazily fails an order whose invoice was never paid within
// the order lifetime. A concurrent transition wins: the re-read state is
// reported as is.
func (h *ServiceHandler) expireIfUnpaid(view *persist.OrderView) *persist.OrderView {
	if view.OrderState != string(OrderStateCreated) ||
		view.PaymentState != string(PaymentStateExpectPayment) ||
		time.Now().Before(view.Order.ExpiresAt) {
		return view
	}

	err := h.store.TransitionOrder(view.Order.Id, view.OrderGeneration, string(OrderStateFailed))
	if err != nil && !errors.Is(err, persist.ErrStaleGeneration) {
		logger.Logger.Error().Err(err).
			Str("order_id", view.Order.Id).
			Msg("Failed to expire unpaid order")
		return nil
	}
	if err == nil {
		logger.Logger.Info().
			Str("order_id", view.Order.Id).
			Msg("Expired unpaid order")
		h.eventQueue.Enqueue(events.OrderFailed{
			OrderId: view.Order.Id,
			Reason:  "order expired before payment",
		})
	}

	view, err = h.store.GetOrder(view.Order.Id)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to re-read expired order")
		return nil
	}
	return view
}

// OrderResponse converts a stored order view into the wire shape shared by
// create_order and get_order.
func OrderResponse(view *persist.OrderView) *CreateOrderResponse {
	resp := &CreateOrderResponse{
		OrderId:              view.Order.Id,
		ApiVersion:           ApiVersion,
		LspBalanceSat:        common.Amount(view.Order.LspBalanceSat),
		ClientBalanceSat:     common.Amount(view.Order.ClientBalanceSat),
		ConfirmsWithinBlocks: view.Order.ConfirmsWithinBlocks,
		ChannelExpiryBlocks:  view.Order.ChannelExpiryBlocks,
		Token:                view.Order.Token,
		AnnounceChannel:      view.Order.AnnounceChannel,
		CreatedAt:            common.IsoDatetimeFromTime(view.Order.CreatedAt),
		ExpiresAt:            common.IsoDatetimeFromTime(view.Order.ExpiresAt),
		OrderState:           OrderState(view.OrderState),
		Payment: Payment{
			State:          PaymentState(view.PaymentState),
			FeeTotalSat:    common.Amount(view.Payment.FeeTotalSat),
			OrderTotalSat:  common.Amount(view.Payment.OrderTotalSat),
			Bolt11Invoice:  view.Payment.Bolt11Invoice,
			OnchainAddress: view.Payment.OnchainAddress,
		},
	}
	resp.Payment.RequiredOnchainBlockConfirmations = view.Payment.RequiredOnchainConfirmations
	resp.Payment.MinimumFeeFor0conf = view.Payment.MinimumFeeFor0conf

	if view.Channel != nil {
		expiresAt := view.Channel.ExpiresAt
		if expiresAt.IsZero() {
			expiresAt = view.Channel.FundedAt.Add(
				time.Duration(view.Order.ChannelExpiryBlocks) * bitcoinBlockInterval)
		}
		resp.Channel = &ChannelInfo{
			FundedAt: common.IsoDatetimeFromTime(view.Channel.FundedAt),
			FundingOutpoint: fmt.Sprintf("%s:%d",
				view.Channel.FundingTxId, view.Channel.OutputIndex),
			ExpiresAt: common.IsoDatetimeFromTime(expiresAt),
		}
	}
	return resp
}
