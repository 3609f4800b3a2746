package lsps1

import (
	"context"
	"fmt"

	decodepay "github.com/Blockstream/cln-lsps/lndecodepay"
	"github.com/Blockstream/cln-lsps/lsps/common"
	"github.com/Blockstream/cln-lsps/lsps/transport"
)

// ClientHandler buys channels from a remote LSP.
type ClientHandler struct {
	caller *transport.Caller
}

func NewClientHandler(caller *transport.Caller) *ClientHandler {
	return &ClientHandler{caller: caller}
}

// GetInfo fetches the provider's advertised limits.
func (h *ClientHandler) GetInfo(ctx context.Context, peerPubkey string) (*InfoResponse, error) {
	var result InfoResponse
	if err := h.caller.Call(ctx, peerPubkey, MethodGetInfo, common.NoParams{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateOrder places an order with the provider. The returned response
// carries the invoice to pay; the invoice is decoded locally and checked
// against the quoted order total before it is handed back.
func (h *ClientHandler) CreateOrder(ctx context.Context, peerPubkey string, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if req.ApiVersion == 0 {
		req.ApiVersion = ApiVersion
	}
	var result CreateOrderResponse
	if err := h.caller.Call(ctx, peerPubkey, MethodCreateOrder, req, &result); err != nil {
		return nil, err
	}
	if err := verifyOrderInvoice(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// verifyOrderInvoice guards against a provider quoting one total and
// invoicing another.
func verifyOrderInvoice(resp *CreateOrderResponse) error {
	if resp.Payment.Bolt11Invoice == "" {
		return fmt.Errorf("order %s carries no invoice", resp.OrderId)
	}
	inv, err := decodepay.Decodepay(resp.Payment.Bolt11Invoice)
	if err != nil {
		return fmt.Errorf("order %s invoice does not decode: %w", resp.OrderId, err)
	}
	wantMsat := int64(resp.Payment.OrderTotalSat) * 1000
	if inv.MSat != 0 && inv.MSat != wantMsat {
		return fmt.Errorf("order %s invoice asks for %d msat, order total is %d msat",
			resp.OrderId, inv.MSat, wantMsat)
	}
	return nil
}

// GetOrder polls the state of a previously created order.
func (h *ClientHandler) GetOrder(ctx context.Context, peerPubkey string, orderId string) (*CreateOrderResponse, error) {
	var result CreateOrderResponse
	err := h.caller.Call(ctx, peerPubkey, MethodGetOrder, &GetOrderRequest{OrderId: orderId}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
