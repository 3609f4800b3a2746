// Package lsps1 implements the LSPS1 channel-purchase protocol: pricing
// info, order creation and order tracking.
package lsps1

import (
	"github.com/Blockstream/cln-lsps/lsps/common"
)

// Method names for LSPS1.
const (
	MethodGetInfo     = "lsps1.get_info"
	MethodCreateOrder = "lsps1.create_order"
	MethodGetOrder    = "lsps1.get_order"
)

// ApiVersion is the LSPS1 protocol version spoken by this implementation.
const ApiVersion uint16 = 1

// OrderState is the lifecycle state of an order. Transitions are monotone:
// CREATED is left exactly once, for one of the two terminal states.
type OrderState string

const (
	OrderStateCreated   OrderState = "CREATED"
	OrderStateCompleted OrderState = "COMPLETED"
	OrderStateFailed    OrderState = "FAILED"
)

// PaymentState is the lifecycle state of an order's payment. HOLD is entered
// the moment the payment arrives, before any channel provisioning starts.
type PaymentState string

const (
	PaymentStateExpectPayment PaymentState = "EXPECT_PAYMENT"
	PaymentStateHold          PaymentState = "HOLD"
	PaymentStatePaid          PaymentState = "PAID"
	PaymentStateRefunded      PaymentState = "REFUNDED"
)

// Options are the provider limits advertised in lsps1.get_info.
type Options struct {
	MinimumChannelConfirmations        uint32         `json:"minimum_channel_confirmations"`
	MinimumOnchainPaymentConfirmations *uint32        `json:"minimum_onchain_payment_confirmations"`
	SupportsZeroChannelReserve         bool           `json:"supports_zero_channel_reserve"`
	MinOnchainPaymentSizeSat           *common.Amount `json:"min_onchain_payment_size_sat"`
	MaxChannelExpiryBlocks             uint32         `json:"max_channel_expiry_blocks"`
	MinInitialClientBalanceSat         common.Amount  `json:"min_initial_client_balance_sat"`
	MaxInitialClientBalanceSat         common.Amount  `json:"max_initial_client_balance_sat"`
	MinInitialLspBalanceSat            common.Amount  `json:"min_initial_lsp_balance_sat"`
	MaxInitialLspBalanceSat            common.Amount  `json:"max_initial_lsp_balance_sat"`
	MinChannelBalanceSat               common.Amount  `json:"min_channel_balance_sat"`
	MaxChannelBalanceSat               common.Amount  `json:"max_channel_balance_sat"`
}

// InfoResponse is the result of lsps1.get_info.
type InfoResponse struct {
	SupportedVersions []uint16 `json:"supported_versions"`
	Website           string   `json:"website,omitempty"`
	Options           Options  `json:"options"`
}

// CreateOrderRequest asks the provider to sell an inbound channel.
type CreateOrderRequest struct {
	ApiVersion           uint16        `json:"api_version"`
	LspBalanceSat        common.Amount `json:"lsp_balance_sat"`
	ClientBalanceSat     common.Amount `json:"client_balance_sat"`
	ConfirmsWithinBlocks uint32        `json:"confirms_within_blocks"`
	ChannelExpiryBlocks  uint32        `json:"channel_expiry_blocks"`
	Token                string        `json:"token,omitempty"`
	RefundOnchainAddress string        `json:"refund_onchain_address,omitempty"`
	AnnounceChannel      bool          `json:"announceChannel"`
}

// OnchainPayment reports an on-chain payment observed for an order.
type OnchainPayment struct {
	Outpoint  string        `json:"outpoint"`
	Sat       common.Amount `json:"sat"`
	Confirmed bool          `json:"confirmed"`
}

// Payment describes how an order is paid for and where that payment stands.
type Payment struct {
	State                             PaymentState    `json:"state"`
	FeeTotalSat                       common.Amount   `json:"fee_total_sat"`
	OrderTotalSat                     common.Amount   `json:"order_total_sat"`
	Bolt11Invoice                     string          `json:"bolt11_invoice"`
	OnchainAddress                    string          `json:"onchain_address,omitempty"`
	RequiredOnchainBlockConfirmations *uint32         `json:"required_onchain_block_confirmations,omitempty"`
	MinimumFeeFor0conf                *uint64         `json:"minimum_fee_for_0conf,omitempty"`
	OnchainPayment                    *OnchainPayment `json:"onchain_payment,omitempty"`
}

// ChannelInfo describes the channel provisioned for a completed order.
type ChannelInfo struct {
	FundedAt        common.IsoDatetime `json:"funded_at"`
	FundingOutpoint string             `json:"funding_outpoint"`
	ExpiresAt       common.IsoDatetime `json:"expires_at"`
}

// CreateOrderResponse echoes the order back with its id, timestamps, state
// and payment details. The same shape answers lsps1.get_order.
type CreateOrderResponse struct {
	OrderId              string             `json:"order_id"`
	ApiVersion           uint16             `json:"api_version"`
	LspBalanceSat        common.Amount      `json:"lsp_balance_sat"`
	ClientBalanceSat     common.Amount      `json:"client_balance_sat"`
	ConfirmsWithinBlocks uint32             `json:"confirms_within_blocks"`
	ChannelExpiryBlocks  uint32             `json:"channel_expiry_blocks"`
	Token                string             `json:"token,omitempty"`
	AnnounceChannel      bool               `json:"announceChannel"`
	CreatedAt            common.IsoDatetime `json:"created_at"`
	ExpiresAt            common.IsoDatetime `json:"expires_at"`
	OrderState           OrderState         `json:"order_state"`
	Payment              Payment            `json:"payment"`
	Channel              *ChannelInfo       `json:"channel,omitempty"`
}

// GetOrderRequest looks up an existing order by id.
type GetOrderRequest struct {
	OrderId string `json:"order_id"`
}
