package lsps1

import (
	"errors"
	"fmt"

	"github.com/Blockstream/cln-lsps/lsps/common"
)

// OptionMismatchError reports an order parameter that violates the advertised
// provider limits. Property names the violated option so the client can
// adjust its next request.
type OptionMismatchError struct {
	Property string `json:"property"`
	Message  string `json:"message"`
}

func (e *OptionMismatchError) Error() string {
	return fmt.Sprintf("option mismatch on %s: %s", e.Property, e.Message)
}

// ErrorData converts the mismatch into the JSON-RPC error sent to the peer.
func (e *OptionMismatchError) ErrorData() *common.ErrorData {
	return common.NewErrorData(common.CodeOptionMismatch, "Option mismatch").WithData(e)
}

func mismatch(property, format string, args ...any) *OptionMismatchError {
	return &OptionMismatchError{
		Property: property,
		Message:  fmt.Sprintf(format, args...),
	}
}

// ValidateOptions checks an order request against the provider's advertised
// limits. The channel capacity is the checked sum of both balances; overflow
// is a mismatch, not a wrap-around.
func ValidateOptions(req *CreateOrderRequest, options *Options) *OptionMismatchError {
	if req.ClientBalanceSat < options.MinInitialClientBalanceSat {
		return mismatch("min_initial_client_balance_sat",
			"You've requested client_balance_sat=%d but the LSP-server requires at least %d",
			req.ClientBalanceSat, options.MinInitialClientBalanceSat)
	}
	if req.ClientBalanceSat > options.MaxInitialClientBalanceSat {
		return mismatch("max_initial_client_balance_sat",
			"You've requested client_balance_sat=%d but the LSP-server doesn't allow this value to exceed %d",
			req.ClientBalanceSat, options.MaxInitialClientBalanceSat)
	}
	if req.LspBalanceSat < options.MinInitialLspBalanceSat {
		return mismatch("min_initial_lsp_balance_sat",
			"You've requested a channel with lsp_balance_sat=%d but the LSP-server requires at least %d",
			req.LspBalanceSat, options.MinInitialLspBalanceSat)
	}
	if req.LspBalanceSat > options.MaxInitialLspBalanceSat {
		return mismatch("max_initial_lsp_balance_sat",
			"You've requested a channel with lsp_balance_sat=%d but the LSP-server doesn't allow this value to exceed %d",
			req.LspBalanceSat, options.MaxInitialLspBalanceSat)
	}

	capacity, err := req.LspBalanceSat.CheckedAdd(req.ClientBalanceSat)
	if err != nil {
		if errors.Is(err, common.ErrAmountOverflow) {
			return mismatch("max_channel_balance_sat",
				"Overflow when computing channel capacity")
		}
		return mismatch("max_channel_balance_sat", "%v", err)
	}

	if capacity < options.MinChannelBalanceSat {
		return mismatch("min_channel_balance_sat",
			"You've requested a channel with capacity=%d but the LSP-server requires at least %d",
			capacity, options.MinChannelBalanceSat)
	}
	if capacity > options.MaxChannelBalanceSat {
		return mismatch("max_channel_balance_sat",
			"You've requested a channel with capacity=%d but the LSP-server only allows values up to %d",
			capacity, options.MaxChannelBalanceSat)
	}

	if req.ChannelExpiryBlocks > options.MaxChannelExpiryBlocks {
		return mismatch("max_channel_expiry_blocks",
			"You've requested to lease a channel for channel_expiry_blocks=%d but the LSP-server only allows max_channel_expiry_blocks=%d",
			req.ChannelExpiryBlocks, options.MaxChannelExpiryBlocks)
	}

	return nil
}
