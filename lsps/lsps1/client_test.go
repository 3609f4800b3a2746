package lsps1

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Blockstream/cln-lsps/lsps/common"
)

// Published BOLT11 example invoice for 2500uBTC (250000 sat).
const coffeeInvoice = "lnbc2500u1pvjluezpp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypqdq5xysxxatsyp3k7enxv4jsxqzpuaztrnwngzn3kdzw5hydlzf03qdgm2hdq27cqv3agm2awhz5se903vruatfhq77w3ls4evs3ch9zw97j25emudupq63nyw24cg27h2rspfj9srp"

func TestVerifyOrderInvoice(t *testing.T) {
	resp := &CreateOrderResponse{
		OrderId: "order-1",
		Payment: Payment{
			Bolt11Invoice: coffeeInvoice,
			OrderTotalSat: common.Amount(250000),
		},
	}
	require.NoError(t, verifyOrderInvoice(resp))
}

func TestVerifyOrderInvoiceAmountMismatch(t *testing.T) {
	resp := &CreateOrderResponse{
		OrderId: "order-1",
		Payment: Payment{
			Bolt11Invoice: coffeeInvoice,
			OrderTotalSat: common.Amount(9999),
		},
	}
	require.ErrorContains(t, verifyOrderInvoice(resp), "invoice asks for")
}

func TestVerifyOrderInvoiceMissingOrGarbage(t *testing.T) {
	resp := &CreateOrderResponse{OrderId: "order-1"}
	require.ErrorContains(t, verifyOrderInvoice(resp), "no invoice")

	resp.Payment.Bolt11Invoice = "lnbc1notaninvoice"
	require.Error(t, verifyOrderInvoice(resp))
}
