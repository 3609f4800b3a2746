package lnd

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"

	"github.com/Blockstream/cln-lsps/lnclient"
	"github.com/Blockstream/cln-lsps/logger"
)

// MakeInvoice creates a BOLT11 invoice for the given amount. The label is
// recorded locally so that a settled payment can be correlated back to the
// order that requested it; LND itself only knows the payment hash.
func (svc *LNDService) MakeInvoice(ctx context.Context, amountSat uint64, label, description string, expiry time.Duration) (*lnclient.Invoice, error) {
	resp, err := svc.client.AddInvoice(ctx, &lnrpc.Invoice{
		Memo:   description,
		Value:  int64(amountSat),
		Expiry: int64(expiry.Seconds()),
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("label", label).
			Uint64("amount_sat", amountSat).
			Msg("Failed to create invoice")
		return nil, err
	}

	paymentHash := hex.EncodeToString(resp.RHash)

	svc.labelsMu.Lock()
	svc.labelsByHash[paymentHash] = label
	svc.labelsMu.Unlock()

	logger.Logger.Info().
		Str("label", label).
		Str("payment_hash", paymentHash).
		Uint64("amount_sat", amountSat).
		Msg("Created invoice")

	return &lnclient.Invoice{
		PaymentRequest: resp.PaymentRequest,
		PaymentHash:    paymentHash,
		Label:          label,
		AmountSat:      amountSat,
		ExpiresAt:      time.Now().Add(expiry),
	}, nil
}

// SubscribeInvoicePayments streams settled incoming payments. Payments for
// invoices created before a restart carry an empty label; consumers fall
// back to correlating by payment hash.
func (svc *LNDService) SubscribeInvoicePayments(ctx context.Context) (<-chan lnclient.InvoicePayment, <-chan error, error) {
	paymentChan := make(chan lnclient.InvoicePayment, 100)
	errChan := make(chan error, 1)

	stream, err := svc.client.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to subscribe to invoices")
		close(paymentChan)
		close(errChan)
		return paymentChan, errChan, err
	}

	go func() {
		defer close(paymentChan)
		defer close(errChan)

		for {
			invoice, err := stream.Recv()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Logger.Error().Err(err).Msg("Error receiving invoice update")
				select {
				case errChan <- err:
				case <-ctx.Done():
				}
				return
			}

			if invoice.State != lnrpc.Invoice_SETTLED {
				continue
			}

			paymentHash := hex.EncodeToString(invoice.RHash)

			svc.labelsMu.Lock()
			label := svc.labelsByHash[paymentHash]
			delete(svc.labelsByHash, paymentHash)
			svc.labelsMu.Unlock()

			payment := lnclient.InvoicePayment{
				Label:       label,
				PaymentHash: paymentHash,
				AmountSat:   uint64(invoice.AmtPaidSat),
				SettledAt:   time.Unix(invoice.SettleDate, 0),
			}

			select {
			case paymentChan <- payment:
				logger.Logger.Info().
					Str("label", label).
					Str("payment_hash", paymentHash).
					Int64("amount_sat", invoice.AmtPaidSat).
					Msg("Invoice settled")
			case <-ctx.Done():
				return
			}
		}
	}()

	return paymentChan, errChan, nil
}
