package lnd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/walletrpc"

	"github.com/Blockstream/cln-lsps/lnclient"
	"github.com/Blockstream/cln-lsps/logger"
)

// recvUpdate reads the next update from a parked open stream without
// outliving ctx. The stream itself runs on the service context so it
// survives between workflow steps; ctx carries the remaining step budget. A
// peer that goes silent after acking the shim must not stall the caller past
// its deadline, so the blocked Recv is abandoned to the stream's own cancel.
func recvUpdate(ctx context.Context, parked *fundingStream) (*lnrpc.OpenStatusUpdate, error) {
	type recvResult struct {
		update *lnrpc.OpenStatusUpdate
		err    error
	}
	done := make(chan recvResult, 1)
	go func() {
		update, err := parked.stream.Recv()
		done <- recvResult{update: update, err: err}
	}()

	select {
	case res := <-done:
		return res.update, res.err
	case <-ctx.Done():
		parked.cancel()
		return nil, ctx.Err()
	}
}

// ReserveChannel starts an interactive channel open against the peer using a
// PSBT funding shim with publishing disabled. The peer acknowledges the
// channel and LND hands back the address the funding output must pay to. The
// open stream stays parked until SecureCommitment resumes it.
func (svc *LNDService) ReserveChannel(ctx context.Context, req *lnclient.ReserveChannelRequest) (*lnclient.ChannelReservation, error) {
	peerPubkeyBytes, err := hex.DecodeString(req.PeerPubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid peer pubkey: %w", err)
	}

	pendingChanId := make([]byte, 32)
	if _, err := rand.Read(pendingChanId); err != nil {
		return nil, err
	}

	openReq := &lnrpc.OpenChannelRequest{
		NodePubkey:         peerPubkeyBytes,
		LocalFundingAmount: int64(req.CapacitySat),
		PushSat:            int64(req.PushSat),
		Private:            !req.AnnounceChannel,
		FundingShim: &lnrpc.FundingShim{
			Shim: &lnrpc.FundingShim_PsbtShim{
				PsbtShim: &lnrpc.PsbtShim{
					PendingChanId: pendingChanId,
					NoPublish:     true,
				},
			},
		},
	}

	// The stream must outlive this call; it is resumed in SecureCommitment.
	// Its own cancel tears it down when a step deadline expires.
	streamCtx, streamCancel := context.WithCancel(svc.ctx)
	stream, err := svc.client.OpenChannel(streamCtx, openReq)
	if err != nil {
		streamCancel()
		logger.Logger.Error().Err(err).
			Str("peer_pubkey", req.PeerPubkey).
			Msg("Failed to open channel stream")
		return nil, err
	}
	parked := &fundingStream{stream: stream, cancel: streamCancel}

	update, err := recvUpdate(ctx, parked)
	if err != nil {
		streamCancel()
		logger.Logger.Error().Err(err).
			Str("peer_pubkey", req.PeerPubkey).
			Msg("Peer rejected channel reservation")
		return nil, err
	}

	psbtFund := update.GetPsbtFund()
	if psbtFund == nil {
		streamCancel()
		return nil, fmt.Errorf("unexpected channel open update %T", update.Update)
	}

	svc.fundingMu.Lock()
	svc.fundingStreams[hex.EncodeToString(pendingChanId)] = parked
	svc.fundingMu.Unlock()

	logger.Logger.Info().
		Str("peer_pubkey", req.PeerPubkey).
		Str("pending_chan_id", hex.EncodeToString(pendingChanId)).
		Str("funding_address", psbtFund.FundingAddress).
		Uint64("capacity_sat", req.CapacitySat).
		Msg("Reserved channel with peer")

	return &lnclient.ChannelReservation{
		PeerPubkey:     req.PeerPubkey,
		FundingAddress: psbtFund.FundingAddress,
		PendingChanId:  pendingChanId,
	}, nil
}

// PrepareFundingTx builds an unsigned funding transaction paying amountSat to
// the reservation's funding address. The selected inputs stay leased by the
// wallet until the transaction is published or discarded.
func (svc *LNDService) PrepareFundingTx(ctx context.Context, address string, amountSat uint64, satPerVByte uint64) (*lnclient.FundingTx, error) {
	resp, err := svc.walletKit.FundPsbt(ctx, &walletrpc.FundPsbtRequest{
		Template: &walletrpc.FundPsbtRequest_Raw{
			Raw: &walletrpc.TxTemplate{
				Outputs: map[string]uint64{address: amountSat},
			},
		},
		Fees: &walletrpc.FundPsbtRequest_SatPerVbyte{
			SatPerVbyte: satPerVByte,
		},
		MinConfs: 1,
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("address", address).
			Uint64("amount_sat", amountSat).
			Msg("Failed to fund PSBT")
		return nil, err
	}

	leases := make([]lnclient.UtxoLease, 0, len(resp.LockedUtxos))
	for _, utxo := range resp.LockedUtxos {
		leases = append(leases, lnclient.UtxoLease{
			Id:          utxo.Id,
			TxidBytes:   utxo.Outpoint.TxidBytes,
			OutputIndex: utxo.Outpoint.OutputIndex,
		})
	}

	logger.Logger.Debug().
		Str("address", address).
		Uint64("amount_sat", amountSat).
		Int("locked_utxos", len(leases)).
		Msg("Funded PSBT for channel open")

	return &lnclient.FundingTx{
		FundedPsbt:  resp.FundedPsbt,
		LockedUtxos: leases,
	}, nil
}

// SecureCommitment verifies the funded PSBT against the pending channel,
// signs it, and hands the signed transaction to the funding state machine so
// commitment signatures are exchanged with the peer. On success tx carries
// the final raw transaction and its txid; nothing has been broadcast yet.
func (svc *LNDService) SecureCommitment(ctx context.Context, reservation *lnclient.ChannelReservation, tx *lnclient.FundingTx) error {
	pendingChanIdHex := hex.EncodeToString(reservation.PendingChanId)

	svc.fundingMu.Lock()
	parked, ok := svc.fundingStreams[pendingChanIdHex]
	delete(svc.fundingStreams, pendingChanIdHex)
	svc.fundingMu.Unlock()
	if !ok {
		return errors.New("no open channel stream for reservation")
	}

	_, err := svc.client.FundingStateStep(ctx, &lnrpc.FundingTransitionMsg{
		Trigger: &lnrpc.FundingTransitionMsg_PsbtVerify{
			PsbtVerify: &lnrpc.FundingPsbtVerify{
				FundedPsbt:    tx.FundedPsbt,
				PendingChanId: reservation.PendingChanId,
			},
		},
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("pending_chan_id", pendingChanIdHex).
			Msg("Funding PSBT failed verification")
		return err
	}

	finalized, err := svc.walletKit.FinalizePsbt(ctx, &walletrpc.FinalizePsbtRequest{
		FundedPsbt: tx.FundedPsbt,
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("pending_chan_id", pendingChanIdHex).
			Msg("Failed to sign funding PSBT")
		return err
	}
	tx.SignedPsbt = finalized.SignedPsbt
	tx.FinalRawTx = finalized.RawFinalTx

	_, err = svc.client.FundingStateStep(ctx, &lnrpc.FundingTransitionMsg{
		Trigger: &lnrpc.FundingTransitionMsg_PsbtFinalize{
			PsbtFinalize: &lnrpc.FundingPsbtFinalize{
				SignedPsbt:    tx.SignedPsbt,
				PendingChanId: reservation.PendingChanId,
			},
		},
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("pending_chan_id", pendingChanIdHex).
			Msg("Failed to finalize channel funding")
		return err
	}

	update, err := recvUpdate(ctx, parked)
	if err != nil {
		parked.cancel()
		logger.Logger.Error().Err(err).
			Str("pending_chan_id", pendingChanIdHex).
			Msg("Commitment exchange failed")
		return err
	}
	chanPending := update.GetChanPending()
	if chanPending == nil {
		parked.cancel()
		return fmt.Errorf("unexpected channel open update %T", update.Update)
	}

	// The funding flow now lives in LND's funding manager; the stream has
	// served its purpose.
	parked.cancel()

	txHash, err := chainhash.NewHash(chanPending.Txid)
	if err != nil {
		return fmt.Errorf("invalid funding txid: %w", err)
	}
	tx.TxId = txHash.String()
	tx.OutputIndex = chanPending.OutputIndex

	logger.Logger.Info().
		Str("pending_chan_id", pendingChanIdHex).
		Str("funding_txid", tx.TxId).
		Uint32("output_index", tx.OutputIndex).
		Msg("Commitment secured, funding tx ready to broadcast")

	return nil
}

// BroadcastTx publishes the final funding transaction.
func (svc *LNDService) BroadcastTx(ctx context.Context, tx *lnclient.FundingTx) error {
	resp, err := svc.walletKit.PublishTransaction(ctx, &walletrpc.Transaction{
		TxHex: tx.FinalRawTx,
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("funding_txid", tx.TxId).
			Msg("Failed to publish funding tx")
		return err
	}
	if resp.PublishError != "" {
		logger.Logger.Error().
			Str("funding_txid", tx.TxId).
			Str("publish_error", resp.PublishError).
			Msg("Funding tx rejected by network")
		return errors.New(resp.PublishError)
	}

	logger.Logger.Info().
		Str("funding_txid", tx.TxId).
		Msg("Published funding tx")
	return nil
}

// DiscardFundingTx releases the wallet leases held by a prepared funding
// transaction so the inputs become spendable again.
func (svc *LNDService) DiscardFundingTx(ctx context.Context, tx *lnclient.FundingTx) error {
	var firstErr error
	for _, lease := range tx.LockedUtxos {
		_, err := svc.walletKit.ReleaseOutput(ctx, &walletrpc.ReleaseOutputRequest{
			Id: lease.Id,
			Outpoint: &lnrpc.OutPoint{
				TxidBytes:   lease.TxidBytes,
				OutputIndex: lease.OutputIndex,
			},
		})
		if err != nil {
			logger.Logger.Error().Err(err).
				Uint32("output_index", lease.OutputIndex).
				Msg("Failed to release leased output")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// CancelChannelReservation aborts a reserved channel with the peer and tears
// down the parked open stream.
func (svc *LNDService) CancelChannelReservation(ctx context.Context, reservation *lnclient.ChannelReservation) error {
	pendingChanIdHex := hex.EncodeToString(reservation.PendingChanId)

	svc.fundingMu.Lock()
	if parked, ok := svc.fundingStreams[pendingChanIdHex]; ok {
		parked.cancel()
	}
	delete(svc.fundingStreams, pendingChanIdHex)
	svc.fundingMu.Unlock()

	_, err := svc.client.FundingStateStep(ctx, &lnrpc.FundingTransitionMsg{
		Trigger: &lnrpc.FundingTransitionMsg_ShimCancel{
			ShimCancel: &lnrpc.FundingShimCancel{
				PendingChanId: reservation.PendingChanId,
			},
		},
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("pending_chan_id", pendingChanIdHex).
			Msg("Failed to cancel channel reservation")
		return err
	}

	logger.Logger.Info().
		Str("pending_chan_id", pendingChanIdHex).
		Msg("Cancelled channel reservation")
	return nil
}
