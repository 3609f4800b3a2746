// Package lnd implements lnclient.LNClient against an LND node over gRPC.
package lnd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/walletrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/macaroon.v2"

	"github.com/Blockstream/cln-lsps/lnclient"
	"github.com/Blockstream/cln-lsps/logger"
)

type LNDService struct {
	conn      *grpc.ClientConn
	client    lnrpc.LightningClient
	walletKit walletrpc.WalletKitClient

	pubkey string
	cancel context.CancelFunc
	ctx    context.Context

	// labelsByHash correlates settled invoices back to the label they
	// were created with. LND has no native invoice labels; entries for
	// invoices created before a restart are recovered by payment hash.
	labelsByHash   map[string]string
	labelsMu       sync.Mutex
	fundingStreams map[string]*fundingStream
	fundingMu      sync.Mutex
}

// fundingStream is a parked OpenChannel stream waiting between the reserve
// and commitment steps, with the cancel that tears it down.
type fundingStream struct {
	stream lnrpc.Lightning_OpenChannelClient
	cancel context.CancelFunc
}

type LNDOptions struct {
	Address     string
	CertHex     string
	MacaroonHex string
}

// macaroonCredential implements grpc credentials.PerRPCCredentials.
type macaroonCredential struct {
	macaroonHex string
}

func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.macaroonHex}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool {
	return false
}

func NewLNDService(ctx context.Context, opts LNDOptions) (lnclient.LNClient, error) {
	if opts.Address == "" || opts.MacaroonHex == "" {
		return nil, errors.New("one or more required LND configuration values are missing")
	}

	macBytes, err := hex.DecodeString(opts.MacaroonHex)
	if err != nil {
		return nil, errors.New("macaroon is not valid hex")
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, err
	}

	var transportCreds credentials.TransportCredentials
	if opts.CertHex != "" {
		certBytes, err := hex.DecodeString(opts.CertHex)
		if err != nil {
			return nil, errors.New("TLS certificate is not valid hex")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(certBytes) {
			return nil, errors.New("failed to parse TLS certificate")
		}
		transportCreds = credentials.NewTLS(&tls.Config{RootCAs: pool})
	} else {
		transportCreds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(opts.Address,
		grpc.WithTransportCredentials(transportCreds),
		grpc.WithPerRPCCredentials(macaroonCredential{macaroonHex: opts.MacaroonHex}),
	)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to create LND gRPC client")
		return nil, err
	}

	client := lnrpc.NewLightningClient(conn)

	var info *lnrpc.GetInfoResponse
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		info, err = client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
		if err == nil {
			break
		}
		logger.Logger.Error().Err(err).
			Int("iteration", i).
			Msg("Failed to connect to LND, retrying in 2s")

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			conn.Close()
			return nil, ctx.Err()
		}
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	lndCtx, cancel := context.WithCancel(ctx)
	svc := &LNDService{
		conn:           conn,
		client:         client,
		walletKit:      walletrpc.NewWalletKitClient(conn),
		pubkey:         info.IdentityPubkey,
		cancel:         cancel,
		ctx:            lndCtx,
		labelsByHash:   make(map[string]string),
		fundingStreams: make(map[string]*fundingStream),
	}

	logger.Logger.Info().Str("alias", info.Alias).Msg("Connected to LND")
	return svc, nil
}

func (svc *LNDService) GetPubkey() string {
	return svc.pubkey
}

// EstimateFeeRate asks the wallet for a fee estimate and converts it from
// sat/kw to sat/vbyte.
func (svc *LNDService) EstimateFeeRate(ctx context.Context, targetBlocks uint32) (uint64, error) {
	resp, err := svc.walletKit.EstimateFee(ctx, &walletrpc.EstimateFeeRequest{
		ConfTarget: int32(targetBlocks),
	})
	if err != nil {
		logger.Logger.Error().Err(err).Uint32("target_blocks", targetBlocks).
			Msg("Failed to estimate fee rate")
		return 0, err
	}
	satPerVByte := uint64(resp.SatPerKw) * 4 / 1000
	if satPerVByte < 1 {
		satPerVByte = 1
	}
	return satPerVByte, nil
}

func (svc *LNDService) Shutdown() error {
	svc.cancel()
	return svc.conn.Close()
}
