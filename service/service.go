// Package service wires the node backend, persistence and LSPS protocol
// handlers into one running process.
package service

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/Blockstream/cln-lsps/config"
	"github.com/Blockstream/cln-lsps/db"
	"github.com/Blockstream/cln-lsps/lnclient"
	"github.com/Blockstream/cln-lsps/lnclient/lnd"
	"github.com/Blockstream/cln-lsps/logger"
	"github.com/Blockstream/cln-lsps/lsps/chanopen"
	"github.com/Blockstream/cln-lsps/lsps/common"
	"github.com/Blockstream/cln-lsps/lsps/events"
	"github.com/Blockstream/cln-lsps/lsps/lsps0"
	"github.com/Blockstream/cln-lsps/lsps/lsps1"
	"github.com/Blockstream/cln-lsps/lsps/persist"
	"github.com/Blockstream/cln-lsps/lsps/server"
	"github.com/Blockstream/cln-lsps/lsps/transport"
)

// lsps1ProtocolNumber is the protocol advertised by lsps0.list_protocols.
const lsps1ProtocolNumber = 1

// Service is the running LSP process.
type Service struct {
	cfg        *config.AppConfig
	gormDB     *gorm.DB
	lnClient   lnclient.LNClient
	store      *persist.Store
	eventQueue *events.EventQueue
	server     *server.Server
	caller     *transport.Caller

	lsps0Client *lsps0.ClientHandler
	lsps1Client *lsps1.ClientHandler

	paymentHandler *lsps1.PaymentHandler

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewService loads configuration, connects to the node and registers all
// protocol handlers. Call Start to begin serving.
func NewService(ctx context.Context) (*Service, error) {
	appConfig, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger.Init(appConfig.LogLevel)
	if appConfig.LogToFile {
		if err := logger.AddFileLogger(appConfig.Workdir); err != nil {
			return nil, err
		}
	}

	gormDB, err := db.NewDB(appConfig.DatabaseUri, appConfig.LogDBQueries)
	if err != nil {
		return nil, err
	}

	certHex, err := appConfig.LNDCertHexValue()
	if err != nil {
		return nil, err
	}
	macaroonHex, err := appConfig.LNDMacaroonHexValue()
	if err != nil {
		return nil, err
	}

	lnClient, err := lnd.NewLNDService(ctx, lnd.LNDOptions{
		Address:     appConfig.LNDAddress,
		CertHex:     certHex,
		MacaroonHex: macaroonHex,
	})
	if err != nil {
		return nil, err
	}

	store := persist.NewStore(gormDB)
	eventQueue := events.NewEventQueue(100)

	tr := transport.NewLNDTransport(lnClient)
	caller := transport.NewCaller(tr)
	srv := server.NewServer(tr, caller)

	lsps0Svc := lsps0.NewServiceHandler([]int{lsps1ProtocolNumber})
	srv.RegisterMethod(lsps0.MethodListProtocols, lsps0Svc.HandleListProtocols)

	feeCalc := newFeeCalculator(appConfig, lnClient)
	lsps1Svc := lsps1.NewServiceHandler(lsps1.ServiceConfig{
		Options:       appConfig.Lsps1Options(),
		Website:       appConfig.Lsps1Website,
		OrderLifetime: appConfig.OrderLifetime(),
		ChainParams:   appConfig.ChainParams(),
	}, store, lnClient, feeCalc, eventQueue)
	srv.RegisterMethod(lsps1.MethodGetInfo, lsps1Svc.HandleGetInfo)
	srv.RegisterMethod(lsps1.MethodCreateOrder, lsps1Svc.HandleCreateOrder)
	srv.RegisterMethod(lsps1.MethodGetOrder, lsps1Svc.HandleGetOrder)

	saga := chanopen.NewSaga(lnClient)
	paymentHandler := lsps1.NewPaymentHandler(lsps1.PaymentHandlerConfig{
		SagaBudget:      appConfig.SagaBudget(),
		FeeTargetBlocks: appConfig.Lsps1FeeTargetBlocks,
	}, store, saga, lnClient, eventQueue)

	return &Service{
		cfg:            appConfig,
		gormDB:         gormDB,
		lnClient:       lnClient,
		store:          store,
		eventQueue:     eventQueue,
		server:         srv,
		caller:         caller,
		lsps0Client:    lsps0.NewClientHandler(caller),
		lsps1Client:    lsps1.NewClientHandler(caller),
		paymentHandler: paymentHandler,
	}, nil
}

func newFeeCalculator(appConfig *config.AppConfig, lnClient lnclient.LNClient) lsps1.FeeCalculator {
	if appConfig.Lsps1FeeModel == "onchain" {
		return &lsps1.OnchainFeeCalculator{
			BaseFeeSat:      common.Amount(appConfig.Lsps1FixedFeeSat),
			FundingTxVBytes: appConfig.Lsps1FundingTxVBytes,
			Estimator:       lnClient,
		}
	}
	return &lsps1.FixedFeeCalculator{
		FixedFeeSat: common.Amount(appConfig.Lsps1FixedFeeSat),
	}
}

// Start launches the message loop, the payment pipeline and the event
// consumer.
func (svc *Service) Start(ctx context.Context) {
	ctx, svc.cancel = context.WithCancel(ctx)

	svc.wg.Add(3)
	go func() {
		defer svc.wg.Done()
		if err := svc.server.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Logger.Error().Err(err).Msg("LSPS message loop exited")
		}
	}()
	go func() {
		defer svc.wg.Done()
		if err := svc.paymentHandler.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Logger.Error().Err(err).Msg("Payment pipeline exited")
		}
	}()
	go func() {
		defer svc.wg.Done()
		svc.consumeEvents(ctx)
	}()

	logger.Logger.Info().
		Str("pubkey", svc.lnClient.GetPubkey()).
		Msg("LSP service started")
}

// consumeEvents drains the lifecycle event queue. Events currently feed the
// structured log; the queue keeps protocol handlers decoupled from whatever
// observes them.
func (svc *Service) consumeEvents(ctx context.Context) {
	for {
		event, err := svc.eventQueue.NextEvent(ctx)
		if err != nil {
			return
		}

		entry := logger.Logger.Info().Str("event", event.EventType())
		switch ev := event.(type) {
		case events.OrderCreated:
			entry = entry.Str("order_id", ev.OrderId).Str("client_node", ev.ClientNode)
		case events.PaymentReceived:
			entry = entry.Str("order_id", ev.OrderId).Uint64("amount_sat", ev.AmountSat)
		case events.ChannelOpened:
			entry = entry.Str("order_id", ev.OrderId).Str("funding_txid", ev.FundingTxId)
		case events.OrderFailed:
			entry = entry.Str("order_id", ev.OrderId).Str("reason", ev.Reason)
		}
		entry.Msg("Order lifecycle event")
	}
}

// Shutdown stops the background loops and closes the node connection.
func (svc *Service) Shutdown() {
	if svc.cancel != nil {
		svc.cancel()
	}
	svc.wg.Wait()
	svc.eventQueue.Close()
	if err := svc.lnClient.Shutdown(); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to shut down node connection")
	}
	logger.Logger.Info().Msg("LSP service stopped")
}

func (svc *Service) GetConfig() *config.AppConfig        { return svc.cfg }
func (svc *Service) GetDB() *gorm.DB                     { return svc.gormDB }
func (svc *Service) GetStore() *persist.Store            { return svc.store }
func (svc *Service) GetEventQueue() *events.EventQueue   { return svc.eventQueue }
func (svc *Service) GetLNClient() lnclient.LNClient      { return svc.lnClient }
func (svc *Service) Lsps0Client() *lsps0.ClientHandler   { return svc.lsps0Client }
func (svc *Service) Lsps1Client() *lsps1.ClientHandler   { return svc.lsps1Client }
