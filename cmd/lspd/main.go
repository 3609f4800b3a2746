package main

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Blockstream/cln-lsps/http"
	"github.com/Blockstream/cln-lsps/logger"
	"github.com/Blockstream/cln-lsps/service"
)

func main() {
	// Re-initialized with the configured level once config is loaded; until
	// then logging must already work so startup failures are visible.
	logger.Init("info")

	osSignalChannel := make(chan os.Signal, 1)
	signal.Notify(osSignalChannel, os.Interrupt, syscall.SIGTERM, syscall.SIGPIPE)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for {
			sig := <-osSignalChannel
			logger.Logger.Info().Interface("signal", sig).Msg("Received OS signal")

			if sig == syscall.SIGPIPE {
				logger.Logger.Warn().Interface("signal", sig).Msg("Ignoring SIGPIPE signal")
				continue
			}

			cancel()
			break
		}
	}()

	svc, err := service.NewService(ctx)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to create service")
		return
	}
	svc.Start(ctx)

	e := echo.New()
	e.HideBanner = true
	httpSvc := http.NewHttpService(svc)
	httpSvc.RegisterRoutes(e)

	go func() {
		if err := e.Start(fmt.Sprintf(":%v", svc.GetConfig().Port)); err != nil && err != nethttp.ErrServerClosed {
			logger.Logger.Error().Err(err).Msg("echo server failed to start")
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Logger.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to shutdown echo server")
	}

	svc.Shutdown()
	logger.Logger.Info().Msg("Service exited")
}
