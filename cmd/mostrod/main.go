package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Catrya/mostro/http"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/service"
)

const (
	exitOK                  = 0
	exitFailure             = 1
	exitLightningUnreachable = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	logger.Logger.Info().Msg("mostrod starting")

	osSignalChannel := make(chan os.Signal, 1)
	signal.Notify(osSignalChannel, os.Interrupt, syscall.SIGTERM, syscall.SIGPIPE)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			sig := <-osSignalChannel
			logger.Logger.Info().Interface("signal", sig).Msg("Received OS signal")
			if sig == syscall.SIGPIPE {
				continue
			}
			cancel()
			return
		}
	}()

	svc, err := service.NewService(ctx)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to create service")
		if errors.Is(err, service.ErrLightningUnavailable) {
			return exitLightningUnreachable
		}
		return exitFailure
	}

	e := echo.New()
	httpSvc := http.NewHttpService(svc.GetConfig(), svc.GetAdminService(), svc.GetRelayService())
	httpSvc.RegisterRoutes(e)
	go func() {
		addr := fmt.Sprintf("127.0.0.1:%v", svc.GetConfig().Env.Port)
		if err := e.Start(addr); err != nil && err != nethttp.ErrServerClosed {
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
	logger.Logger.Info().Msg("mostrod exited")
	return exitOK
}
