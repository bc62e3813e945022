package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strefethen/dunehd-driver-go/internal/config"
	"github.com/strefethen/dunehd-driver-go/internal/logging"
	"github.com/strefethen/dunehd-driver-go/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config error")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	addr := cfg.Host + ":" + cfg.Port

	handler, shutdownHandler, err := server.NewHandler(cfg, logger, server.Options{})
	if err != nil {
		logger.WithError(err).Fatal("server init error")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sig := <-shutdownCh
		logger.WithField("signal", sig.String()).Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Devices stop first so in-flight polls finish while storage is open.
		if err := shutdownHandler(ctx); err != nil {
			logger.WithError(err).Error("shutdown error")
		}
		if err := srv.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("http shutdown error")
		}
	}()

	logger.WithFields(logrus.Fields{"addr": addr, "version": cfg.DriverVersion}).Info("dunehd-driver listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server error")
	}
	<-done
}
