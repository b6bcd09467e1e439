// Command hfpd runs the Bluetooth hands-free daemon: it registers an HFP
// audio-gateway profile with BlueZ, mediates call state between the
// telephony side and the connected device, and serves the status API.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/btcommons/hfpd/internal/api"
	"github.com/btcommons/hfpd/internal/config"
	"github.com/btcommons/hfpd/internal/hfp"
	"github.com/btcommons/hfpd/internal/store"
	"github.com/btcommons/hfpd/internal/transport"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("hfpd failed", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(db); err != nil {
		return err
	}

	tr, err := transport.NewBluezTransport(cfg.Bluetooth.Adapter, log)
	if err != nil {
		return err
	}

	bus := hfp.NewEventBus()
	mgr := hfp.New(hfp.Deps{
		Transport: tr,
		Settings:  db,
		Bus:       bus,
		Log:       log,
		Timers:    cfg.Timers,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           api.NewRouter(mgr, bus, log),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.API.ListenAddr)
	if err != nil {
		return err
	}
	log.Info("HTTP API listening", zap.String("addr", ln.Addr().String()))

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case err := <-srvErr:
		return err
	}

	mgr.Shutdown()

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
