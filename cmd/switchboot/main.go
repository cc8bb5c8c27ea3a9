// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command switchboot runs the console bootstrap controller: an HTTP API over
// a SQLite inventory, driving switch bootstraps over the sixteen local serial
// ports.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/switchboot/internal/api"
	"grimm.is/switchboot/internal/config"
	"grimm.is/switchboot/internal/logging"
	"grimm.is/switchboot/internal/metrics"
	"grimm.is/switchboot/internal/scheduler"
	"grimm.is/switchboot/internal/store"
)

func main() {
	if err := run(); err != nil {
		logging.Logger.WithError(err).Fatal("controller exited")
	}
}

func run() error {
	cfg := config.FromEnv()
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	log := logging.Logger

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	log.WithField("db", cfg.DBPath).Info("storage ready")

	mc := metrics.NewCollector(nil)
	sched := scheduler.New(st, cfg, mc, nil)
	server := api.NewServer(cfg, st, sched)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	// Let in-flight runs finish writing their terminal statuses before the
	// store closes.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.SerialTimeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("shutdown timeout reached with runs still active")
	}
	return nil
}
