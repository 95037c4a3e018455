package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/worthlabs/worth/internal/allocator"
	"github.com/worthlabs/worth/internal/config"
	"github.com/worthlabs/worth/internal/handlers"
	"github.com/worthlabs/worth/internal/hub"
	"github.com/worthlabs/worth/internal/logging"
	"github.com/worthlabs/worth/internal/server"
	"github.com/worthlabs/worth/internal/store/filestore"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg, err := logging.Init(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()
	sugar.Info("starting worth server")

	alloc := allocator.New()
	st, err := filestore.New(cfg.DataDir, alloc, sugar)
	if err != nil {
		sugar.Fatalf("store init: %v", err)
	}

	notifyHub := hub.New(hub.NewBroadcaster(cfg.MaxDatagram, sugar), sugar)
	disp := server.NewDispatcher(st, notifyHub, sugar)
	tcpServer := server.New(disp, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handlers.New(st, notifyHub, sugar).Router(),
	}
	go func() {
		sugar.Infow("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	go func() {
		if err := tcpServer.ListenAndServe(ctx, cfg.TCPAddr); err != nil {
			sugar.Fatalf("tcp server failed: %v", err)
		}
	}()

	sugar.Info("service is running; press Ctrl+C to stop")
	<-ctx.Done()

	sugar.Info("shutting down")
	notifyHub.NotifyServerShutdown()

	doneCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	// Remaining TCP connections are left to close naturally within the grace
	// period; no drain guarantee is made.
	done := make(chan struct{})
	go func() {
		tcpServer.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.ShutdownGrace):
		sugar.Warn("abandoning open connections")
	}

	sugar.Info("goodbye")
}
