package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-rooms/auth"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/policy"
	"github.com/tcriess/lightspeed-rooms/presence"
	"github.com/tcriess/lightspeed-rooms/room"
	"github.com/tcriess/lightspeed-rooms/session"
	"github.com/tcriess/lightspeed-rooms/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "ws service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key for websocket (optional)")
)

const shutdownTimeout = 15 * time.Second

func main() {
	log.SetFlags(0)

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		globals.AppLogger.Error("could not read configuration", "error", err)
		os.Exit(1)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		globals.AppLogger.Error("could not set up persistence", "error", err)
		os.Exit(1)
	}
	defer persister.Close()

	verifier, err := auth.NewVerifier(globalConfig.AuthConfig)
	if err != nil {
		globals.AppLogger.Error("could not set up token verification", "error", err)
		os.Exit(1)
	}
	deletePolicy, err := policy.New(globalConfig.ChatConfig)
	if err != nil {
		globals.AppLogger.Error("could not set up delete policy", "error", err)
		os.Exit(1)
	}

	registry := session.NewRegistry()
	tracker := room.NewTracker()
	publisher := presence.NewPublisher(registry, persister, globalConfig.PresenceConfig)
	startCtx, cancel := context.WithTimeout(context.Background(), globalConfig.PersistenceConfig.OpTimeout)
	err = publisher.Start(startCtx, globalConfig.PresenceConfig.ReconcileSpec)
	cancel()
	if err != nil {
		globals.AppLogger.Error("could not start presence reconciliation", "error", err)
		os.Exit(1)
	}

	router := ws.NewRouter(globalConfig, persister, verifier, registry, tracker, publisher, deletePolicy)
	wsHandler := ws.NewHandler(router, globalConfig)

	server := &http.Server{
		Addr:              *addr,
		Handler:           setupRoutes(wsHandler, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		globals.AppLogger.Info("listening", "addr", *addr, "delete_policy", deletePolicy.Name())
		if *sslCert != "" && *sslKey != "" {
			err = server.ListenAndServeTLS(*sslCert, *sslKey)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			globals.AppLogger.Error("stopped listening", "error", err)
			os.Exit(1)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	globals.AppLogger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		globals.AppLogger.Error("could not shut down http server", "error", err)
	}
	if err := wsHandler.Shutdown(ctx); err != nil {
		globals.AppLogger.Error("could not close all connections", "error", err)
	}
	publisher.Stop()
}

func setupRoutes(wsHandler *ws.Handler, registry *session.Registry) http.Handler {
	router := mux.NewRouter()
	router.Handle("/ws", wsHandler).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       "ok",
			"connections":  wsHandler.NoClients(),
			"online_users": len(registry.OnlineUsers()),
		})
	}).Methods(http.MethodGet)
	return router
}
