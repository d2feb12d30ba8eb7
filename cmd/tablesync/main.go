// Command tablesync serves the campaign synchronization engine: an HTTP
// endpoint minting identity tokens and a websocket endpoint multiplexing
// session state to connected clients.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/louisbranch/tablesync/internal/auth"
	"github.com/louisbranch/tablesync/internal/docstore"
	"github.com/louisbranch/tablesync/internal/docstore/bbolt"
	"github.com/louisbranch/tablesync/internal/docstore/sqlite"
	platformcmd "github.com/louisbranch/tablesync/internal/platform/cmd"
	"github.com/louisbranch/tablesync/internal/platform/config"
	"github.com/louisbranch/tablesync/internal/platform/timeouts"
	"github.com/louisbranch/tablesync/internal/telemetry"
	"github.com/louisbranch/tablesync/internal/transport/ws"
)

type serverConfig struct {
	Addr           string        `env:"TABLESYNC_ADDR" envDefault:":8080"`
	SQLitePath     string        `env:"TABLESYNC_SQLITE_PATH" envDefault:"tablesync.db"`
	OfflinePath    string        `env:"TABLESYNC_OFFLINE_PATH"`
	TokenSecret    string        `env:"TABLESYNC_TOKEN_SECRET,required"`
	TokenTTL       time.Duration `env:"TABLESYNC_TOKEN_TTL" envDefault:"12h"`
	DebounceWindow time.Duration `env:"TABLESYNC_DEBOUNCE_WINDOW" envDefault:"1s"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg serverConfig
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		config.Exitf("tablesync: %v", err)
	}

	err := platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceTablesync, func(ctx context.Context) error {
		return run(ctx, cfg)
	})
	if err != nil {
		config.Exitf("tablesync: %v", err)
	}
}

func run(ctx context.Context, cfg serverConfig) error {
	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	var fallback docstore.Store
	if cfg.OfflinePath != "" {
		offline, err := bbolt.Open(cfg.OfflinePath)
		if err != nil {
			return err
		}
		defer offline.Close()
		fallback = offline
	}

	issuer, err := auth.NewIssuer([]byte(cfg.TokenSecret), cfg.TokenTTL, nil)
	if err != nil {
		return err
	}

	gateway := ws.New(ws.Config{
		Store:          store,
		Fallback:       fallback,
		Issuer:         issuer,
		Telemetry:      telemetry.NewEmitter(store, nil, nil),
		DebounceWindow: cfg.DebounceWindow,
	})

	router := mux.NewRouter()
	gateway.Routes(router)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("tablesync listening on %s", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
