package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gate-console/pkg/api"
	"gate-console/pkg/config"
	"gate-console/pkg/db"
	"gate-console/pkg/logging"
	"gate-console/pkg/model"
	"gate-console/pkg/store"
	"gate-console/pkg/version"
)

var cfg config.Config

var gateAdmin = &cobra.Command{
	Use:           "gate-admin",
	Short:         "Admin API server for gateway route rules",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Setup(cfg.LogLevel, cfg.LogFormat)
	},
	RunE: serve,
}

func init() {
	loaded, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg = loaded
	f := gateAdmin.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	f.StringVar(&cfg.Store, "store", cfg.Store, "store backend: memory|consul|mysql (consul requires build tag consul)")
	f.StringVar(&cfg.ConsulAddr, "consul-addr", cfg.ConsulAddr, "consul address (when store=consul)")
	f.IntVar(&cfg.MaxNodes, "max-nodes", cfg.MaxNodes, "maximum nodes per rule, 0 for no limit")
	f.StringVar(&cfg.TLS.Cert, "tls-cert", cfg.TLS.Cert, "TLS cert path (enables HTTPS)")
	f.StringVar(&cfg.TLS.Key, "tls-key", cfg.TLS.Key, "TLS key path")
	f.StringVar(&cfg.TLS.CA, "client-ca", cfg.TLS.CA, "require and verify client certs using this CA (optional)")
	gateAdmin.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	gateAdmin.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text|json")
}

func openStore(cfg config.Config) (store.RouteStore, error) {
	switch cfg.Store {
	case "memory":
		return store.NewMemoryStore(), nil
	case "consul":
		return store.NewConsulStore(cfg.ConsulAddr)
	case "mysql":
		gdb, err := db.Init(cfg.MySQL)
		if err != nil {
			return nil, fmt.Errorf("mysql: %w", err)
		}
		gs := db.NewGormStore(gdb)
		if err := gs.SeedPlugins(model.DefaultPlugins()); err != nil {
			return nil, fmt.Errorf("seed plugins: %w", err)
		}
		return gs, nil
	}
	return nil, fmt.Errorf("unsupported store type: %s", cfg.Store)
}

func serve(cmd *cobra.Command, args []string) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := api.NewHub()
	defer hub.Close()
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, st, hub, api.Options{MaxNodes: cfg.MaxNodes})

	// other gate-admin instances sharing the consul KV change routes too
	if w, ok := st.(interface {
		WatchRoutes(context.Context, func())
	}); ok {
		go w.WatchRoutes(ctx, func() {
			hub.Broadcast(model.ChangeEvent{Type: model.EventRefresh})
		})
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(log.Fields{"addr": cfg.Addr, "store": cfg.Store, "version": version.Build}).Info("gate-admin listening")
	if cfg.TLS.Enabled() {
		tcfg, errTLS := cfg.TLS.Server()
		if errTLS != nil {
			return fmt.Errorf("failed to build TLS config: %w", errTLS)
		}
		srv.TLSConfig = tcfg
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("gate-admin stopped")
	return nil
}

func main() {
	if err := gateAdmin.Execute(); err != nil {
		log.WithError(err).Error("gate-admin failed")
		os.Exit(1)
	}
}
