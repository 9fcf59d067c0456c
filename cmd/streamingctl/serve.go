package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/linkdata/streaming"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var listen, httpListen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo server over TCP and WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				cfg.Listen = listen
			}
			if httpListen != "" {
				cfg.HTTPListen = httpListen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "TCP address to listen on")
	cmd.Flags().StringVar(&httpListen, "http", "", "HTTP address serving the WebSocket endpoint")
	return cmd
}

func runServe(cfg Config) error {
	if cfg.Listen == "" && cfg.HTTPListen == "" {
		return errors.New("nothing to serve, set listen or http_listen")
	}
	srv := streaming.NewServer(cfg.Listen, newDemoHandler())
	srv.MaxConns = cfg.MaxConns
	srv.WriteTimeout = cfg.WriteTimeout
	defer srv.Close()
	log := streaming.DefaultLogger()

	errCh := make(chan error, 2)
	if cfg.Listen != "" {
		ln, err := srv.Listen(cfg.Listen)
		if err != nil {
			return err
		}
		log.Info().Str("addr", ln.Addr().String()).Msg("serving tcp")
		go func() { errCh <- srv.Serve(ln) }()
	}
	if cfg.HTTPListen != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.WebSocketPath, srv)
		hs := &http.Server{Addr: cfg.HTTPListen, Handler: mux}
		defer hs.Close()
		log.Info().Str("addr", cfg.HTTPListen).Str("path", cfg.WebSocketPath).Msg("serving websocket")
		go func() { errCh <- errors.WithStack(hs.ListenAndServe()) }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Stringer("signal", sig).Msg("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}
