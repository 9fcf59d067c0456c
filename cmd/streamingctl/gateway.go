package main

import (
	"net/http"

	"github.com/linkdata/streaming"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newGatewayCmd() *cobra.Command {
	var listen, url string
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Forward plain HTTP requests to a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				cfg.GatewayListen = listen
			}
			if url != "" {
				cfg.URL = url
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runGateway(cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP address to listen on")
	cmd.Flags().StringVar(&url, "url", "", "server URL (tcp://, ws:// or wss://)")
	return cmd
}

func runGateway(cfg Config) error {
	if cfg.GatewayListen == "" || cfg.URL == "" {
		return errors.New("gateway needs gateway_listen and url")
	}
	gw := streaming.NewGateway(cfg.URL)
	gw.Client.DialTimeout = cfg.DialTimeout
	gw.Client.WriteTimeout = cfg.WriteTimeout
	defer gw.Close()

	log := streaming.DefaultLogger()
	log.Info().Str("addr", cfg.GatewayListen).Str("url", cfg.URL).Msg("gateway")
	return errors.WithStack(http.ListenAndServe(cfg.GatewayListen, gw))
}
