package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/linkdata/streaming"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var verb, data, jsonData, url string
	cmd := &cobra.Command{
		Use:   "send PATH",
		Short: "Send one request and print the response streams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if url != "" {
				cfg.URL = url
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			req := streaming.NewRequest(strings.ToUpper(verb), args[0])
			if data != "" {
				req.AddStream(streaming.NewStringContent(data))
			}
			if jsonData != "" {
				if !json.Valid([]byte(jsonData)) {
					return errors.New("--json is not valid JSON")
				}
				req.AddStream(streaming.NewBytesContent(streaming.ContentTypeJSON, []byte(jsonData)))
			}
			return runSend(cmd.Context(), cfg, req, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&verb, "verb", "X", "GET", "request verb")
	cmd.Flags().StringVarP(&data, "data", "d", "", "attach a text content stream")
	cmd.Flags().StringVar(&jsonData, "json", "", "attach a JSON content stream")
	cmd.Flags().StringVar(&url, "url", "", "server URL (tcp://, ws:// or wss://)")
	return cmd
}

func runSend(ctx context.Context, cfg Config, req *streaming.Request, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c := streaming.NewClient(cfg.URL, nil)
	c.DialTimeout = cfg.DialTimeout
	c.WriteTimeout = cfg.WriteTimeout
	defer c.Close()

	resp, err := c.SendRequest(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d\n", resp.StatusCode)
	for _, cs := range resp.Streams {
		s, err := cs.ReadAsString(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %s\n", cs.ContentType, s)
	}
	if !resp.IsSuccess() {
		return errors.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}
