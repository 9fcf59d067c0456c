package main

import (
	"fmt"
	"os"

	"github.com/linkdata/streaming"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     Config
)

var rootCmd = &cobra.Command{
	Use:           "streamingctl",
	Short:         "Serve and send multiplexed streaming requests",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if cfg, err = LoadConfig(cfgFile); err == nil {
			streaming.ConfigureLogging(cfg.logConfig())
		}
		return
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "TOML configuration file")
	rootCmd.AddCommand(newServeCmd(), newSendCmd(), newGatewayCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
