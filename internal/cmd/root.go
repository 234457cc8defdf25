package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Acceso-dev/Acceso-x402/internal/utils"
)

var (
	configPath string
	network    string
	config     *utils.ConfigManager
	logger     *utils.LogsManager
)

var rootCmd = &cobra.Command{
	Use:   "acceso-x402",
	Short: "x402 payment facilitator for Solana",
	Long: `A payment facilitator implementing the HTTP 402 micropayment handshake
settled on Solana in USDC.

The facilitator issues payment requirements for monetized resources,
verifies client-submitted partially signed transfer transactions against
them, then co-signs as fee payer, submits, and confirms settlement.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Secrets come from the environment, optionally via a .env file
		_ = godotenv.Load()

		config = utils.NewConfigManager(configPath)

		// Override network from command line flag if provided
		if network != "" {
			config.SetConfig("solana_network", network)
		}

		logger = utils.NewLogsManager(config)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&network, "network", "n", "", "ledger network (solana, solana-devnet)")
}
