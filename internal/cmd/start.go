package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Acceso-dev/Acceso-x402/internal/api"
	"github.com/Acceso-dev/Acceso-x402/internal/api/websocket"
	"github.com/Acceso-dev/Acceso-x402/internal/database"
	"github.com/Acceso-dev/Acceso-x402/internal/facilitator"
	"github.com/Acceso-dev/Acceso-x402/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the facilitator",
	Long: `Start the x402 facilitator.

This will:
- Load the fee payer signing key from the environment or keystore
- Start the settlement worker pool and idempotency ledger
- Serve the facilitator HTTP API`,
	Run: func(cmd *cobra.Command, args []string) {
		logger.Info("Starting Acceso x402 facilitator...", "cli")

		signer, err := loadSigner()
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to load fee payer key: %v", err), "cli")
			fmt.Printf("Error loading fee payer key: %v\n", err)
			os.Exit(1)
		}
		logger.Info(fmt.Sprintf("Fee payer address: %s", signer.PublicKey()), "cli")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		node, err := facilitator.NewNode(ctx, config, logger, signer)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to initialize facilitator: %v", err), "cli")
			os.Exit(1)
		}
		node.Start()

		// Settlement journal, optional
		var dbManager *database.SQLiteManager
		if config.GetConfigBool("settlement_store_enabled", true) {
			dbManager, err = database.NewSQLiteManager(config)
			if err != nil {
				logger.Error(fmt.Sprintf("Failed to open settlement store: %v", err), "cli")
				os.Exit(1)
			}
		}

		hub := websocket.NewHub(logger)

		// Journal and stream every settlement transition
		node.Settler.OnUpdate(func(rec *facilitator.SettlementRecord) {
			if dbManager != nil {
				if err := dbManager.Settlements.Upsert(rec); err != nil {
					logger.Error(fmt.Sprintf("Failed to journal settlement %s: %v", rec.Fingerprint, err), "cli")
				}
			}
			hub.Broadcast("settlement", rec)
		})

		apiServer := api.NewAPIServer(config, logger, node.Registry, node.Builder,
			node.Verifier, node.Settler, signer, dbManager, hub)
		if err := apiServer.Start(); err != nil {
			logger.Error(fmt.Sprintf("Failed to start API server: %v", err), "cli")
			os.Exit(1)
		}

		fmt.Printf("Acceso x402 facilitator is running on port %s. Press Ctrl+C to stop.\n", apiServer.GetPort())

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutdown signal received, stopping facilitator...", "cli")

		if err := apiServer.Stop(); err != nil {
			logger.Error(fmt.Sprintf("Error stopping API server: %v", err), "cli")
		}
		node.Stop()
		if dbManager != nil {
			if err := dbManager.Close(); err != nil {
				logger.Error(fmt.Sprintf("Error closing settlement store: %v", err), "cli")
			}
		}

		logger.Info("Acceso x402 facilitator stopped successfully", "cli")
	},
}

// loadSigner resolves the fee payer key: FEE_PAYER_KEY in the environment
// wins, otherwise the encrypted keystore is unlocked with a passphrase from
// FEE_PAYER_PASSPHRASE or an interactive prompt.
func loadSigner() (*facilitator.FeePayerSigner, error) {
	if encoded := os.Getenv("FEE_PAYER_KEY"); encoded != "" {
		return facilitator.FeePayerSignerFromBase58(encoded)
	}

	path := keystorePath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no FEE_PAYER_KEY set and no keystore at %s, run 'acceso-x402 key generate' first", path)
	}

	passphrase := os.Getenv("FEE_PAYER_PASSPHRASE")
	if passphrase == "" {
		fmt.Print("Keystore passphrase: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %v", err)
		}
		passphrase = string(raw)
	}

	return facilitator.FeePayerSignerFromKeystore(path, passphrase)
}

func keystorePath() string {
	paths := utils.GetAppPaths("")
	return filepath.Join(paths.DataDir, config.GetConfigWithDefault("keystore_file", "fee-payer.keystore"))
}

func init() {
	rootCmd.AddCommand(startCmd)
}
