package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Acceso-dev/Acceso-x402/internal/api/middleware"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin API token",
	Long: `Mint a JWT for the admin settlements API and websocket stream.

The token is signed with the jwt_secret from the config file, so it is only
accepted by a facilitator running with the same secret.`,
	Run: func(cmd *cobra.Command, args []string) {
		secret := config.GetConfigWithDefault("jwt_secret", "change-this-secret-key-in-production")
		if secret == "change-this-secret-key-in-production" {
			fmt.Println("WARNING: jwt_secret is still the default, set a real secret before exposing the admin API")
		}

		jm := middleware.NewJWTManager(secret, "acceso-x402")
		token, err := jm.GenerateToken(tokenSubject, "admin", tokenTTL)
		if err != nil {
			fmt.Printf("Error generating token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "operator", "token subject")
	tokenCmd.Flags().DurationVarP(&tokenTTL, "ttl", "t", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
