package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	adminKey   string
	outputFmt  string
	reqTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "riskctl",
	Short: "Operator CLI for the polyguard admin API",
	Long: `riskctl talks to a running polyguard server over its admin API.

It can:
  - Show circuit-breaker status per bot and for the portfolio
  - Reset a stopped bot or clear the emergency stop
  - Inspect the hot/cold wallet ledger and trigger a rebalance
  - Detect nonce gaps and resync the nonce counter
  - List the transaction journal

The admin key is read from --admin-key or POLYGUARD_ADMIN_KEY.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFmt {
		case "table", "json", "yaml":
		default:
			return fmt.Errorf("--output must be table, json or yaml, got %q", outputFmt)
		}
		if adminKey == "" {
			adminKey = os.Getenv("POLYGUARD_ADMIN_KEY")
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "polyguard server base URL")
	rootCmd.PersistentFlags().StringVar(&adminKey, "admin-key", "", "admin API key (default $POLYGUARD_ADMIN_KEY)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().DurationVar(&reqTimeout, "timeout", 10*time.Second, "request timeout")
}

func newClient() *Client {
	return NewClient(serverURL, adminKey, reqTimeout)
}
