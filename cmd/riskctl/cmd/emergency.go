package cmd

import (
	"fmt"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var emergencyCmd = &cobra.Command{
	Use:   "emergency",
	Short: "Trigger or clear the portfolio emergency stop",
	Long: `Trigger or clear the portfolio-wide emergency stop.

Examples:
  riskctl emergency stop --reason "exchange outage"
  riskctl emergency reset --value 9500 --peak 10000`,
}

var emergencyStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Halt all trading",
	Args:  cobra.NoArgs,
	RunE:  runEmergencyStop,
}

var emergencyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the emergency stop once drawdown has recovered",
	Args:  cobra.NoArgs,
	RunE:  runEmergencyReset,
}

var (
	stopReason string
	resetValue string
	resetPeak  string
)

func init() {
	rootCmd.AddCommand(emergencyCmd)
	emergencyCmd.AddCommand(emergencyStopCmd)
	emergencyCmd.AddCommand(emergencyResetCmd)

	emergencyStopCmd.Flags().StringVarP(&stopReason, "reason", "r", "", "reason recorded with the stop")
	emergencyResetCmd.Flags().StringVar(&resetValue, "value", "", "current portfolio value")
	emergencyResetCmd.Flags().StringVar(&resetPeak, "peak", "", "portfolio peak value")
	_ = emergencyResetCmd.MarkFlagRequired("value")
	_ = emergencyResetCmd.MarkFlagRequired("peak")
}

func printPortfolio(cmd *cobra.Command, p model.PortfolioRiskState) error {
	if outputFmt != "table" {
		return render(cmd.OutOrStdout(), outputFmt, p, nil)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "emergency stop %s  portfolio drawdown %s\n", yesNo(p.EmergencyStop), pct(p.PortfolioDrawdownPct))
	if p.EmergencyReason != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "  reason: %s\n", p.EmergencyReason)
	}
	return nil
}

func runEmergencyStop(cmd *cobra.Command, args []string) error {
	var p model.PortfolioRiskState
	body := map[string]string{"reason": stopReason}
	if err := newClient().Post(cmd.Context(), "/emergency/stop", body, &p); err != nil {
		return err
	}
	return printPortfolio(cmd, p)
}

func runEmergencyReset(cmd *cobra.Command, args []string) error {
	value, err := decimal.NewFromString(resetValue)
	if err != nil {
		return fmt.Errorf("--value: %w", err)
	}
	peak, err := decimal.NewFromString(resetPeak)
	if err != nil {
		return fmt.Errorf("--peak: %w", err)
	}
	var p model.PortfolioRiskState
	body := map[string]decimal.Decimal{"portfolio_value": value, "portfolio_peak": peak}
	if err := newClient().Post(cmd.Context(), "/emergency/reset", body, &p); err != nil {
		return err
	}
	return printPortfolio(cmd, p)
}
