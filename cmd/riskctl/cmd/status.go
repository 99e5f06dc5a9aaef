package cmd

import (
	"fmt"
	"strconv"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [bot-id]",
	Short: "Show circuit-breaker status",
	Long: `Show circuit-breaker status for every known bot, or for one bot.

Examples:
  riskctl status
  riskctl status 8 -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var resetBotCmd = &cobra.Command{
	Use:   "reset-bot <bot-id>",
	Short: "Clear a stopped bot's breaker and loss streak",
	Args:  cobra.ExactArgs(1),
	RunE:  runResetBot,
}

var dailyResetCmd = &cobra.Command{
	Use:   "daily-reset",
	Short: "Zero every bot's daily P&L (stopped bots stay stopped)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Post(cmd.Context(), "/daily/reset", nil, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "daily P&L reset")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetBotCmd)
	rootCmd.AddCommand(dailyResetCmd)
}

func parseBotID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bot id must be a positive integer, got %q", s)
	}
	return id, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := newClient()
	var statuses []model.CircuitBreakerStatus
	if len(args) == 1 {
		id, err := parseBotID(args[0])
		if err != nil {
			return err
		}
		var st model.CircuitBreakerStatus
		if err := c.Get(cmd.Context(), fmt.Sprintf("/bots/%d", id), nil, &st); err != nil {
			return err
		}
		statuses = []model.CircuitBreakerStatus{st}
	} else if err := c.Get(cmd.Context(), "/bots", nil, &statuses); err != nil {
		return err
	}

	var portfolio model.PortfolioRiskState
	if err := c.Get(cmd.Context(), "/portfolio", nil, &portfolio); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputFmt != "table" {
		return render(out, outputFmt, map[string]any{"bots": statuses, "portfolio": portfolio}, nil)
	}
	fmt.Fprintf(out, "portfolio drawdown %s  emergency stop %s\n",
		pct(portfolio.PortfolioDrawdownPct), yesNo(portfolio.EmergencyStop))
	if portfolio.EmergencyReason != "" {
		fmt.Fprintf(out, "  reason: %s\n", portfolio.EmergencyReason)
	}
	return render(out, outputFmt, statuses, func(t *tablewriter.Table) {
		t.Header("Bot", "Breaker", "Losses", "Daily P&L", "Drawdown", "Reason")
		for _, s := range statuses {
			t.Append(
				strconv.Itoa(s.BotID),
				yesNo(s.IsActive),
				strconv.Itoa(s.ConsecutiveLosses),
				pct(s.DailyPnLPct),
				pct(s.BotDrawdownPct),
				s.Reason,
			)
		}
	})
}

func runResetBot(cmd *cobra.Command, args []string) error {
	id, err := parseBotID(args[0])
	if err != nil {
		return err
	}
	var st model.BotRiskState
	if err := newClient().Post(cmd.Context(), fmt.Sprintf("/bots/%d/reset", id), nil, &st); err != nil {
		return err
	}
	if outputFmt != "table" {
		return render(cmd.OutOrStdout(), outputFmt, st, nil)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "bot %d reset (stopped=%s, losses=%d)\n", st.BotID, yesNo(st.IsStopped), st.ConsecutiveLosses)
	return nil
}
