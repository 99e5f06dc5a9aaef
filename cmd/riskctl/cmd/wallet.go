package cmd

import (
	"fmt"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Show the hot/cold wallet ledger",
	Args:  cobra.NoArgs,
	RunE:  runWallet,
}

var walletRebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Move funds so the hot wallet is back at its target ratio",
	Args:  cobra.NoArgs,
	RunE:  runWalletRebalance,
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletRebalanceCmd)
}

type walletView struct {
	model.LedgerSnapshot
	TargetHot      string               `json:"target_hot"`
	NeedsRebalance bool                 `json:"needs_rebalance"`
	Rebalance      *model.RebalancePlan `json:"rebalance,omitempty"`
}

func ledgerTable(s model.LedgerSnapshot, target string) func(*tablewriter.Table) {
	return func(t *tablewriter.Table) {
		t.Header("Total", "Hot", "Cold", "Hot Ratio", "Target Hot")
		t.Append(s.Total.StringFixed(2), s.Hot.StringFixed(2), s.Cold.StringFixed(2), s.HotRatio.String(), target)
	}
}

func runWallet(cmd *cobra.Command, args []string) error {
	var v walletView
	if err := newClient().Get(cmd.Context(), "/wallet", nil, &v); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err := render(out, outputFmt, v, ledgerTable(v.LedgerSnapshot, v.TargetHot)); err != nil {
		return err
	}
	if outputFmt == "table" && v.Rebalance != nil {
		fmt.Fprintf(out, "rebalance needed: %s %s\n", v.Rebalance.Direction, v.Rebalance.Amount.StringFixed(2))
	}
	return nil
}

func runWalletRebalance(cmd *cobra.Command, args []string) error {
	var res struct {
		Rebalance model.RebalancePlan  `json:"rebalance"`
		Wallet    model.LedgerSnapshot `json:"wallet"`
	}
	if err := newClient().Post(cmd.Context(), "/wallet/rebalance", nil, &res); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if outputFmt != "table" {
		return render(out, outputFmt, res, nil)
	}
	if res.Rebalance.Direction == model.RebalanceNone {
		fmt.Fprintln(out, "ledger within band, nothing moved")
	} else {
		fmt.Fprintf(out, "moved %s (%s)\n", res.Rebalance.Amount.StringFixed(2), res.Rebalance.Direction)
	}
	return render(out, outputFmt, res.Wallet, ledgerTable(res.Wallet, "-"))
}
