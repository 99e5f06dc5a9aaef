package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var nonceAddress string

var nonceCmd = &cobra.Command{
	Use:   "nonce",
	Short: "Show the nonce counter for the signing address",
	Args:  cobra.NoArgs,
	RunE:  runNonce,
}

var nonceGapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "List allocated nonces that never confirmed",
	Args:  cobra.NoArgs,
	RunE:  runNonceGaps,
}

var nonceResyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Reset the nonce counter to the chain's pending count",
	Args:  cobra.NoArgs,
	RunE:  runNonceResync,
}

func init() {
	rootCmd.AddCommand(nonceCmd)
	nonceCmd.AddCommand(nonceGapsCmd)
	nonceCmd.AddCommand(nonceResyncCmd)

	nonceCmd.PersistentFlags().StringVarP(&nonceAddress, "address", "a", "", "address to inspect (default: server signer)")
}

func addressQuery() url.Values {
	if nonceAddress == "" {
		return nil
	}
	return url.Values{"address": {nonceAddress}}
}

func runNonce(cmd *cobra.Command, args []string) error {
	var rec model.NonceRecord
	if err := newClient().Get(cmd.Context(), "/nonce", addressQuery(), &rec); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), outputFmt, rec, func(t *tablewriter.Table) {
		t.Header("Address", "Base", "Next", "Confirmed")
		t.Append(rec.Address, strconv.FormatUint(rec.Base, 10), strconv.FormatUint(rec.Next, 10), strconv.Itoa(len(rec.Used)))
	})
}

func runNonceGaps(cmd *cobra.Command, args []string) error {
	var res struct {
		Address string   `json:"address"`
		Gaps    []uint64 `json:"gaps"`
	}
	if err := newClient().Get(cmd.Context(), "/nonce/gaps", addressQuery(), &res); err != nil {
		return err
	}
	if outputFmt != "table" {
		return render(cmd.OutOrStdout(), outputFmt, res, nil)
	}
	if len(res.Gaps) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: no gaps\n", res.Address)
		return nil
	}
	parts := make([]string, len(res.Gaps))
	for i, n := range res.Gaps {
		parts[i] = strconv.FormatUint(n, 10)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d gap(s): %s\n", res.Address, len(res.Gaps), strings.Join(parts, ", "))
	return nil
}

func runNonceResync(cmd *cobra.Command, args []string) error {
	var res struct {
		Address string `json:"address"`
		Next    uint64 `json:"next_nonce"`
	}
	path := "/nonce/resync"
	if q := addressQuery(); q != nil {
		path += "?" + q.Encode()
	}
	if err := newClient().Post(cmd.Context(), path, nil, &res); err != nil {
		return err
	}
	if outputFmt != "table" {
		return render(cmd.OutOrStdout(), outputFmt, res, nil)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: next nonce %d\n", res.Address, res.Next)
	return nil
}
