package cmd

import (
	"net/url"
	"strconv"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var txLimit int

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "List recent transaction journal entries, newest first",
	Args:  cobra.NoArgs,
	RunE:  runTx,
}

func init() {
	rootCmd.AddCommand(txCmd)
	txCmd.Flags().IntVarP(&txLimit, "limit", "n", 20, "number of entries")
}

func runTx(cmd *cobra.Command, args []string) error {
	var recs []model.TxRecord
	q := url.Values{"limit": {strconv.Itoa(txLimit)}}
	if err := newClient().Get(cmd.Context(), "/tx", q, &recs); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), outputFmt, recs, func(t *tablewriter.Table) {
		t.Header("Time", "ID", "Nonce", "Try", "State", "Hash", "Error")
		for _, r := range recs {
			id := r.ID
			if len(id) > 8 {
				id = id[:8]
			}
			t.Append(
				r.CreatedAt.Format("01-02 15:04:05"),
				id,
				strconv.FormatUint(r.Nonce, 10),
				strconv.Itoa(r.Attempt),
				string(r.State),
				r.Hash,
				r.Error,
			)
		}
	})
}
