package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/Brownie44l1/food-classifier/internal/store"
	"github.com/spf13/cobra"
)

var (
	historyDB    string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List logged predictions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDB, "db", "", "Prediction log (default $FOODCLASS_DB_PATH)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Rows to print")
}

func runHistory(cmd *cobra.Command, args []string) error {
	path := historyDB
	if path == "" {
		path = cfg.Store.DBPath
	}

	db, err := store.Open(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer db.Close()

	recs, err := db.ListPredictions(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tFILE\tLABEL\tCONFIDENCE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f%%\n",
			r.ID, r.Timestamp.Local().Format(time.DateTime), r.Filename, r.Label, r.Confidence)
	}
	return tw.Flush()
}
