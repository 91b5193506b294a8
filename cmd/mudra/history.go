package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent predictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		predictions, err := st.Predictions().List(historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list predictions: %w", err)
		}
		printHistory(os.Stdout, predictions)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of predictions to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func printHistory(w io.Writer, predictions []*store.Prediction) {
	if len(predictions) == 0 {
		fmt.Fprintln(w, "No predictions recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMODE\tFRAMES\tSTATUS\tSIGN\tSENTENCE")
	fmt.Fprintln(tw, "----\t----\t------\t------\t----\t--------")
	for _, p := range predictions {
		sign := p.Label
		if p.Status != store.StatusOK {
			sign = p.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			p.CreatedAt.Local().Format("2006-01-02 15:04:05"), p.Mode, p.Frames, p.Status, sign, p.Sentence)
	}
	tw.Flush()
}
