package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fsa-maps/internal/model"
	"github.com/sells-group/fsa-maps/internal/query"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show refresh history",
	Long:  "Displays the most recent refresh runs, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg, "status")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.MetadataHistory(ctx, query.ClampHistoryLimit(statusLimit))
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if len(entries) == 0 {
			zap.L().Info("no refresh runs found, run 'fsa-maps refresh' to import the feed")
			return nil
		}

		formatStatusEntries(os.Stdout, entries)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", query.DefaultHistoryLimit, "number of runs to show")
	rootCmd.AddCommand(statusCmd)
}

// formatStatusEntries writes a tabular representation of refresh runs to w.
func formatStatusEntries(out io.Writer, entries []model.Metadata) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDOWNLOADED\tSOURCE\tIMPORTED\tSKIPPED\tTOTAL\tDURATION\tCURRENT\tCSV")
	_, _ = fmt.Fprintln(w, "--\t----------\t------\t--------\t-------\t-----\t--------\t-------\t---")

	for _, e := range entries {
		dur := "-"
		if e.ImportDuration != nil {
			dur = fmt.Sprintf("%.1fs", *e.ImportDuration)
		}
		current := ""
		if e.IsCurrent {
			current = "*"
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			e.ID,
			e.DownloadDate.Format("2006-01-02 15:04"),
			e.Source,
			e.ImportedRecords,
			e.SkippedRecords,
			e.TotalRecords,
			dur,
			current,
			truncate(e.CSVPath, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
