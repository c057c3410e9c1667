package main

import (
	"database/sql"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/plaenen/cartflow/pkg/observability"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func newTracesCmd(c *cli) *cobra.Command {
	traces := &cobra.Command{
		Use:   "traces",
		Short: "List recent spans recorded in --trace-dsn",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.TraceDSN == "" {
				return fmt.Errorf("--trace-dsn is required")
			}
			db, err := sql.Open("sqlite", c.cfg.TraceDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := observability.NewSpanStore(cmd.Context(), db, observability.WithRetention(0))
			if err != nil {
				return err
			}

			f := cmd.Flags()
			q := observability.SpanQuery{}
			q.Name, _ = f.GetString("name")
			q.TraceID, _ = f.GetString("trace")
			q.Errors, _ = f.GetBool("errors")
			q.Limit, _ = f.GetInt("limit")
			if since, _ := f.GetDuration("since"); since > 0 {
				q.Since = time.Now().Add(-since)
			}

			spans, err := store.Spans(cmd.Context(), q)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "START\tDURATION\tNAME\tTRACE\tSTATUS")
			for _, s := range spans {
				status := "ok"
				if s.Failed {
					status = "error: " + s.StatusMessage
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					s.Start.Format(time.RFC3339Nano), s.Duration, s.Name, s.TraceID, status)
			}
			return w.Flush()
		},
	}
	traces.Flags().String("name", "", "span name, % and _ act as wildcards")
	traces.Flags().String("trace", "", "trace id")
	traces.Flags().Bool("errors", false, "only failed spans")
	traces.Flags().Int("limit", 50, "maximum number of spans")
	traces.Flags().Duration("since", 0, "only spans started within this window")
	return traces
}
