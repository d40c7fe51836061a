package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/report"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
	"github.com/spf13/cobra"
)

func newReportCommand(opts *rootOptions) *cobra.Command {
	var (
		reportType     string
		subscriptionID string
		start          string
		end            string
	)
	names := make([]string, len(report.Types))
	for i, t := range report.Types {
		names[i] = string(t)
	}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a pivot report of the imported export rows as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := report.ParseType(reportType)
			if err != nil {
				return err
			}
			var from, to time.Time
			if start != "" {
				if from, err = time.Parse(dateLayout, start); err != nil {
					return fmt.Errorf("invalid --start %q: %w", start, err)
				}
			}
			if end != "" {
				if to, err = time.Parse(dateLayout, end); err != nil {
					return fmt.Errorf("invalid --end %q: %w", end, err)
				}
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.store.ReportRows(cmd.Context(), store.ReportQuery{
				SubscriptionID: subscriptionID,
				Start:          start,
				End:            end,
			})
			if err != nil {
				return err
			}
			rules := report.RulesFromConfig(a.cfg.Reports)
			table, err := report.Aggregate(t, rows, report.Options{
				SubscriptionID: subscriptionID,
				Start:          from,
				End:            to,
				Rules:          &rules,
			})
			if err != nil {
				return err
			}
			if table.IsEmpty() {
				a.log.Warn("No rows for the selected report", "type", t, "subscription_id", subscriptionID)
				return nil
			}
			return table.WriteCSV(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&reportType, "type", "t", string(report.TypeSummary), "Report type: "+strings.Join(names, ", "))
	cmd.Flags().StringVarP(&subscriptionID, "subscription", "s", "", "Only rows of this subscription")
	cmd.Flags().StringVar(&start, "start", "", "Only billing periods ending on or after this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Only billing periods starting on or before this day (YYYY-MM-DD)")
	return cmd
}
