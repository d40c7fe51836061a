package main

import (
	"fmt"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/exports"
	"github.com/koetjeengdjalanan/nilakandi/internal/tasks"
	"github.com/spf13/cobra"
)

func newExportCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Manage the scheduled cost export of a subscription",
	}
	cmd.AddCommand(
		newExportConfigureCommand(opts),
		newExportStateCommand(opts),
		newExportHistoryCommand(opts),
	)
	return cmd
}

func newExportConfigureCommand(opts *rootOptions) *cobra.Command {
	var (
		subscriptionID string
		scheduled      bool
		scheduleStart  string
		scheduleEnd    string
		reportStart    string
		reportEnd      string
	)
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Create or replace the daily actual-cost export of a subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			def := exports.Definition{SubscriptionID: subscriptionID, Scheduled: scheduled}
			for _, f := range []struct {
				value string
				dst   *time.Time
				name  string
			}{
				{scheduleStart, &def.ScheduleStart, "schedule-start"},
				{scheduleEnd, &def.ScheduleEnd, "schedule-end"},
				{reportStart, &def.ReportStart, "report-start"},
				{reportEnd, &def.ReportEnd, "report-end"},
			} {
				if f.value == "" {
					continue
				}
				t, err := time.Parse(dateLayout, f.value)
				if err != nil {
					return fmt.Errorf("invalid --%s %q: %w", f.name, f.value, err)
				}
				*f.dst = t
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			manager, err := a.exportManager()
			if err != nil {
				return err
			}
			job, err := manager.CreateOrConfigure(cmd.Context(), def)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", job.Name, job.State, job.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&subscriptionID, "subscription", "s", "", "Subscription id")
	cmd.Flags().BoolVar(&scheduled, "scheduled", false, "Activate the daily schedule")
	cmd.Flags().StringVar(&scheduleStart, "schedule-start", "", "First day of the schedule (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringVar(&scheduleEnd, "schedule-end", "", "Last day of the schedule (YYYY-MM-DD), defaults to a year from today")
	cmd.Flags().StringVar(&reportStart, "report-start", "", "First day of the exported data (YYYY-MM-DD), defaults to the first of the month")
	cmd.Flags().StringVar(&reportEnd, "report-end", "", "Last day of the exported data (YYYY-MM-DD), defaults to today")
	_ = cmd.MarkFlagRequired("subscription")
	return cmd
}

func newExportStateCommand(opts *rootOptions) *cobra.Command {
	var subscriptionID string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show whether the export of a subscription is absent, active or inactive",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			manager, err := a.exportManager()
			if err != nil {
				return err
			}
			state, err := manager.State(cmd.Context(), subscriptionID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), state)
			return nil
		},
	}
	cmd.Flags().StringVarP(&subscriptionID, "subscription", "s", "", "Subscription id")
	_ = cmd.MarkFlagRequired("subscription")
	return cmd
}

func newExportHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		subscriptions []string
		inline        bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Queue a pull of the export run history followed by the import of its blobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if inline {
				a.useMemoryQueue()
			}

			ids, err := a.subscriptionIDs(ctx, subscriptions)
			if err != nil {
				return err
			}
			d := a.dispatcher()
			for _, id := range ids {
				if _, err := d.Submit(ctx, tasks.FetchExportHistory, tasks.Payload{SubscriptionID: id}, 0); err != nil {
					return err
				}
			}
			a.log.Info("Export history pulls queued", "subscriptions", len(ids))
			if !inline {
				return nil
			}
			return a.runInline(ctx)
		},
	}
	cmd.Flags().StringSliceVarP(&subscriptions, "subscription", "s", nil, "Subscription ids, defaults to the configured or known subscriptions")
	cmd.Flags().BoolVar(&inline, "inline", false, "Run the queued tasks in this process instead of handing them to the workers")
	return cmd
}
