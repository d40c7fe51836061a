package main

import (
	"context"
	"fmt"

	"github.com/koetjeengdjalanan/nilakandi/internal/tasks"
	"github.com/spf13/cobra"
)

// windowFlags are the date window and submission flags shared by the ingestion commands
type windowFlags struct {
	start         string
	end           string
	subscriptions []string
	inline        bool
}

func (f *windowFlags) register(cmd *cobra.Command, queued bool) {
	cmd.Flags().StringVar(&f.start, "start", "", "First day of the window (YYYY-MM-DD), defaults to days_to_ingest days before --end")
	cmd.Flags().StringVar(&f.end, "end", "", "Last day of the window (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringSliceVarP(&f.subscriptions, "subscription", "s", nil, "Subscription ids, defaults to the configured or known subscriptions")
	if queued {
		cmd.Flags().BoolVar(&f.inline, "inline", false, "Run the queued tasks in this process instead of handing them to the workers")
	}
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "List the subscriptions visible to the credential and store them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			syncer, err := a.syncer()
			if err != nil {
				return err
			}
			subs, err := syncer.Sync(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range subs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.SubscriptionID, s.State, s.DisplayName)
			}
			return nil
		},
	}
}

func newPopulateCommand(opts *rootOptions) *cobra.Command {
	flags := &windowFlags{}
	cmd := &cobra.Command{
		Use:   "populate",
		Short: "Sync subscriptions, then queue a cost query ingestion for each of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd.Context(), opts, flags, true, func(ctx context.Context, d *tasks.Dispatcher, ids []string, a *app) ([]tasks.Task, error) {
				start, end, err := window(flags.start, flags.end, a.cfg.Tasks.DaysToIngest, a.clock.Now())
				if err != nil {
					return nil, err
				}
				return d.Populate(ctx, ids, start, end)
			})
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newGrabCommand(opts *rootOptions) *cobra.Command {
	flags := &windowFlags{}
	var all bool
	cmd := &cobra.Command{
		Use:   "grab",
		Short: "Queue cost query and marketplace ingestion for a date window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd.Context(), opts, flags, false, func(ctx context.Context, d *tasks.Dispatcher, ids []string, a *app) ([]tasks.Task, error) {
				start, end, err := window(flags.start, flags.end, a.cfg.Tasks.DaysToIngest, a.clock.Now())
				if err != nil {
					return nil, err
				}
				if all {
					return d.Ingest(ctx, ids, start, end)
				}
				return d.Grab(ctx, ids, start, end)
			})
		},
	}
	flags.register(cmd, true)
	cmd.Flags().BoolVar(&all, "with-exports", false, "Also pull export run history and import the exported blobs")
	return cmd
}

type submitFunc func(ctx context.Context, d *tasks.Dispatcher, ids []string, a *app) ([]tasks.Task, error)

// submit queues work for the selected subscriptions and, with --inline, runs it
func submit(ctx context.Context, opts *rootOptions, flags *windowFlags, syncFirst bool, fn submitFunc) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if flags.inline {
		a.useMemoryQueue()
	}

	if syncFirst {
		syncer, err := a.syncer()
		if err != nil {
			return err
		}
		if _, err := syncer.Sync(ctx); err != nil {
			return err
		}
	}

	ids, err := a.subscriptionIDs(ctx, flags.subscriptions)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no subscriptions to ingest, run sync first")
	}

	queued, err := fn(ctx, a.dispatcher(), ids, a)
	if err != nil {
		return err
	}
	a.log.Info("Tasks submitted", "subscriptions", len(ids), "tasks", len(queued), "inline", flags.inline)

	if !flags.inline {
		return nil
	}
	return a.runInline(ctx)
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	flags := &windowFlags{}
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import the exported blobs of the recorded export runs overlapping a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			start, end, err := window(flags.start, flags.end, a.cfg.Tasks.DaysToIngest, a.clock.Now())
			if err != nil {
				return err
			}
			ids, err := a.subscriptionIDs(cmd.Context(), flags.subscriptions)
			if err != nil {
				return err
			}
			importer, err := a.importer()
			if err != nil {
				return err
			}
			for _, id := range ids {
				totals, err := importer.Import(cmd.Context(), id, start, end)
				if err != nil {
					return fmt.Errorf("import of subscription %s failed: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\truns=%d blobs=%d skipped=%d failed=%d processed=%d imported=%d invalid=%d\n",
					id, totals.Runs, totals.Blobs, totals.Skipped, totals.Failed, totals.Processed, totals.Imported, totals.Invalid)
			}
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}
