package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/taskload/internal/history"
	"github.com/wesleyorama2/taskload/internal/loadtest/report"
)

func newHistoryCmd(a *app) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect previous runs",
		Long: `List, show and delete runs recorded by "taskload run". Runs are stored in
~/.taskload/history.db unless --history-path is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&path, "history-path", "", "Run history database (default ~/.taskload/history.db)")

	withStore := func(fn func(*history.Store) error) error {
		store, err := history.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(store)
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *history.Store) error {
				records, err := store.List(limit)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(a.stdout, "No runs recorded.")
					return nil
				}
				return writeRecords(a, records)
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs, 0 for all")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the JSON summary of a run",
		Long:  "Print the JSON summary of a run. A unique ID prefix is enough.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *history.Store) error {
				r, err := store.Get(args[0])
				if err != nil {
					return historyError(args[0], err)
				}
				if len(r.Summary) == 0 {
					return fmt.Errorf("run %s has no stored summary", r.ID)
				}
				var buf bytes.Buffer
				if err := json.Indent(&buf, r.Summary, "", "  "); err != nil {
					return fmt.Errorf("corrupt summary for run %s: %w", r.ID, err)
				}
				buf.WriteByte('\n')
				_, err = a.stdout.Write(buf.Bytes())
				return err
			})
		},
	}

	del := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a recorded run",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *history.Store) error {
				r, err := store.Get(args[0])
				if err != nil {
					return historyError(args[0], err)
				}
				if err := store.Delete(r.ID); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "Deleted run %s\n", r.ID)
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func writeRecords(a *app, records []history.Record) error {
	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tNAME\tRESULT\tDURATION\tREQUESTS\tERRORS\tP95")
	for _, r := range records {
		result := "passed"
		if !r.Passed {
			result = "failed"
		}
		if r.Interrupted {
			result += " (stopped)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%.2f%%\t%s\n",
			r.ID,
			r.StartTime.Local().Format("2006-01-02 15:04:05"),
			r.Name,
			result,
			report.FormatDuration(r.Duration),
			r.Requests,
			r.ErrorRate*100,
			report.FormatLatency(r.P95),
		)
	}
	return tw.Flush()
}

func historyError(id string, err error) error {
	if errors.Is(err, history.ErrNotFound) {
		return exitErrorf(ExitRuntimeError, "no run matches %q", id)
	}
	return err
}
