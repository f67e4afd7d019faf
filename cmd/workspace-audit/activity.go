package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/open-sspm/workspace-audit/internal/activity"
	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/spf13/cobra"
)

var (
	activityLimit int
	activityClear bool
	activityJSON  bool
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent action outcomes, newest first.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if activityLimit < 1 {
			return commandError(asset.Invalid("--limit must be >= 1"))
		}
		return commandError(withApp(func(ctx context.Context, a *app) error {
			if activityClear {
				if err := a.activity.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "activity cleared")
				return nil
			}
			entries, err := a.activity.List(ctx, activityLimit)
			if err != nil {
				return err
			}
			if activityJSON {
				if entries == nil {
					entries = []activity.Entry{}
				}
				return printJSON(cmd.OutOrStdout(), entries)
			}
			return printActivity(cmd.OutOrStdout(), entries)
		}))
	},
}

func init() {
	activityCmd.Flags().IntVar(&activityLimit, "limit", 50, "Entries to show")
	activityCmd.Flags().BoolVar(&activityClear, "clear", false, "Delete the recorded activity")
	activityCmd.Flags().BoolVar(&activityJSON, "json", false, "Print the raw JSON result")
}

func printActivity(w io.Writer, entries []activity.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tACTION\tASSET\tRESULT\tMESSAGE")
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = "failed"
			if e.ErrorKind != "" {
				result += " (" + e.ErrorKind + ")"
			}
		}
		name := e.AssetID
		if e.AssetName != "" {
			name = e.AssetName + " [" + e.AssetID + "]"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.At.Local().Format(time.DateTime), e.Action, name, result, dash(e.Message))
	}
	return tw.Flush()
}
