package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/open-sspm/workspace-audit/internal/actions"
	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/spf13/cobra"
)

var actionJSON bool

var actionCmd = &cobra.Command{
	Use:   "action <id> <delete|unsubscribe|refresh> [id...]",
	Short: "Apply a remediation action to one or more assets.",
	Long: "Apply a remediation action. Extra ids after the action run as one batch; " +
		"each id is reported on its own and a failure never stops the rest.",
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := asset.ParseAction(args[1])
		if err != nil {
			return commandError(err)
		}
		ids := append([]string{args[0]}, args[2:]...)
		return commandError(withApp(func(ctx context.Context, a *app) error {
			return runAction(ctx, cmd.OutOrStdout(), a.router, ids, action)
		}))
	},
}

func init() {
	actionCmd.Flags().BoolVar(&actionJSON, "json", false, "Print the raw JSON result")
}

type actionPerformer interface {
	PerformAction(ctx context.Context, rawID string, action asset.Action) actions.Result
	PerformBatch(ctx context.Context, rawIDs []string, action asset.Action) (actions.BatchResult, error)
}

var errActionFailed = errors.New("one or more actions failed")

func runAction(ctx context.Context, out io.Writer, router actionPerformer, ids []string, action asset.Action) error {
	if len(ids) == 1 {
		res := router.PerformAction(ctx, ids[0], action)
		if actionJSON {
			if err := printJSON(out, res); err != nil {
				return err
			}
		} else {
			printActionResult(out, res)
		}
		if !res.Success {
			if err := res.Err(); err != nil {
				return &exitError{code: exitCodeFailure, err: err, silent: true}
			}
			return &exitError{code: exitCodeFailure, err: errActionFailed, silent: true}
		}
		return nil
	}

	batch, err := router.PerformBatch(ctx, ids, action)
	if err != nil {
		return err
	}
	if actionJSON {
		if err := printJSON(out, batch); err != nil {
			return err
		}
	} else {
		for _, res := range batch.Items {
			printActionResult(out, res)
		}
		fmt.Fprintf(out, "%s: %d succeeded, %d failed\n", batch.Action, batch.Succeeded, batch.Failed)
	}
	if batch.Failed > 0 {
		return &exitError{code: exitCodeFailure, err: errActionFailed, silent: true}
	}
	return nil
}

func printActionResult(out io.Writer, res actions.Result) {
	if !res.Success {
		fmt.Fprintf(out, "%s %s: failed (%s): %s\n", res.Action, res.ID, res.ErrorKind, res.Error)
		return
	}
	fmt.Fprintf(out, "%s %s: ok\n", res.Action, res.ID)
	for _, k := range slices.Sorted(maps.Keys(res.Payload)) {
		fmt.Fprintf(out, "  %s: %s\n", k, res.Payload[k])
	}
}
