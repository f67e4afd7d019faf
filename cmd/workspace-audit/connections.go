package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/spf13/cobra"
)

var connectionsJSON bool

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Show which platforms are connected and what they may do.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return commandError(withApp(func(ctx context.Context, a *app) error {
			conns := a.connections.StatusAll(ctx)
			if connectionsJSON {
				return printJSON(cmd.OutOrStdout(), conns)
			}
			return printConnections(cmd.OutOrStdout(), conns)
		}))
	},
}

func init() {
	connectionsCmd.Flags().BoolVar(&connectionsJSON, "json", false, "Print the raw JSON result")
}

func printConnections(w io.Writer, conns []asset.PlatformConnection) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tCONNECTED\tAUTH\tACCOUNT\tCREDENTIAL\tREAD\tWRITE\tERROR")
	for _, c := range conns {
		kind := asset.KindDrive
		if len(c.SourceKinds) > 0 {
			kind = c.SourceKinds[0]
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\t%t\t%t\t%s\n",
			c.Platform, c.IsConnected, dash(c.AuthType), dash(c.Email), dash(c.CredentialHint),
			c.Capabilities.CanRead(kind), c.Capabilities.CanWrite(kind), dash(c.Error))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
