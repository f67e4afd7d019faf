package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/spf13/cobra"
)

type assetFlags struct {
	types          []string
	riskLevels     []string
	search         string
	isOrphaned     string
	isInactive     string
	isPublic       string
	isVerified     string
	hasUnsubscribe string
	sort           string
	order          string
	limit          int
	offset         int
	json           bool
}

var assetOpts assetFlags

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List discovered assets, riskiest first.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		values := assetOpts.values()
		return commandError(withApp(func(ctx context.Context, a *app) error {
			filters, sort, limit, offset, err := asset.ParseQuery(values)
			if err != nil {
				return err
			}
			result, err := a.engine.GetAssets(ctx, filters, sort, limit, offset)
			if err != nil {
				return err
			}
			if assetOpts.json {
				return printJSON(cmd.OutOrStdout(), result)
			}
			return printAssetTable(cmd.OutOrStdout(), result)
		}))
	},
}

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize assets by type and risk level.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return commandError(withApp(func(ctx context.Context, a *app) error {
			stats, err := a.engine.GetStats(ctx)
			if err != nil {
				return err
			}
			if statsJSON {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			return printStats(cmd.OutOrStdout(), stats)
		}))
	},
}

func init() {
	f := assetsCmd.Flags()
	f.StringSliceVar(&assetOpts.types, "type", nil, "Asset types to include: file, sender, message")
	f.StringSliceVar(&assetOpts.riskLevels, "risk", nil, "Risk levels to include: low, medium, high")
	f.StringVar(&assetOpts.search, "search", "", "Case-insensitive match on name, owner and owner email")
	f.StringVar(&assetOpts.isOrphaned, "orphaned", "", "Only files whose owner is gone (true or false)")
	f.StringVar(&assetOpts.isInactive, "inactive", "", "Only inactive assets (true or false)")
	f.StringVar(&assetOpts.isPublic, "public", "", "Only files shared publicly (true or false)")
	f.StringVar(&assetOpts.isVerified, "verified", "", "Only verified senders and messages (true or false)")
	f.StringVar(&assetOpts.hasUnsubscribe, "has-unsubscribe", "", "Only senders offering unsubscribe (true or false)")
	f.StringVar(&assetOpts.sort, "sort", "", "name, riskScore, createdAt, lastActivityAt or owner")
	f.StringVar(&assetOpts.order, "order", "", "asc or desc")
	f.IntVar(&assetOpts.limit, "limit", asset.DefaultLimit, "Page size")
	f.IntVar(&assetOpts.offset, "offset", 0, "Items to skip")
	f.BoolVar(&assetOpts.json, "json", false, "Print the raw JSON result")

	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the raw JSON result")
}

// values encodes the flags the way the HTTP API receives them so both share
// one parser.
func (f assetFlags) values() url.Values {
	v := url.Values{}
	if len(f.types) > 0 {
		v.Set("types", strings.Join(f.types, ","))
	}
	if len(f.riskLevels) > 0 {
		v.Set("riskLevels", strings.Join(f.riskLevels, ","))
	}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			v.Set(key, value)
		}
	}
	set("search", f.search)
	set("isOrphaned", f.isOrphaned)
	set("isInactive", f.isInactive)
	set("isPublic", f.isPublic)
	set("isVerified", f.isVerified)
	set("hasUnsubscribe", f.hasUnsubscribe)
	set("sort", f.sort)
	set("order", f.order)
	v.Set("limit", strconv.Itoa(f.limit))
	v.Set("offset", strconv.Itoa(f.offset))
	return v
}

func printAssetTable(w io.Writer, result asset.ListResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tRISK\tSCORE\tNAME\tOWNER")
	for _, a := range result.Assets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", a.ID, a.Type(), a.RiskLevel(), a.RiskScore(), a.Name, a.Owner)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "showing %d of %d (offset %d)\n", len(result.Assets), result.Total, result.Offset)
	if result.Partial() {
		fmt.Fprintf(w, "partial result, unavailable sources: %s\n", joinKinds(result.PartialSources))
	}
	return nil
}

func printStats(w io.Writer, stats asset.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "total\t%d\n", stats.Total)
	fmt.Fprintf(tw, "high risk\t%d\n", stats.HighRiskCount)
	fmt.Fprintf(tw, "recent activity\t%d\n", stats.RecentActivityCount)
	for _, t := range asset.Types() {
		fmt.Fprintf(tw, "type %s\t%d\n", t, stats.ByType[t])
	}
	for _, l := range asset.RiskLevels() {
		fmt.Fprintf(tw, "risk %s\t%d\n", l, stats.ByRiskLevel[l])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if stats.Partial() {
		fmt.Fprintf(w, "partial result, unavailable sources: %s\n", joinKinds(stats.PartialSources))
	}
	return nil
}

func joinKinds(kinds []asset.SourceKind) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, string(k))
	}
	return strings.Join(parts, ", ")
}
