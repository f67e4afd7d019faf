package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/config"
	"github.com/open-sspm/workspace-audit/internal/connectors/registry"
	"github.com/open-sspm/workspace-audit/internal/scan"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	scanAutoContinue bool
	scanLimit        int
	scanPageSize     int
	scanMode         string
)

var scanCmd = &cobra.Command{
	Use:   "scan <platform>",
	Short: "Run a discovery scan for google_drive or gmail. Ctrl-C stops after the current page.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return commandError(runScan(cmd.OutOrStdout(), args[0]))
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanAutoContinue, "auto-continue", true, "Keep fetching pages until the source is exhausted or --limit is reached")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 0, "Stop auto-continuing after this many processed items (0 uses SCAN_AUTO_CONTINUE_LIMIT)")
	scanCmd.Flags().IntVar(&scanPageSize, "page-size", 0, "Items requested per page (0 uses SCAN_PAGE_SIZE)")
	scanCmd.Flags().StringVar(&scanMode, "mode", "", "full or recent (empty uses SCAN_MODE)")
}

func runScan(out io.Writer, rawPlatform string) error {
	platform, err := asset.ParsePlatform(rawPlatform)
	if err != nil {
		return asset.Invalid("%v", err)
	}
	opts, err := scanOptionsFromFlags(scanAutoContinue, scanLimit, scanPageSize, scanMode)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := newProgressPrinter(out, isTerminal(out))
	a, err := newApp(ctx, cfg, slog.Default(), appOptions{Reporter: printer})
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.scans.Start(ctx, platform, opts)
	printer.finish()
	if err != nil {
		return err
	}
	printScanSummary(out, snap)
	if snap.Phase == scan.PhaseStopped {
		return context.Canceled
	}
	return nil
}

func scanOptionsFromFlags(autoContinue bool, limit, pageSize int, mode string) (scan.Options, error) {
	if limit < 0 {
		return scan.Options{}, asset.Invalid("--limit must be >= 0")
	}
	if pageSize < 0 {
		return scan.Options{}, asset.Invalid("--page-size must be >= 0")
	}
	opts := scan.Options{AutoContinue: autoContinue, AutoContinueLimit: limit, PageSize: pageSize}
	switch mode = strings.ToLower(strings.TrimSpace(mode)); mode {
	case "":
	case string(registry.RunModeFull), string(registry.RunModeRecent):
		opts.Mode = registry.RunMode(mode)
	default:
		return scan.Options{}, asset.Invalid("--mode must be one of: %s, %s", registry.RunModeFull, registry.RunModeRecent)
	}
	return opts, nil
}

func printScanSummary(out io.Writer, snap scan.Snapshot) {
	fmt.Fprintf(out, "%s scan %s: %d pages, %d processed, %d discovered\n",
		snap.Platform, snap.Phase, snap.PagesCompleted, snap.ProcessedCount, snap.DiscoveredCount)
	if snap.HasMore {
		fmt.Fprintln(out, "more items remain; run the scan again with a higher --limit to cover them")
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// progressPrinter renders scan page events. On a terminal the line is
// rewritten in place.
type progressPrinter struct {
	out io.Writer
	tty bool

	mu      sync.Mutex
	pending bool
}

func newProgressPrinter(out io.Writer, tty bool) *progressPrinter {
	return &progressPrinter{out: out, tty: tty}
}

func (p *progressPrinter) Report(e registry.Event) {
	if e.Done || e.Total != registry.UnknownTotal || e.Message == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty {
		fmt.Fprintf(p.out, "\r\033[K%s: %s", e.Source, e.Message)
		p.pending = true
		return
	}
	fmt.Fprintf(p.out, "%s: %s\n", e.Source, e.Message)
}

// finish ends an in-place line so later output starts on its own line.
func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending {
		fmt.Fprintln(p.out)
		p.pending = false
	}
}
