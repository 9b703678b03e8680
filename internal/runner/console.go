package runner

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/maxvaer/apihunter/internal/config"
	"github.com/maxvaer/apihunter/internal/output"
	"github.com/maxvaer/apihunter/internal/probe"
	"github.com/maxvaer/apihunter/internal/scanner"
	"github.com/maxvaer/apihunter/internal/scoring"
	"github.com/maxvaer/apihunter/pkg/version"
)

var (
	cyan   = color.New(color.FgCyan)
	dim    = color.New(color.Faint)
	white  = color.New(color.FgHiWhite)
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
)

func printBanner(opts *config.Options, candidates int) {
	w := os.Stderr
	cyan.Fprintf(w, "\n    apihunter %s\n", version.Version)
	dim.Fprintf(w, "    API endpoint recon prober\n")

	rule := strings.Repeat("─", 38)
	dim.Fprintf(w, "  %s\n", rule)
	target := opts.Target
	if target == "" {
		target = opts.URLsFile
	}
	fmt.Fprintf(w, "  %s       %s\n", dim.Sprint("Target:"), white.Sprint(target))
	fmt.Fprintf(w, "  %s   %s\n", dim.Sprint("Candidates:"), white.Sprint(candidates))
	fmt.Fprintf(w, "  %s  %s\n", dim.Sprint("Concurrency:"), yellow.Sprintf("%d (per host %d)", opts.Concurrency, opts.PerHost))
	fmt.Fprintf(w, "  %s     %s\n", dim.Sprint("Deadline:"), white.Sprint(opts.MaxTime))
	mode := green.Sprint("adaptive")
	if opts.Aggressive {
		mode = red.Sprint("aggressive")
	}
	fmt.Fprintf(w, "  %s     %s\n", dim.Sprint("Cooldown:"), mode)
	dim.Fprintf(w, "  %s\n\n", rule)
}

func printSummary(s scanner.Summary, paths output.Paths) {
	w := os.Stderr
	fmt.Fprintln(w)
	if s.DeadlineHit {
		yellow.Fprintf(w, "[!] Deadline reached after %s, results are partial\n", s.Duration.Round(time.Millisecond))
	}
	green.Fprintf(w, "[+] Probed %d/%d candidates in %s", s.Probed, s.Total, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, " (dropped %d, skipped %d)\n", s.Dropped, s.Skipped)
	if s.Paused > 0 {
		dim.Fprintf(w, "[*] Paused for %s\n", s.Paused.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "[*] Raw:        %s\n", paths.Raw)
	fmt.Fprintf(w, "[*] Stream CSV: %s\n", paths.StreamCSV)
	fmt.Fprintf(w, "[*] Sorted CSV: %s\n", paths.SortedCSV)
	fmt.Fprintf(w, "[*] Top:        %s\n", paths.Top)
	printTop(s.Outcomes)
}

// printTop lists the best outcomes, coloured by tier.
func printTop(outs []*probe.Outcome) {
	sorted := output.Sorted(outs)
	if len(sorted) == 0 {
		return
	}
	w := os.Stderr
	fmt.Fprintf(w, "\n  Top %d:\n", min(len(sorted), output.TopN))
	for _, o := range sorted[:min(len(sorted), output.TopN)] {
		tierColor(o.Score).Fprintf(w, "  %s\n", output.TopLine(o))
	}
}

func tierColor(score int) *color.Color {
	switch {
	case score <= scoring.API:
		return green
	case score <= scoring.Redirect:
		return yellow
	case score >= scoring.Static:
		return dim
	default:
		return white
	}
}
