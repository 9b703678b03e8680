package runner

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/maxvaer/apihunter/internal/config"
	"github.com/maxvaer/apihunter/internal/filter"
	"github.com/maxvaer/apihunter/internal/wordlist"
)

// stdin is read when the candidate file is "-".
var stdin io.Reader = os.Stdin

// collectCandidates builds the deduplicated candidate list from the URL
// list (file or stdin) and, for a bare target, the built-in API seeds.
// Listed URLs pass the filter chain; seeds are API paths by construction
// and skip it.
func collectCandidates(opts *config.Options, logger *slog.Logger) ([]string, error) {
	var listed []string
	switch opts.URLsFile {
	case "":
	case "-":
		lines, err := wordlist.ReadLines(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading candidates from stdin: %w", err)
		}
		listed = lines
	default:
		lines, err := wordlist.ReadFile(opts.URLsFile)
		if err != nil {
			return nil, fmt.Errorf("reading candidates: %w", err)
		}
		listed = lines
	}

	chain, err := buildChain(opts)
	if err != nil {
		return nil, err
	}
	kept, dropped := chain.Keep(filter.Dedupe(listed))
	for name, n := range dropped {
		logger.Info("candidates filtered", slog.String("filter", name), slog.Int("count", n))
	}

	if opts.Target != "" {
		base, err := opts.TargetURL()
		if err != nil {
			return nil, err
		}
		paths, err := wordlist.Load("", wordlist.DefaultVersions)
		if err != nil {
			return nil, err
		}
		kept = append(kept, base)
		kept = append(kept, wordlist.Seeds(base, paths)...)
	}
	return filter.Dedupe(kept), nil
}

// buildChain returns the filters applied to listed candidates.
func buildChain(opts *config.Options) (*filter.Chain, error) {
	chain := filter.NewChain(filter.StaticFilter{})
	if opts.Target != "" {
		host, err := opts.TargetHost()
		if err != nil {
			return nil, err
		}
		chain.Add(filter.NewScopeFilter(host))
	}
	if !opts.AllCandidates {
		chain.Add(filter.APIPatternFilter{})
	}
	return chain, nil
}
