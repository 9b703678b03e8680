package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maxvaer/apihunter/internal/config"
	"github.com/maxvaer/apihunter/internal/runner"
	"github.com/maxvaer/apihunter/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var opts = config.Defaults()

type flagGroup struct {
	title string
	flags []string
}

var helpGroups = []flagGroup{
	{"TARGET", []string{"target", "urls-file", "all"}},
	{"RATE-LIMIT", []string{"concurrency", "per-host", "timeout", "retries", "backoff-initial", "backoff-max", "max-time", "rate-limit", "lite"}},
	{"COOLDOWN", []string{"aggressive", "confirm-aggressive"}},
	{"HTTP", []string{"header", "user-agent", "proxy", "follow-redirects"}},
	{"OUTPUT", []string{"output", "quiet", "verbose", "debug", "no-color"}},
	{"OBSERVABILITY", []string{"metrics-addr", "otlp-endpoint", "otlp-insecure"}},
	{"CONFIGURATION", []string{"config", "resume"}},
}

var rootCmd = &cobra.Command{
	Use:     "apihunter -t <target> [flags]",
	Short:   "Polite, resumable API endpoint prober",
	Version: version.Version,
	Long: `apihunter probes candidate API endpoints of a target, scores how
interesting each one looks and streams every outcome to disk as it
arrives. Hosts that answer with 429 or 503 are cooled down automatically.`,
	Example: `  apihunter -t example.com
  apihunter -l urls.txt -o out --max-time 5m
  cat urls.txt | apihunter -l - --lite
  apihunter -t example.com -H "Authorization: Bearer x" --rate-limit 20
  apihunter -t example.com --aggressive --confirm-aggressive
  apihunter --resume out/target_raw.jsonl -o rebuilt
  apihunter -t example.com --metrics-addr :9090 --otlp-endpoint localhost:4317`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if opts.ConfigFile != "" {
			file, err := config.LoadFile(opts.ConfigFile)
			if err != nil {
				return err
			}
			file.Apply(&opts, cmd.Flags().Changed)
		}
		if opts.Lite {
			applyLite(&opts, cmd.Flags().Changed)
		}
		if err := opts.Validate(); err != nil {
			if errors.Is(err, config.ErrNoTarget) {
				_ = cmd.Help()
				fmt.Fprintln(os.Stderr)
			}
			return err
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runner.Run(ctx, &opts)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.Flags()

	// Target
	f.StringVarP(&opts.Target, "target", "t", "", "Target domain or base URL")
	f.StringVarP(&opts.URLsFile, "urls-file", "l", "", "File with one candidate URL per line (- for stdin)")
	f.BoolVar(&opts.AllCandidates, "all", false, "Probe every candidate, not only API-looking ones")

	// Performance
	f.IntVarP(&opts.Concurrency, "concurrency", "c", opts.Concurrency, "Maximum probes in flight")
	f.IntVar(&opts.PerHost, "per-host", opts.PerHost, "Maximum probes in flight per host")
	f.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "Per-request timeout")
	f.IntVar(&opts.Retries, "retries", opts.Retries, fmt.Sprintf("Attempts per candidate (max %d)", config.MaxRetries))
	f.DurationVar(&opts.BackoffInitial, "backoff-initial", opts.BackoffInitial, "First retry backoff")
	f.DurationVar(&opts.BackoffMax, "backoff-max", opts.BackoffMax, "Retry backoff ceiling")
	f.DurationVar(&opts.MaxTime, "max-time", opts.MaxTime, "Hard deadline for the whole scan")
	f.Float64Var(&opts.RateLimit, "rate-limit", 0, "Requests per second across all hosts (0 = unlimited)")
	f.BoolVar(&opts.Lite, "lite", false, "Low-impact preset: fewer workers, one attempt, short timeout")

	// Cooldown
	f.BoolVar(&opts.Aggressive, "aggressive", false, "Ignore 429/503 and never cool hosts down")
	f.BoolVar(&opts.ConfirmAggressive, "confirm-aggressive", false, "Confirm --aggressive")

	// HTTP
	f.StringSliceVarP(new([]string), "header", "H", nil, "Custom headers (Key: Value)")
	f.StringVar(&opts.UserAgent, "user-agent", opts.UserAgent, "User-Agent string")
	f.StringVar(&opts.Proxy, "proxy", "", "HTTP/SOCKS proxy URL")
	f.BoolVar(&opts.FollowRedirects, "follow-redirects", false, "Follow HTTP redirects")

	// Output
	f.StringVarP(&opts.OutputDir, "output", "o", opts.OutputDir, "Output directory")
	f.BoolVarP(&opts.Quiet, "quiet", "q", false, "Minimal output")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "Log scan progress")
	f.BoolVar(&opts.Debug, "debug", false, "Log every probe")
	f.BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")

	// Observability
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&opts.OTLPEndpoint, "otlp-endpoint", "", "Export traces to this OTLP gRPC endpoint")
	f.BoolVar(&opts.OTLPInsecure, "otlp-insecure", false, "Use plaintext for the OTLP endpoint")

	// Configuration
	f.StringVar(&opts.ConfigFile, "config", "", "YAML config file (flags take precedence)")
	f.StringVar(&opts.ResumeFile, "resume", "", "Rebuild reports from an earlier target_raw.jsonl")

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		w := os.Stderr
		fmt.Fprint(w, helpBanner(cmd.Version))
		fmt.Fprintf(w, "%s\n\nUsage:\n  %s\n", cmd.Long, cmd.UseLine())
		fmt.Fprintf(w, "\nExamples:\n%s\n", cmd.Example)
		fmt.Fprintf(w, "\nFlags:\n")
		for _, g := range helpGroups {
			fmt.Fprintf(w, "\n%s:\n", g.title)
			for _, name := range g.flags {
				if f := cmd.Flags().Lookup(name); f != nil {
					fmt.Fprintln(w, formatFlag(f))
				}
			}
		}
		fmt.Fprintln(w)
	})

	// Headers from -H are parsed before the config file is applied so that
	// they win over file headers.
	rootCmd.PreRunE = chainPreRun(func(cmd *cobra.Command, args []string) error {
		raw, _ := f.GetStringSlice("header")
		headers, err := parseHeaders(raw)
		if err != nil {
			return err
		}
		opts.Headers = headers
		return nil
	}, rootCmd.PreRunE)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// chainPreRun combines two PreRunE functions.
func chainPreRun(first, second func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if first != nil {
			if err := first(cmd, args); err != nil {
				return err
			}
		}
		return second(cmd, args)
	}
}

// parseHeaders turns "Key: Value" strings into a header map.
func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header format %q, expected 'Key: Value'", h)
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers, nil
}

// applyLite switches to the lite preset but keeps every value whose flag
// was set explicitly.
func applyLite(o *config.Options, changed func(string) bool) {
	before := *o
	o.ApplyLite()
	if changed("concurrency") {
		o.Concurrency = before.Concurrency
	}
	if changed("per-host") {
		o.PerHost = before.PerHost
	}
	if changed("retries") {
		o.Retries = before.Retries
	}
	if changed("timeout") {
		o.Timeout = before.Timeout
	}
}

func formatFlag(f *pflag.Flag) string {
	var left string
	if f.Shorthand != "" {
		left = fmt.Sprintf("-%s, --%s", f.Shorthand, f.Name)
	} else {
		left = fmt.Sprintf("    --%s", f.Name)
	}

	typ := f.Value.Type()
	if typ != "bool" {
		left += " " + typ
	}

	const col = 36
	for len(left) < col {
		left += " "
	}

	right := f.Usage
	def := f.DefValue
	if def != "" && def != "false" && def != "0" && def != "0s" && def != "[]" {
		right += fmt.Sprintf(" (default %s)", def)
	}

	return "   " + left + right
}

func helpBanner(ver string) string {
	if ver != "dev" && ver != "" && !strings.HasPrefix(ver, "v") {
		ver = "v" + ver
	}
	return fmt.Sprintf(`
    _   ___ ___ _              _
   /_\ | _ \_ _| |_ _  _ _ _ | |_ ___ _ _
  / _ \|  _/| || ' \ || | ' \|  _/ -_) '_|
 /_/ \_\_| |___|_||_\_,_|_||_|\__\___|_|   %s

`, ver)
}
