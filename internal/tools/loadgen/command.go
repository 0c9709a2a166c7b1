package loadgen

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessioncore/token-lifecycle-service/internal/tools/common"
	"github.com/sessioncore/token-lifecycle-service/internal/tools/ui"
)

// NewCommand builds the traffic generator CLI.
func NewCommand() *cobra.Command {
	cfg := Config{}
	var ci bool
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate synthetic traffic against a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runWithUI(ci, cfg)
			if ci {
				common.PrintCIResult(err == nil, "loadgen", details, err)
			}
			if err != nil {
				os.Exit(3)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: mixed, auth, sessions or health")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to generate traffic")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 6, "concurrent request workers")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "random seed for target selection")
	cmd.Flags().BoolVar(&ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}

func runWithUI(ci bool, cfg Config) ([]string, error) {
	fn := func(ctx context.Context) ([]string, error) {
		res, err := Run(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return summarize(res), nil
	}
	if ci {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration+time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(fmt.Sprintf("loadgen %s", normalizeProfile(cfg.Profile)), fn)
}

func summarize(res Result) []string {
	details := []string{
		fmt.Sprintf("profile=%s total=%d failures=%d elapsed=%s", res.Profile, res.TotalRequests, res.Failures, res.Elapsed.Round(time.Millisecond)),
	}
	classes := make([]string, 0, len(res.StatusClasses))
	for class := range res.StatusClasses {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		details = append(details, fmt.Sprintf("status %s: %d", class, res.StatusClasses[class]))
	}
	return details
}
