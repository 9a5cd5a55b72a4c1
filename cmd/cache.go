package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/boq-resolver/internal/learning"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/normalize"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain learned mappings",
}

// -- cache cleanup --

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete stale low-confidence, rarely used mappings",
	Long:  "Deletes mappings whose confidence AND usage are both below the thresholds. User-validated mappings are never deleted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		policy := cfg.Learning
		if cmd.Flags().Changed("min-confidence") {
			policy.MinConfidence, _ = cmd.Flags().GetFloat64("min-confidence")
		}
		if cmd.Flags().Changed("min-usage") {
			policy.MinUsage, _ = cmd.Flags().GetInt("min-usage")
		}
		if cmd.Flags().Changed("inclusive") {
			if inclusive, _ := cmd.Flags().GetBool("inclusive"); inclusive {
				policy.ConfidenceComparison = learning.LessOrEqual
				policy.UsageComparison = learning.LessOrEqual
			}
		}
		if err := policy.Validate(); err != nil {
			return err
		}

		return withMappings(cmd, func(ctx context.Context, cache *learning.Cache) error {
			n, err := cache.Cleanup(ctx, policy)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Deleted %d mappings.\n", n)
			return nil
		})
	},
}

// -- cache validate --

var cacheValidateCmd = &cobra.Command{
	Use:   "validate <text> <code>",
	Short: "Confirm a mapping by hand; it is pinned at confidence 1.0",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("context")
		cctx, err := parseContext(pairs)
		if err != nil {
			return err
		}
		q := normalize.Query(args[0], cctx)
		if q.Text == "" {
			return eris.Errorf("text %q is empty after normalization", args[0])
		}

		return withMappings(cmd, func(ctx context.Context, cache *learning.Cache) error {
			m, err := cache.Validate(ctx, q.Key(), strings.TrimSpace(args[1]))
			if err != nil {
				return err
			}
			zap.L().Info("mapping validated",
				zap.String("text", m.NormalizedText),
				zap.String("code", m.Code),
				zap.String("context_hash", m.ContextHash),
			)
			formatMappings(os.Stdout, []model.LearnedMapping{*m})
			return nil
		})
	},
}

// -- cache list --

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned mappings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		validated, _ := cmd.Flags().GetBool("validated")
		minConf, _ := cmd.Flags().GetFloat64("min-confidence")
		limit, _ := cmd.Flags().GetInt("limit")
		pairs, _ := cmd.Flags().GetStringArray("context")

		filter := model.MappingFilter{
			TextPrefix:    normalize.Text(prefix),
			MinConfidence: minConf,
			ValidatedOnly: validated,
			Limit:         limit,
		}
		if len(pairs) > 0 {
			cctx, err := parseContext(pairs)
			if err != nil {
				return err
			}
			filter.ContextHash = cctx.Hash()
		}

		return withMappings(cmd, func(ctx context.Context, cache *learning.Cache) error {
			mappings, err := cache.List(ctx, filter)
			if err != nil {
				return err
			}
			if len(mappings) == 0 {
				fmt.Fprintln(os.Stderr, "No mappings found.")
				return nil
			}
			formatMappings(os.Stdout, mappings)
			return nil
		})
	},
}

func withMappings(cmd *cobra.Command, fn func(ctx context.Context, cache *learning.Cache) error) error {
	ctx := cmd.Context()
	if err := cfg.Validate("cache"); err != nil {
		return err
	}
	st, err := initStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	if err := st.Migrate(ctx); err != nil {
		return eris.Wrap(err, "migrate store")
	}
	return fn(ctx, learning.NewCache(st))
}

func formatMappings(w io.Writer, mappings []model.LearnedMapping) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TEXT\tCODE\tCONFIDENCE\tUSAGE\tVALIDATED\tCONTEXT\tLAST USED")
	for _, m := range mappings {
		validated := ""
		if m.ValidatedByUser {
			validated = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%s\t%s\t%s\n",
			truncate(m.NormalizedText, 50), m.Code, m.Confidence, m.UsageCount, validated,
			m.ContextHash, m.LastUsedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	cacheCleanupCmd.Flags().Float64("min-confidence", 0, "delete below this confidence (default from config)")
	cacheCleanupCmd.Flags().Int("min-usage", 0, "delete below this usage count (default from config)")
	cacheCleanupCmd.Flags().Bool("inclusive", false, "compare with <= instead of <")

	cacheValidateCmd.Flags().StringArray("context", nil, "project context as key=value (repeatable)")

	cacheListCmd.Flags().String("prefix", "", "only mappings whose normalized text starts with this")
	cacheListCmd.Flags().Bool("validated", false, "only user-validated mappings")
	cacheListCmd.Flags().Float64("min-confidence", 0, "only mappings at or above this confidence")
	cacheListCmd.Flags().Int("limit", 50, "maximum mappings to list")
	cacheListCmd.Flags().StringArray("context", nil, "only mappings for this context (key=value, repeatable)")

	cacheCmd.AddCommand(cacheCleanupCmd, cacheValidateCmd, cacheListCmd)
	rootCmd.AddCommand(cacheCmd)
}
