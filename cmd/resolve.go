package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/boq-resolver/internal/engine"
	"github.com/sells-group/boq-resolver/internal/model"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <text>",
	Short: "Resolve a single BOQ row to a catalog code",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pairs, _ := cmd.Flags().GetStringArray("context")
		cctx, err := parseContext(pairs)
		if err != nil {
			return err
		}
		noEsc, _ := cmd.Flags().GetBool("no-escalation")
		asJSON, _ := cmd.Flags().GetBool("json")

		env, err := initEnv(ctx, cfg, "resolve")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.ResolveText(ctx, strings.Join(args, " "), cctx, engine.Options{NoEscalation: noEsc})
		if err != nil {
			return eris.Wrap(err, "resolve")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		formatResolution(os.Stdout, res)
		return nil
	},
}

// parseContext turns key=value pairs into a context descriptor. The keys
// project_type, structural_system and region fill the named fields; any
// other key becomes an attribute.
func parseContext(pairs []string) (model.ContextDescriptor, error) {
	var c model.ContextDescriptor
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return c, eris.Errorf("invalid context %q (want key=value)", p)
		}
		v = strings.TrimSpace(v)
		switch strings.ToLower(k) {
		case "project_type":
			c.ProjectType = v
		case "structural_system":
			c.StructuralSystem = v
		case "region":
			c.Region = v
		default:
			if c.Attributes == nil {
				c.Attributes = make(map[string]string)
			}
			c.Attributes[k] = v
		}
	}
	return c, nil
}

func formatResolution(w io.Writer, res model.Resolution) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if res.Resolved() {
		fmt.Fprintf(tw, "Code:\t%s\n", res.Code)
		if res.Entry != nil {
			fmt.Fprintf(tw, "Name:\t%s\n", res.Entry.Name)
			fmt.Fprintf(tw, "Unit:\t%s\n", res.Entry.Unit)
		}
	} else {
		fmt.Fprintf(tw, "Code:\t(none)\n")
	}
	fmt.Fprintf(tw, "Confidence:\t%.2f\n", res.Confidence)
	fmt.Fprintf(tw, "Source:\t%s\n", res.Source)
	if flags := resolutionFlags(res); flags != "" {
		fmt.Fprintf(tw, "Flags:\t%s\n", flags)
	}
	if res.Rationale != "" {
		fmt.Fprintf(tw, "Rationale:\t%s\n", res.Rationale)
	}
	if res.CostUSD > 0 {
		fmt.Fprintf(tw, "Cost:\t$%.4f\n", res.CostUSD)
	}
	for i, r := range res.Related {
		label := ""
		if i == 0 {
			label = "Related:"
		}
		fmt.Fprintf(tw, "%s\t%s %s\n", label, r.Code, r.Reason)
	}
	for i, c := range res.Candidates {
		label := ""
		if i == 0 {
			label = "Candidates:"
		}
		fmt.Fprintf(tw, "%s\t%s  %.2f  %s\n", label, c.Entry.Code, c.Score, c.Entry.Name)
	}
	tw.Flush() //nolint:errcheck
}

func resolutionFlags(res model.Resolution) string {
	var flags []string
	if res.LowConfidence {
		flags = append(flags, "low_confidence")
	}
	if res.NeedsReview {
		flags = append(flags, "needs_review")
	}
	return strings.Join(flags, ",")
}

func init() {
	resolveCmd.Flags().StringArray("context", nil, "project context as key=value (repeatable)")
	resolveCmd.Flags().Bool("no-escalation", false, "never call the AI selector")
	resolveCmd.Flags().Bool("json", false, "print the resolution as JSON")
	rootCmd.AddCommand(resolveCmd)
}
