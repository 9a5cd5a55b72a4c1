package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/boq-resolver/internal/catalog"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/rows"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Load and search the reference catalog",
}

// -- catalog import --

var catalogImportCmd = &cobra.Command{
	Use:   "import <file|url>",
	Short: "Import a code,name,unit,category sheet into the Postgres catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}
		skip, _ := cmd.Flags().GetInt("skip-rows")

		path, err := localize(ctx, cfg, args[0])
		if err != nil {
			return err
		}
		data, err := rows.ReadFile(path, rows.Options{SkipRows: skip})
		if err != nil {
			return eris.Wrap(err, "catalog import")
		}
		entries := catalog.ParseRows(data)
		if len(entries) == 0 {
			return eris.Errorf("catalog import: no entries in %s", args[0])
		}

		pg, err := catalog.NewPostgresStore(ctx, catalog.PostgresConfig{
			URL:                 cfg.Catalog.DatabaseURL,
			SimilarityThreshold: cfg.Catalog.SimilarityThreshold,
		})
		if err != nil {
			return err
		}
		defer pg.Close()

		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		n, err := pg.Import(ctx, entries)
		if err != nil {
			return err
		}
		zap.L().Info("catalog import complete",
			zap.String("file", args[0]),
			zap.Int("parsed", len(entries)),
			zap.Int64("written", n),
		)
		return nil
	},
}

// -- catalog search --

var catalogSearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search the configured catalog without scoring or escalation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		cat, closeCatalog, err := initCatalog(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeCatalog()

		entries, err := cat.Search(ctx, args[0], limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No entries found.")
			return nil
		}
		formatEntries(os.Stdout, entries)
		return nil
	},
}

func formatEntries(w io.Writer, entries []model.CatalogEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tUNIT\tCATEGORY\tNAME")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Code, dash(e.Unit), dash(e.Category), e.Name)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	catalogImportCmd.Flags().Int("skip-rows", 1, "header rows to skip")
	catalogSearchCmd.Flags().Int("limit", 20, "maximum entries to show")

	catalogCmd.AddCommand(catalogImportCmd, catalogSearchCmd)
	rootCmd.AddCommand(catalogCmd)
}
