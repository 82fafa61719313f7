package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zawalid/watchfolio/internal/app"
	"github.com/zawalid/watchfolio/internal/importer"
	"github.com/zawalid/watchfolio/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "transfer",
	Short:   "Import library items from a JSON, CSV or YAML file",
	Long: `Import library items from a file exported by watchfolio or written by hand.

The format is taken from the file extension unless --format is given.
Imported rows are merged into the library: only the fields present in the
file overwrite stored values.

Rows that fail validation are skipped and reported. The import is rejected
when more than half of the rows are invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		format, err := formatFlag(cmd, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			fmt.Printf("%s Parsing %s...\n", ui.RenderAccent("→"), path)
			resp, err := a.Importer.Submit(ctx, importer.Request{Format: format, Content: content})
			if err != nil {
				return err
			}
			for _, w := range resp.Warnings {
				fmt.Printf("  %s %s\n", ui.RenderWarn("!"), w)
			}
			if !resp.OK() {
				return fmt.Errorf("import failed: %s", resp.Error)
			}

			res, err := a.Library.Import(ctx, resp.Data)
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				fmt.Printf("  %s %v\n", ui.RenderWarn("!"), e)
			}
			fmt.Printf("%s Imported %d items", ui.RenderPass("✓"), res.Applied)
			if res.Skipped > 0 {
				fmt.Printf(", %d rejected", res.Skipped)
			}
			if resp.Skipped > 0 {
				fmt.Printf(", %d invalid rows skipped", resp.Skipped)
			}
			fmt.Println()
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "transfer",
	Short:   "Export the library as JSON, CSV or YAML",
	Long: `Export the whole library.

Without --output the export is written to stdout. The format defaults to
the output file extension, or JSON when writing to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")
		format := importer.FormatJSON
		if out != "" || cmd.Flags().Changed("format") {
			var err error
			if format, err = formatFlag(cmd, out); err != nil {
				return err
			}
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			data, err := a.Library.Export(ctx, format)
			if err != nil {
				return err
			}
			if out == "" {
				_, err := os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(os.Stderr, "%s Exported library to %s\n", ui.RenderPass("✓"), out)
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "transfer",
	Short:   "Delete every item from the library, locally and in the cloud",
	Long: `Delete every item from the library.

When a cloud backend is configured the remote copy is cleared first. If the
cloud is unreachable or the remote clear fails, the local library is left
untouched. Preferences are kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			prefs, err := a.Library.Preferences(ctx)
			if err != nil {
				return err
			}
			if prefs.ClearLibraryConfirmation.On() {
				ok, err := confirm("Clear the whole library?", "Every item is deleted, including the cloud copy.", yes)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Cancelled")
					return nil
				}
			}

			if err := a.Library.Clear(ctx); err != nil {
				return err
			}
			fmt.Printf("%s Library cleared\n", ui.RenderPass("✓"))
			return nil
		})
	},
}

// formatFlag returns --format, or the format implied by path.
func formatFlag(cmd *cobra.Command, path string) (importer.Format, error) {
	if f, _ := cmd.Flags().GetString("format"); f != "" {
		return importer.ParseFormat(f)
	}
	return importer.DetectFormat(path)
}

func init() {
	importCmd.Flags().StringP("format", "f", "", "File format: json, csv or yaml")
	exportCmd.Flags().StringP("format", "f", "", "File format: json, csv or yaml")
	exportCmd.Flags().StringP("output", "o", "", "Output file")
	clearCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(importCmd, exportCmd, clearCmd)
}
