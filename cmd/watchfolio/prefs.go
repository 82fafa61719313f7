package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zawalid/watchfolio/internal/app"
	"github.com/zawalid/watchfolio/internal/library/schema"
	"github.com/zawalid/watchfolio/internal/ui"
)

var prefsCmd = &cobra.Command{
	Use:     "prefs",
	GroupID: "advanced",
	Short:   "Show or change user preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored preferences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			prefs, err := a.Library.Preferences(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(prefs)
			}
			data, err := yaml.Marshal(prefs)
			if err != nil {
				return fmt.Errorf("failed to encode preferences: %w", err)
			}
			fmt.Print(string(data))
			return nil
		})
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Change one preference",
	Long: `Change one preference by its field name.

Fields:
  theme                          light, dark or system
  language                       language code, e.g. en
  defaultMediaStatus             status given to new items
  autoSync                       true or false
  enableAnimations               enabled or disabled
  clearLibraryConfirmation       enabled or disabled
  removeFromLibraryConfirmation  enabled or disabled
  signOutConfirmation            enabled or disabled`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, value := args[0], args[1]
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			current, err := a.Library.Preferences(ctx)
			if err != nil {
				return err
			}
			if err := current.Set(field, value); err != nil {
				return err
			}
			if _, err := a.Library.UpdatePreferences(ctx, func(p *schema.UserPreferences) {
				_ = p.Set(field, value)
			}); err != nil {
				return err
			}
			fmt.Printf("%s %s = %s\n", ui.RenderPass("✓"), field, value)
			return nil
		})
	},
}

func init() {
	prefsShowCmd.Flags().Bool("json", false, "Output JSON")
	prefsCmd.AddCommand(prefsShowCmd, prefsSetCmd)
	rootCmd.AddCommand(prefsCmd)
}
