package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/zawalid/watchfolio/internal/app"
	"github.com/zawalid/watchfolio/internal/library"
	"github.com/zawalid/watchfolio/internal/library/schema"
	"github.com/zawalid/watchfolio/internal/library/store"
	"github.com/zawalid/watchfolio/internal/metadata"
	"github.com/zawalid/watchfolio/internal/ui"
)

var libraryCmd = &cobra.Command{
	Use:     "library",
	Aliases: []string{"lib"},
	GroupID: "library",
	Short:   "Track movies and TV shows in the local library",
}

var addCmd = &cobra.Command{
	Use:   "add [movie-ID|tv-ID]",
	Short: "Add an item to the library or update it",
	Long: `Add a movie or TV show to the library, or update its tracking state.

The metadata snapshot (title, poster, genres...) comes from --media, a TMDB
JSON document, or from the local media cache when the item was seen before.

New items get the default status from your preferences unless --status is
given.

Examples:
  watchfolio library add movie-603 --favorite --rating 9
  watchfolio library add --media ./matrix.json --status completed`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mediaFile, _ := cmd.Flags().GetString("media")
		if len(args) == 0 && mediaFile == "" {
			return fmt.Errorf("an item id or --media is required")
		}

		var media *metadata.Media
		if mediaFile != "" {
			f, err := os.Open(mediaFile)
			if err != nil {
				return fmt.Errorf("failed to open media file: %w", err)
			}
			media, err = metadata.Decode(f)
			f.Close()
			if err != nil {
				return err
			}
		}

		var patch schema.ItemPatch
		if len(args) == 1 {
			mediaType, tmdbID, err := parseKey(args[0])
			if err != nil {
				return err
			}
			patch.MediaType, patch.TMDBID = mediaType, tmdbID
		}
		if err := patchFromFlags(cmd, &patch); err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if media == nil && patch.TMDBID != 0 {
				m, err := a.Media.Resolve(ctx, patch.MediaType, patch.TMDBID)
				if err != nil && !errors.Is(err, metadata.ErrNotFound) {
					return err
				}
				media = m
			}
			item, err := a.Library.AddOrUpdate(ctx, library.Mutation{Item: patch, Media: media})
			if err != nil {
				return err
			}
			printMutation(patch.Key(), item, media)
			return nil
		})
	},
}

// patchFromFlags copies the tracking flags that were set onto p.
func patchFromFlags(cmd *cobra.Command, p *schema.ItemPatch) error {
	flags := cmd.Flags()
	if flags.Changed("status") {
		s, _ := flags.GetString("status")
		status, err := parseStatus(s)
		if err != nil {
			return err
		}
		p.Status = &status
	}
	if flags.Changed("favorite") {
		fav, _ := flags.GetBool("favorite")
		p.IsFavorite = &fav
	}
	if flags.Changed("rating") {
		r, _ := flags.GetString("rating")
		if err := applyRating(p, r); err != nil {
			return err
		}
	}
	if flags.Changed("notes") {
		notes, _ := flags.GetString("notes")
		p.Notes = &notes
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Set the watch status of an item",
	Long: `Set the watch status of an item.

Valid statuses: none, willWatch, watching, onHold, dropped, completed.
Setting "none" on an item that is not a favourite, has no rating and no
notes removes it from the library.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := parseStatus(args[1])
		if err != nil {
			return err
		}
		return mutate(cmd, args[0], func(p *schema.ItemPatch) error {
			p.Status = &status
			return nil
		})
	},
}

var rateCmd = &cobra.Command{
	Use:   "rate <id> <1-10|clear>",
	Short: "Rate an item or clear its rating",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, args[0], func(p *schema.ItemPatch) error {
			return applyRating(p, args[1])
		})
	},
}

var favoriteCmd = &cobra.Command{
	Use:   "favorite <id>",
	Short: "Mark an item as favourite (or not, with --off)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, _ := cmd.Flags().GetBool("off")
		fav := !off
		return mutate(cmd, args[0], func(p *schema.ItemPatch) error {
			p.IsFavorite = &fav
			return nil
		})
	},
}

var noteCmd = &cobra.Command{
	Use:   "note <id> [text...]",
	Short: "Set the notes of an item; no text clears them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		return mutate(cmd, args[0], func(p *schema.ItemPatch) error {
			p.Notes = &text
			return nil
		})
	},
}

// mutate applies fill to a patch for id and saves it.
func mutate(cmd *cobra.Command, id string, fill func(*schema.ItemPatch) error) error {
	mediaType, tmdbID, err := parseKey(id)
	if err != nil {
		return err
	}
	patch := schema.ItemPatch{MediaType: mediaType, TMDBID: tmdbID}
	if err := fill(&patch); err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		item, err := a.Library.AddOrUpdate(ctx, library.Mutation{Item: patch})
		if err != nil {
			return err
		}
		printMutation(patch.Key(), item, nil)
		return nil
	})
}

func printMutation(key string, item *schema.LibraryItem, media *metadata.Media) {
	if item == nil {
		if media != nil {
			key = media.Key()
		}
		fmt.Printf("%s Removed %s (no tracking state left)\n", ui.RenderWarn("−"), key)
		return
	}
	fmt.Printf("%s %s\n", ui.RenderPass("✓"), ui.RenderItem(item))
}

var removeCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove an item from the library",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			item, err := a.Library.Get(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				fmt.Printf("%s is not in the library\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}

			prefs, err := a.Library.Preferences(ctx)
			if err != nil {
				return err
			}
			if prefs.RemoveFromLibraryConfirmation.On() {
				ok, err := confirm("Remove "+item.Title+"?", "Its status, rating and notes will be lost.", yes)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Cancelled")
					return nil
				}
			}

			if err := a.Library.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), ui.RenderItem(item))
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one library item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			item, err := a.Library.Get(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%s is not in the library", args[0])
			}
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(item)
			}

			fmt.Println(ui.RenderItem(item))
			if len(item.Genres) > 0 {
				fmt.Printf("  Genres:  %s\n", strings.Join(item.Genres, ", "))
			}
			if item.Rating != nil {
				fmt.Printf("  TMDB:    %.1f\n", *item.Rating)
			}
			if item.TotalMinutesRuntime > 0 {
				fmt.Printf("  Runtime: %d min\n", item.TotalMinutesRuntime)
			}
			fmt.Printf("  Added:   %s\n", item.AddedAt.Local().Format("2006-01-02 15:04"))
			fmt.Printf("  Updated: %s\n", item.LastUpdatedAt.Local().Format("2006-01-02 15:04"))
			if item.Notes != "" {
				fmt.Printf("\n%s\n", item.Notes)
			}
			if item.Overview != "" {
				fmt.Printf("\n%s\n", ui.RenderMuted(item.Overview))
			}
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List library items, newest first",
	Long: `List library items, newest first.

--since accepts dates ("2024-05-01") and natural language ("last week",
"3 days ago").`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var filter store.ListFilter
		if s, _ := flags.GetString("status"); s != "" {
			status, err := parseStatus(s)
			if err != nil {
				return err
			}
			filter.Status = status
		}
		if t, _ := flags.GetString("type"); t != "" {
			filter.MediaType = schema.MediaType(t)
			if !filter.MediaType.IsValid() {
				return fmt.Errorf("invalid media type %q (use movie or tv)", t)
			}
		}
		filter.Favorites, _ = flags.GetBool("favorites")
		filter.Genre, _ = flags.GetString("genre")
		filter.Search, _ = flags.GetString("search")
		filter.Limit, _ = flags.GetInt("limit")
		if since, _ := flags.GetString("since"); since != "" {
			t, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			filter.AddedSince = t
		}
		jsonOut, _ := flags.GetBool("json")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			items, err := a.Library.List(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(items)
			}
			if len(items) == 0 {
				fmt.Println("No items found")
				return nil
			}
			for _, item := range items {
				fmt.Println(ui.RenderItem(item))
			}
			fmt.Printf("\n%s\n", ui.RenderMuted(fmt.Sprintf("%d items", len(items))))
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show library statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stats, err := a.Library.Stats(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(stats)
			}
			printStats(stats)
			return nil
		})
	},
}

func printStats(s store.LibraryStats) {
	fmt.Printf("%s\n\n", ui.RenderBold("Library"))
	fmt.Printf("  Items:      %d (%d movies, %d shows)\n", s.All, s.Movies, s.TVShows)
	fmt.Printf("  Watching:   %d\n", s.Watching)
	fmt.Printf("  Completed:  %d\n", s.Completed)
	fmt.Printf("  Will watch: %d\n", s.WillWatch)
	fmt.Printf("  On hold:    %d\n", s.OnHold)
	fmt.Printf("  Dropped:    %d\n", s.Dropped)
	fmt.Printf("  Favourites: %d\n", s.Favorites)
	fmt.Printf("  Watched:    %dh\n", s.TotalHoursWatched)
	if s.AverageRating > 0 {
		fmt.Printf("  Avg rating: %.1f\n", s.AverageRating)
	}
	if len(s.TopGenres) > 0 {
		var parts []string
		for _, g := range s.TopGenres {
			parts = append(parts, fmt.Sprintf("%s (%d)", g.Name, g.Count))
		}
		fmt.Printf("  Top genres: %s\n", strings.Join(parts, ", "))
	}
}

func parseKey(id string) (schema.MediaType, int, error) {
	mediaType, tmdbID, err := schema.ParseItemID(id)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", library.ErrInvalidID, err)
	}
	return mediaType, tmdbID, nil
}

func parseStatus(s string) (schema.Status, error) {
	status := schema.Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid status %q", s)
	}
	return status, nil
}

func applyRating(p *schema.ItemPatch, value string) error {
	if value == "clear" || value == "none" {
		p.ClearUserRating = true
		return nil
	}
	r, err := strconv.Atoi(value)
	if err != nil || r < schema.MinUserRating || r > schema.MaxUserRating {
		return fmt.Errorf("rating must be between %d and %d, or \"clear\"", schema.MinUserRating, schema.MaxUserRating)
	}
	p.UserRating = &r
	return nil
}

// parseSince accepts a date, an RFC 3339 time or a natural language
// expression relative to now.
func parseSince(s string, now time.Time) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: no date found", s)
	}
	return r.Time, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	addCmd.Flags().String("status", "", "Watch status")
	addCmd.Flags().Bool("favorite", false, "Mark as favourite")
	addCmd.Flags().String("rating", "", "Rating 1-10, or clear")
	addCmd.Flags().String("notes", "", "Notes")
	addCmd.Flags().String("media", "", "TMDB media JSON file providing the metadata snapshot")

	favoriteCmd.Flags().Bool("off", false, "Remove the favourite mark")
	removeCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	showCmd.Flags().Bool("json", false, "Output JSON")

	listCmd.Flags().StringP("status", "s", "", "Filter by status")
	listCmd.Flags().StringP("type", "t", "", "Filter by media type (movie, tv)")
	listCmd.Flags().BoolP("favorites", "f", false, "Only favourites")
	listCmd.Flags().StringP("genre", "g", "", "Filter by genre")
	listCmd.Flags().String("search", "", "Match titles (case and accent insensitive)")
	listCmd.Flags().String("since", "", "Only items added since this date")
	listCmd.Flags().IntP("limit", "n", 0, "Maximum number of items")
	listCmd.Flags().Bool("json", false, "Output JSON")

	statsCmd.Flags().Bool("json", false, "Output JSON")

	libraryCmd.AddCommand(addCmd, statusCmd, rateCmd, favoriteCmd, noteCmd, removeCmd, showCmd, listCmd, statsCmd)
	rootCmd.AddCommand(libraryCmd)
}
