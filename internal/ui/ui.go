// Package ui renders terminal output for the watchfolio CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/zawalid/watchfolio/internal/cloudsync"
	"github.com/zawalid/watchfolio/internal/library/schema"
)

var renderer = lipgloss.NewRenderer(os.Stdout)

var (
	accentStyle = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"})
	passStyle   = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2E8540", Dark: "#73F59F"})
	warnStyle   = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B7791F", Dark: "#F6C177"})
	failStyle   = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C53030", Dark: "#FF6B6B"})
	mutedStyle  = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"})
	boldStyle   = renderer.NewStyle().Bold(true)
)

// SetOutput points the renderer at w. The colour profile is detected from w,
// so writers that are not terminals get plain text.
func SetOutput(w io.Writer) {
	renderer.SetOutput(termenv.NewOutput(w))
}

// DisableColor forces plain output.
func DisableColor() {
	renderer.SetColorProfile(termenv.Ascii)
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }

// RenderSyncStatus renders the one-line sync indicator.
func RenderSyncStatus(st cloudsync.Status, now time.Time) string {
	text := st.Text(now)
	switch st.Level() {
	case cloudsync.LevelError:
		msg := "Sync error: " + st.Error
		if st.AuthRequired {
			msg = "Sign-in required: " + st.Error
		}
		return RenderFail("✗ " + msg)
	case cloudsync.LevelOffline:
		return RenderMuted("○ " + text)
	case cloudsync.LevelSyncing:
		return RenderAccent("↻ " + text)
	case cloudsync.LevelPending:
		return RenderWarn("● " + text)
	}
	return RenderPass("✓ " + text)
}

// RenderItem renders one library item as a single line.
func RenderItem(item *schema.LibraryItem) string {
	var b strings.Builder
	b.WriteString(RenderBold(item.Title))
	if year := releaseYear(item.ReleaseDate); year != "" {
		fmt.Fprintf(&b, " (%s)", year)
	}
	fmt.Fprintf(&b, " %s", RenderMuted("["+item.ID+"]"))
	if item.Status != schema.StatusNone {
		fmt.Fprintf(&b, " %s", RenderAccent(string(item.Status)))
	}
	if item.IsFavorite {
		b.WriteString(" " + RenderWarn("★"))
	}
	if item.UserRating != nil {
		fmt.Fprintf(&b, " %d/10", *item.UserRating)
	}
	return b.String()
}

func releaseYear(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}
