package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// ErrNothingToExport is returned by Export for an empty item list.
var ErrNothingToExport = errors.New("no items were provided to export")

// CSVHeader is the column order written by Export and understood by Parse.
var CSVHeader = []string{
	"id", "tmdbId", "media_type", "title", "posterPath", "releaseDate",
	"status", "isFavorite", "userRating", "addedAt", "lastUpdatedAt", "notes",
	"genres", "rating", "totalMinutesRuntime", "networks", "overview",
}

// Export serialises items in the given format. Library ids are omitted so
// the file can be imported into any account.
func Export(items []*schema.LibraryItem, format Format) ([]byte, error) {
	if len(items) == 0 {
		return nil, ErrNothingToExport
	}

	out := make([]*schema.LibraryItem, len(items))
	for i, item := range items {
		c := item.Clone()
		c.LibraryID = ""
		out[i] = c
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode JSON export: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		data, err := yaml.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to encode YAML export: %w", err)
		}
		return data, nil
	case FormatCSV:
		return exportCSV(out)
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

func exportCSV(items []*schema.LibraryItem) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, item := range items {
		row := []string{
			item.ID,
			strconv.Itoa(item.TMDBID),
			string(item.MediaType),
			item.Title,
			item.PosterPath,
			item.ReleaseDate,
			string(item.Status),
			strconv.FormatBool(item.IsFavorite),
			"",
			formatTime(item.AddedAt),
			formatTime(item.LastUpdatedAt),
			item.Notes,
			"",
			"",
			"",
			"",
			item.Overview,
		}
		if item.UserRating != nil {
			row[8] = strconv.Itoa(*item.UserRating)
		}
		if len(item.Genres) > 0 {
			row[12] = mustJSON(item.Genres)
		}
		if item.Rating != nil {
			row[13] = strconv.FormatFloat(*item.Rating, 'f', -1, 64)
		}
		if item.TotalMinutesRuntime > 0 {
			row[14] = strconv.Itoa(item.TotalMinutesRuntime)
		}
		if len(item.Networks) > 0 {
			row[15] = mustJSON(item.Networks)
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row %s: %w", item.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write CSV export: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
