package importer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// coerce turns a loosely typed row into a library item. The second result
// reports that an unparsable timestamp was dropped.
func coerce(rec record) (*schema.LibraryItem, bool, *ParseError) {
	f := rec.fields
	fail := func(field, format string, args ...interface{}) (*schema.LibraryItem, bool, *ParseError) {
		return nil, false, &ParseError{Row: rec.row, Field: field, Msg: fmt.Sprintf(format, args...)}
	}

	mediaType := schema.MediaType(strings.ToLower(asString(first(f, "media_type", "mediaType"))))

	tmdbID, ok := asInt(f["tmdbId"])
	if !ok || tmdbID <= 0 {
		tmdbID = 0
		switch id := f["id"].(type) {
		case nil:
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(id)); err == nil {
				tmdbID = n
			} else if mt, n, err := schema.ParseItemID(strings.TrimSpace(id)); err == nil {
				tmdbID = n
				if mediaType == "" {
					mediaType = mt
				}
			}
		default:
			tmdbID, _ = asInt(id)
		}
	}

	if !mediaType.IsValid() {
		return fail("media_type", "must be movie or tv (got %q)", mediaType)
	}
	if tmdbID <= 0 || tmdbID > schema.MaxTMDBID {
		return fail("id", "must be a positive numeric TMDB id")
	}

	item := &schema.LibraryItem{
		ID:          schema.ItemID(mediaType, tmdbID),
		TMDBID:      tmdbID,
		MediaType:   mediaType,
		Status:      schema.StatusNone,
		Notes:       asString(f["notes"]),
		Title:       asString(first(f, "title", "name")),
		PosterPath:  asString(first(f, "posterPath", "poster_path")),
		ReleaseDate: asString(first(f, "releaseDate", "release_date", "first_air_date")),
		Overview:    asString(f["overview"]),
	}

	if s := asString(f["status"]); s != "" {
		item.Status = schema.Status(s)
		if !item.Status.IsValid() {
			return fail("status", "unknown value %q", s)
		}
	}
	if v, ok := f["isFavorite"]; ok {
		fav, ok := asBool(v)
		if !ok {
			return fail("isFavorite", "must be true or false")
		}
		item.IsFavorite = fav
	}
	if v, ok := f["userRating"]; ok && v != nil {
		r, ok := asInt(v)
		switch {
		case !ok:
			return fail("userRating", "must be a number")
		case r > schema.MaxUserRating:
			return fail("userRating", "must be between %d and %d (got %d)", schema.MinUserRating, schema.MaxUserRating, r)
		case r >= schema.MinUserRating:
			item.UserRating = &r
		}
	}
	if v, ok := f["rating"]; ok && v != nil {
		if r, ok := asFloat(v); ok && r >= 0 && r <= 10 {
			item.Rating = &r
		}
	}
	if v, ok := asInt(f["totalMinutesRuntime"]); ok && v >= 0 && v <= schema.MaxRuntimeMinutes {
		item.TotalMinutesRuntime = v
	}
	item.Genres = asStrings(f["genres"])
	item.Networks = asInts(f["networks"])

	var badDates bool
	for _, d := range []struct {
		dst  *time.Time
		keys []string
	}{
		{&item.AddedAt, []string{"addedAt", "addedToLibraryAt"}},
		{&item.LastUpdatedAt, []string{"lastUpdatedAt"}},
	} {
		v := first(f, d.keys...)
		if v == nil {
			continue
		}
		t, ok := asTime(v)
		if !ok {
			badDates = true
			continue
		}
		*d.dst = t
	}

	return item, badDates, nil
}

func first(f map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil && v != "" {
			return v
		}
	}
	return nil
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v interface{}) (int, bool) {
	f, ok := asFloat(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32*1000 {
		return 0, false
	}
	return int(f), true
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func asBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no", "":
			return false, true
		}
	case json.Number, int, int64, float64:
		n, ok := asInt(t)
		return n != 0, ok
	}
	return false, false
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// asList unpacks a list value. Strings holding a JSON array (as written by
// the CSV exporter) are decoded; other strings are split on commas.
func asList(v interface{}) []interface{} {
	switch t := v.(type) {
	case []interface{}:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if strings.HasPrefix(s, "[") {
			var out []interface{}
			dec := json.NewDecoder(strings.NewReader(s))
			dec.UseNumber()
			if err := dec.Decode(&out); err == nil {
				return out
			}
		}
		var out []interface{}
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return nil
}

func asStrings(v interface{}) []string {
	var out []string
	for _, e := range asList(v) {
		if s := asString(e); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func asInts(v interface{}) []int {
	var out []int
	for _, e := range asList(v) {
		if n, ok := asInt(e); ok && n >= 0 {
			out = append(out, n)
		}
	}
	return out
}
