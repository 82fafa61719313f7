package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// Format is an import/export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported format %q (want json, csv or yaml)", s)
}

// DetectFormat picks the format from a file extension.
func DetectFormat(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot detect format of %s: no extension", path)
	}
	return ParseFormat(ext)
}

// MaxInvalidPercent is the share of dropped rows above which an import is
// rejected.
const MaxInvalidPercent = 50

// Response types.
const (
	ResponseSuccess = "success"
	ResponseError   = "error"
)

// Request asks a worker to parse one file.
type Request struct {
	Format  Format
	Content []byte
}

// Response is the outcome of parsing a Request.
type Response struct {
	Type     string                `json:"type"`
	Data     []*schema.LibraryItem `json:"data,omitempty"`
	Error    string                `json:"error,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
	// Skipped counts rows dropped for invalid identity or shape.
	Skipped int `json:"skipped,omitempty"`
}

// OK reports whether parsing succeeded.
func (r Response) OK() bool {
	return r.Type == ResponseSuccess
}

// record is one row before coercion.
type record struct {
	row    int
	fields map[string]interface{}
}

// Parse decodes req into library items.
func Parse(req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = Response{Type: ResponseError, Error: fmt.Sprintf("failed to parse import: %v", r)}
		}
	}()

	items, warnings, skipped, err := parse(req)
	if err != nil {
		return Response{Type: ResponseError, Error: err.Error(), Warnings: warnings, Skipped: skipped}
	}
	return Response{Type: ResponseSuccess, Data: items, Warnings: warnings, Skipped: skipped}
}

func parse(req Request) ([]*schema.LibraryItem, []string, int, error) {
	if len(bytes.TrimSpace(req.Content)) == 0 {
		return nil, nil, 0, fileError("the import file appears to be empty")
	}

	var (
		records  []record
		warnings []string
		err      error
	)
	switch req.Format {
	case FormatJSON:
		records, err = decodeJSON(req.Content)
	case FormatYAML:
		records, err = decodeYAML(req.Content)
	case FormatCSV:
		records, warnings, err = decodeCSV(req.Content)
	default:
		err = fileError("unsupported format %q", req.Format)
	}
	if err != nil {
		return nil, warnings, 0, err
	}
	if len(records) == 0 {
		return nil, warnings, 0, fileError("no items found in the import file")
	}

	var (
		items    []*schema.LibraryItem
		invalid  []string
		badDates bool
	)
	for _, rec := range records {
		item, fixedDates, perr := coerce(rec)
		if perr != nil {
			invalid = append(invalid, perr.Error())
			continue
		}
		badDates = badDates || fixedDates
		items = append(items, item)
	}

	if len(invalid) > 0 {
		percent := int(math.Round(float64(len(invalid)) / float64(len(records)) * 100))
		if percent > MaxInvalidPercent {
			return nil, append(warnings, invalid...), len(invalid), fileError(
				"import file contains too many invalid items (%d of %d): each item must have a numeric id and a media_type of movie or tv",
				len(invalid), len(records))
		}
		warnings = append(warnings, fmt.Sprintf("%d items (%d%%) in the import file are invalid and were skipped", len(invalid), percent))
		warnings = append(warnings, invalid...)
	}
	if badDates {
		warnings = append(warnings, "some dates in the import file were invalid and have been replaced with the current time")
	}
	if len(items) == 0 {
		return nil, warnings, len(invalid), fileError("no valid items found in import data")
	}
	return items, warnings, len(invalid), nil
}

func decodeJSON(content []byte) ([]record, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fileError("JSON parsing error: %v", err)
	}
	return recordsFrom(v)
}

func decodeYAML(content []byte) ([]record, error) {
	var v interface{}
	if err := yaml.Unmarshal(content, &v); err != nil {
		return nil, fileError("YAML parsing error: %v", err)
	}
	return recordsFrom(v)
}

// recordsFrom accepts an array of objects or an object whose values are
// objects. Object entries are taken in key order.
func recordsFrom(v interface{}) ([]record, error) {
	var values []interface{}
	switch t := v.(type) {
	case []interface{}:
		values = t
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			values = append(values, t[k])
		}
	default:
		return nil, fileError("invalid structure: expected an array of items or an object with items as values")
	}

	records := make([]record, 0, len(values))
	for i, val := range values {
		obj, ok := val.(map[string]interface{})
		if !ok {
			return nil, fileError("import data must contain only objects (item %d is %T)", i+1, val)
		}
		records = append(records, record{row: i + 1, fields: obj})
	}
	return records, nil
}

func decodeCSV(content []byte) ([]record, []string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, fileError("CSV file must contain at least a header row and one data row")
	}
	if err != nil {
		return nil, nil, csvError(err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}

	has := func(name string) bool {
		for _, h := range header {
			if h == name {
				return true
			}
		}
		return false
	}
	var missing []string
	if !has("id") && !has("tmdbId") {
		missing = append(missing, "id")
	}
	if !has("media_type") {
		missing = append(missing, "media_type")
	}
	if len(missing) > 0 {
		return nil, nil, &ParseError{Row: 1, Msg: "CSV is missing required headers: " + strings.Join(missing, ", ")}
	}

	var (
		records  []record
		warnings []string
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, warnings, csvError(err)
		}
		line, _ := r.FieldPos(0)
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) != len(header) {
			warnings = append(warnings, (&ParseError{
				Row: line,
				Msg: fmt.Sprintf("skipped: invalid column count (expected %d, got %d)", len(header), len(row)),
			}).Error())
			continue
		}

		fields := make(map[string]interface{}, len(header))
		for i, h := range header {
			if row[i] != "" {
				fields[h] = row[i]
			}
		}
		records = append(records, record{row: line, fields: fields})
	}

	if len(records) == 0 && len(warnings) == 0 {
		return nil, nil, fileError("CSV file must contain at least a header row and one data row")
	}
	return records, warnings, nil
}

func csvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Row: pe.Line, Msg: fmt.Sprintf("CSV parsing error: %v", pe.Err)}
	}
	return fileError("CSV parsing error: %v", err)
}
