// Package importer parses library import files and serialises exports.
//
// Parse is a pure function: it never touches the store and never panics.
// Supported formats are JSON (an array of items or an object whose values
// are items), CSV (RFC 4180 with a header row) and YAML (same shapes as
// JSON). Values are coerced leniently: numeric strings become numbers,
// "true"/"false" become booleans and genres/networks may be JSON-encoded
// arrays.
//
// Rows without a valid media type and positive TMDB id are dropped. When
// more than half of the rows are dropped the whole import is rejected.
//
// Pool runs Parse on a fixed set of worker goroutines. Callers exchange
// messages with the workers only; no state is shared.
package importer
