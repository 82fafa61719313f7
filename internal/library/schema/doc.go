// Package schema defines the record kinds held by the local library store.
//
// # Overview
//
// Four record kinds are persisted on the device:
//
//   - LibraryItem: one tracked movie or TV show (status, favourite flag, rating,
//     notes and a denormalised metadata snapshot)
//   - Library: the per-user container the items belong to
//   - UserPreferences: one row of UI and sync preferences per user
//   - Media: cached metadata for a title, keyed like a library item
//
// A library item is identified by its media type and TMDB id, normalised to a
// single string key:
//
//	movie-603
//	tv-1396
//
// # Validation
//
// Every record has a Validate method that enforces the declared shape (enums,
// string length limits, numeric ranges). Violations are reported as
// *ValidationError so callers can tell them apart from storage failures:
//
//	var verr *schema.ValidationError
//	if errors.As(err, &verr) {
//	    fmt.Printf("bad field %s: %s\n", verr.Field, verr.Msg)
//	}
//
// # Patches
//
// Writes are expressed as ItemPatch values. Unset pointer fields (and nil
// slices) leave the stored value untouched, set fields overwrite it, and arrays
// are replaced wholesale:
//
//	rating := 8
//	patch := schema.ItemPatch{MediaType: schema.MediaMovie, TMDBID: 603, UserRating: &rating}
//	merged := patch.Apply(existing, time.Now())
//
// An item whose merged state has no status, no favourite flag and no rating is
// considered empty (see IsEmpty) and must not be stored.
package schema
