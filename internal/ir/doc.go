// Package ir provides the JSON intermediate representation shared by the
// wapplibre core.
//
// Schema models and entity payloads are decoded into the sealed Value union
// (Null, Bool, Number, String, Array, Object, Ref) so that every walk over a
// document is an exhaustive type switch instead of a map[string]any probe.
//
// This package imports nothing internal. All other internal packages import
// ir; ir stays the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Ref is produced by the decoder for any object whose "$ref" names a
//     stored schema; local pointers ("#/...") and absolute URLs stay Objects
//   - Numbers keep their literal text (json.Number), nothing is rounded
//   - MarshalCanonical is the only serialization used for stored schemas
//   - All JSON tags use snake_case
package ir
