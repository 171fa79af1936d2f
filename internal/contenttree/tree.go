// Package contenttree manipulates decoded JSON document trees: path access,
// deep copy/equality, path-scoped merge and structural diff.
package contenttree

import (
	"sort"

	"phrasebridge/internal/pathkey"
)

// SystemFields are content-store bookkeeping fields that never take part in
// translation payloads, merges or diffs.
var SystemFields = map[string]struct{}{
	"_id":        {},
	"_rev":       {},
	"_type":      {},
	"_createdAt": {},
	"_updatedAt": {},
}

// IsSystemField reports whether name is content-store bookkeeping.
func IsSystemField(name string) bool {
	_, ok := SystemFields[name]
	return ok
}

// Get resolves path inside doc. The root path resolves to doc itself.
func Get(doc map[string]any, path pathkey.Path) (any, bool) {
	if path.IsRoot() {
		return doc, true
	}
	var cur any = doc
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at path inside doc, creating intermediate objects as
// needed. Setting the root path is invalid and ignored.
func Set(doc map[string]any, path pathkey.Path, value any) {
	if path.IsRoot() {
		return
	}
	cur := doc
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}

// Copy deep-copies a JSON value tree.
func Copy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Copy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Copy(val)
		}
		return out
	default:
		return v
	}
}

// Equal deep-compares two JSON value trees.
func Equal(a, b any) bool {
	switch ta := a.(type) {
	case map[string]any:
		tb, ok := b.(map[string]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for k, va := range ta {
			vb, ok := tb[k]
			if !ok || !Equal(va, vb) {
				return false
			}
		}
		return true
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !Equal(ta[i], tb[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// MergeAtPaths returns a deep copy of target with the values of source
// grafted in at exactly the given paths. Everything outside the paths stays
// identical to target; a root path replaces all of target's translatable
// fields with source's. System fields and the translation metadata field are
// never copied from source.
func MergeAtPaths(target, source map[string]any, paths []pathkey.Path) map[string]any {
	out, _ := Copy(target).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	for _, path := range expandRoot(source, paths) {
		value, ok := Get(source, path)
		if !ok {
			continue
		}
		Set(out, path, Copy(value))
	}
	return out
}

// Diff compares two document trees and reports the outermost changed paths:
// a changed path that is a descendant of another changed path is collapsed
// into its ancestor. System fields and the translation metadata field are
// ignored. Results are sorted by their canonical string form.
func Diff(before, after map[string]any) []pathkey.Path {
	var changed []pathkey.Path
	diffValue(before, after, pathkey.Path{}, &changed)
	sort.Slice(changed, func(i, j int) bool {
		return pathkey.PathToString(changed[i]) < pathkey.PathToString(changed[j])
	})
	return changed
}

func diffValue(before, after any, at pathkey.Path, changed *[]pathkey.Path) {
	mb, okB := before.(map[string]any)
	ma, okA := after.(map[string]any)
	if !okB || !okA {
		if !Equal(before, after) {
			*changed = append(*changed, append(pathkey.Path{}, at...))
		}
		return
	}
	keys := map[string]struct{}{}
	for k := range mb {
		keys[k] = struct{}{}
	}
	for k := range ma {
		keys[k] = struct{}{}
	}
	for k := range keys {
		if at.IsRoot() && (IsSystemField(k) || k == metadataField) {
			continue
		}
		vb, inB := mb[k]
		va, inA := ma[k]
		child := append(append(pathkey.Path{}, at...), k)
		if !inB || !inA {
			*changed = append(*changed, child)
			continue
		}
		diffValue(vb, va, child, changed)
	}
}

// metadataField mirrors domain.MetadataField without importing it; the
// domain package depends on pathkey only, keeping this package a leaf.
const metadataField = "phraseMeta"

// TranslatableFields lists the top-level fields of doc that carry content:
// everything except system bookkeeping and translation metadata.
func TranslatableFields(doc map[string]any) []string {
	var out []string
	for k := range doc {
		if IsSystemField(k) || k == metadataField {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// expandRoot replaces a root path with one path per translatable top-level
// field of source, so merges and payload extraction treat "whole document"
// uniformly with explicit field paths.
func expandRoot(source map[string]any, paths []pathkey.Path) []pathkey.Path {
	var out []pathkey.Path
	for _, p := range paths {
		if !p.IsRoot() {
			out = append(out, p)
			continue
		}
		for _, field := range TranslatableFields(source) {
			out = append(out, pathkey.Path{field})
		}
	}
	return pathkey.DedupePaths(out)
}

// ExpandRoot is the exported form of the root-path expansion used when
// building translation payloads.
func ExpandRoot(source map[string]any, paths []pathkey.Path) []pathkey.Path {
	return expandRoot(source, paths)
}
