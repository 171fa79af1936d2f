package pathkey

import "strings"

// Path addresses a field inside a structured document, one segment per
// nesting level. The empty Path addresses the whole document.
type Path []string

// rootSentinel is the canonical string form of the root path. The empty
// string would be ambiguous with a document that has a field named "".
const rootSentinel = "__root__"

const segmentSeparator = "."

// IsRoot reports whether p addresses the whole document.
func (p Path) IsRoot() bool { return len(p) == 0 }

// Equal reports segment-for-segment equality.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix addresses p or one of p's ancestors.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// PathToString renders p as a canonical string key. Lossless together with
// StringToPath: StringToPath(PathToString(p)).Equal(p) for every valid p.
func PathToString(p Path) string {
	if p.IsRoot() {
		return rootSentinel
	}
	return strings.Join(p, segmentSeparator)
}

// StringToPath parses a canonical string key produced by PathToString.
func StringToPath(s string) Path {
	if s == rootSentinel || s == "" {
		return Path{}
	}
	return Path(strings.Split(s, segmentSeparator))
}

// DedupePaths drops exact duplicates while preserving the caller's order.
func DedupePaths(paths []Path) []Path {
	seen := make(map[string]struct{}, len(paths))
	out := make([]Path, 0, len(paths))
	for _, p := range paths {
		key := PathToString(p)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
