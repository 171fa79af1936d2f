package pathkey

import "strings"

const (
	keySeparator = "__"

	ptdIDPrefix = "phrase.ptd."
	tmdIDPrefix = "phrase.tmd."

	// DraftsPrefix marks the draft state of a document in the content store.
	DraftsPrefix = "drafts."
)

// TranslationKey derives the idempotency key for one translation operation
// from the requested path set and the source document revision. Duplicate
// paths are dropped; the caller's path order is preserved so the key is
// stable for a given request shape. Every byte that is unsafe for use inside
// a document ID or transaction key (hyphens included) is replaced.
func TranslationKey(paths []Path, rev string) string {
	parts := make([]string, 0, len(paths)+1)
	for _, p := range DedupePaths(paths) {
		parts = append(parts, sanitizeKeyPart(PathToString(p)))
	}
	parts = append(parts, sanitizeKeyPart(rev))
	return strings.Join(parts, keySeparator)
}

// PTDID derives the deterministic document ID for the parallel translation
// document of one (target language, translation key) pair. vendorLang must
// already be in the vendor's convention.
func PTDID(vendorLang, translationKey string) string {
	return ptdIDPrefix + vendorLang + "--" + translationKey
}

// TMDID derives the deterministic document ID for the translation metadata
// document shared by all targets of one translation key.
func TMDID(translationKey string) string {
	return tmdIDPrefix + translationKey
}

// UndraftID strips the draft marker, if present.
func UndraftID(id string) string {
	return strings.TrimPrefix(id, DraftsPrefix)
}

// DraftID prepends the draft marker, if absent.
func DraftID(id string) string {
	if strings.HasPrefix(id, DraftsPrefix) {
		return id
	}
	return DraftsPrefix + id
}

// IsDraftID reports whether id names the draft state of a document.
func IsDraftID(id string) bool { return strings.HasPrefix(id, DraftsPrefix) }

func sanitizeKeyPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
