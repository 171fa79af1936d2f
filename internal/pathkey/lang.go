package pathkey

import (
	"strings"

	"golang.org/x/text/language"
)

// LanguageCodec converts language identifiers between the content platform's
// convention and the vendor's. Codes are opaque strings; converting an
// unrecognized code is never an error, the translation is syntactic only.
type LanguageCodec interface {
	ToVendor(code string) string
	FromVendor(code string) string
}

// DefaultLanguageCodec swaps the platform's underscore separator for the
// vendor's hyphen and back. When a swapped code parses as a BCP 47 tag it is
// canonicalized (pt-br -> pt-BR); otherwise the swapped code is returned
// untouched. Deployments with non-trivial conventions inject their own codec.
type DefaultLanguageCodec struct{}

func (DefaultLanguageCodec) ToVendor(code string) string {
	swapped := strings.ReplaceAll(code, "_", "-")
	if tag, err := language.Parse(swapped); err == nil {
		return tag.String()
	}
	return swapped
}

func (DefaultLanguageCodec) FromVendor(code string) string {
	return strings.ReplaceAll(code, "-", "_")
}

var _ LanguageCodec = DefaultLanguageCodec{}
