package domain

import (
	"fmt"
	"time"

	"phrasebridge/internal/pathkey"
)

// TranslationRequest is the transient input of one orchestration attempt.
type TranslationRequest struct {
	SourceDocID string
	SourceRev   string
	SourceLang  string
	TargetLangs []string
	Paths       []pathkey.Path
	TemplateUID string
	DateDue     *time.Time
}

// Normalize applies request defaults in place: an empty path list means the
// whole document, duplicate paths collapse, duplicate and source-equal
// target languages are dropped.
func (r *TranslationRequest) Normalize() {
	if len(r.Paths) == 0 {
		r.Paths = []pathkey.Path{{}}
	}
	r.Paths = pathkey.DedupePaths(r.Paths)

	seen := make(map[string]struct{}, len(r.TargetLangs))
	targets := r.TargetLangs[:0]
	for _, lang := range r.TargetLangs {
		if lang == r.SourceLang {
			continue
		}
		if _, ok := seen[lang]; ok {
			continue
		}
		seen[lang] = struct{}{}
		targets = append(targets, lang)
	}
	r.TargetLangs = targets
}

// Validate checks the request after Normalize.
func (r *TranslationRequest) Validate() error {
	if r.SourceDocID == "" {
		return fmt.Errorf("%w: source document id is required", ErrInvalidRequest)
	}
	if r.SourceLang == "" {
		return fmt.Errorf("%w: source language is required", ErrInvalidRequest)
	}
	if len(r.TargetLangs) == 0 {
		return fmt.Errorf("%w: at least one target language distinct from the source is required", ErrInvalidRequest)
	}
	if r.TemplateUID == "" {
		return fmt.Errorf("%w: vendor project template is required", ErrInvalidRequest)
	}
	return nil
}

// Key derives the translation key for this request. SourceRev must be the
// revision actually read; the key is the idempotency unit of the operation.
func (r *TranslationRequest) Key() string {
	return pathkey.TranslationKey(r.Paths, r.SourceRev)
}
