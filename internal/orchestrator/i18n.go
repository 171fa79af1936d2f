package orchestrator

import (
	"context"
	"fmt"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/pathkey"
)

// I18nAdapter resolves the target-language counterpart of a source document,
// creating a fresh one when none exists yet. The content platform's
// internationalization scheme decides what "counterpart" means; deployments
// plug their own adapter.
type I18nAdapter interface {
	TargetDoc(ctx context.Context, source contentstore.Document, lang string) (contentstore.Document, error)
}

// SuffixAdapter is the default scheme: the target document shares the source
// type under the ID "<sourceID>__i18n_<lang>" and carries the language in a
// configurable field.
type SuffixAdapter struct {
	Store         contentstore.Store
	LanguageField string
}

func (a *SuffixAdapter) TargetDoc(ctx context.Context, source contentstore.Document, lang string) (contentstore.Document, error) {
	sourceID := pathkey.UndraftID(contentstore.DocID(source))
	if sourceID == "" {
		return nil, fmt.Errorf("source document has no _id")
	}
	targetID := sourceID + "__i18n_" + lang

	docs, err := a.Store.GetMany(ctx, []string{pathkey.DraftID(targetID), targetID})
	if err != nil {
		return nil, err
	}
	if doc, ok := docs[pathkey.DraftID(targetID)]; ok {
		return doc, nil
	}
	if doc, ok := docs[targetID]; ok {
		return doc, nil
	}

	field := a.LanguageField
	if field == "" {
		field = "language"
	}
	fresh := contentstore.Document{
		"_id":   targetID,
		"_type": contentstore.DocType(source),
		field:   lang,
	}
	tx := (&contentstore.Transaction{}).CreateIfNotExists(fresh)
	if err := a.Store.Commit(ctx, tx); err != nil {
		return nil, fmt.Errorf("create target document %s: %w", targetID, err)
	}
	return a.Store.Get(ctx, targetID)
}

var _ I18nAdapter = (*SuffixAdapter)(nil)
