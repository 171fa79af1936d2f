package lock

import (
	"context"
	"fmt"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/domain"
)

// EntryPatches builds the patches that rewrite the metadata entry for key on
// every draft and published document in scope. mutate edits the current
// entry in place; documents without the entry are skipped. Each patch is
// conditioned on the revision read here, so committing after a concurrent
// write fails with ErrRevisionMismatch instead of erasing the writer's
// entries. The caller owns the transaction so the rewrite can ride along
// with other mutations.
func EntryPatches(ctx context.Context, store contentstore.Store, docIDs []string, key string, mutate func(*domain.TranslationMetadata)) ([]contentstore.Patch, error) {
	docs, err := store.GetMany(ctx, withDrafts(docIDs))
	if err != nil {
		return nil, fmt.Errorf("read translation entry: %w", err)
	}
	var patches []contentstore.Patch
	for id, doc := range docs {
		entries := domain.MetadataFromDoc(doc)
		found := false
		values := make([]any, 0, len(entries))
		for _, entry := range entries {
			if entry.Key == key {
				mutate(&entry)
				found = true
			}
			values = append(values, entry.ToValue())
		}
		if !found {
			continue
		}
		patches = append(patches, contentstore.Patch{
			ID:           id,
			IfRevisionID: contentstore.DocRev(doc),
			Set:          map[string]any{domain.TranslationsPath(): values},
		})
	}
	if len(patches) == 0 {
		return nil, fmt.Errorf("translation entry %s: %w", key, domain.ErrNotFound)
	}
	return patches, nil
}

// UpdateEntry applies EntryPatches in one transaction of its own. Used for
// the CREATED -> COMPLETED / DELETED transitions and forward-recovery marks.
func UpdateEntry(ctx context.Context, store contentstore.Store, docIDs []string, key string, mutate func(*domain.TranslationMetadata)) error {
	patches, err := EntryPatches(ctx, store, docIDs, key, mutate)
	if err != nil {
		return err
	}
	tx := &contentstore.Transaction{}
	for _, p := range patches {
		tx.Patch(p)
	}
	if err := store.Commit(ctx, tx); err != nil {
		if contentstore.IsRevisionMismatch(err) {
			return domain.ErrRevisionMismatch
		}
		return err
	}
	return nil
}
