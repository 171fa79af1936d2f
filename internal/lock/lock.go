// Package lock enforces mutual exclusion of in-flight translation requests
// per (document, path set). "Locked" is a state check, not a held lock: a
// blocking metadata entry with an intersecting path set exists somewhere in
// scope. Correctness rests on the content store's transaction atomicity and
// revision-conditioned patches.
package lock

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/domain"
	"phrasebridge/internal/pathkey"
)

// Intersects reports whether translating a and b at the same time conflicts:
// the paths are equal, or one is a prefix of the other (translating a parent
// field includes all of its children). The root path intersects everything.
// Symmetric by construction.
func Intersects(a, b pathkey.Path) bool {
	return a.HasPrefix(b) || b.HasPrefix(a)
}

// AnyIntersects reports whether any pair across the two sets intersects.
func AnyIntersects(existing, requested []pathkey.Path) bool {
	for _, e := range existing {
		for _, r := range requested {
			if Intersects(e, r) {
				return true
			}
		}
	}
	return false
}

// Request describes one lock acquisition.
type Request struct {
	// Key is the translation key of the new request.
	Key string
	// Paths is the requested path set.
	Paths []pathkey.Path
	// DocIDs are the published IDs of every document in scope: the source
	// document and any already-existing target-language documents. Draft
	// states are checked and locked alongside automatically.
	DocIDs []string
	// Entry is the CREATING metadata entry appended on success.
	Entry domain.TranslationMetadata
}

// Acquire checks every draft and published document in scope for blocking
// entries with intersecting paths, then upserts the CREATING entry into all
// of them in one transaction, each patch conditioned on the revision read
// here. A concurrent writer makes the commit fail with ErrRevisionMismatch
// and no side effects; the caller re-reads and retries.
func Acquire(ctx context.Context, store contentstore.Store, req Request) ([]string, error) {
	ids := withDrafts(req.DocIDs)
	docs, err := store.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLockFailed, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents in scope", domain.ErrLockFailed)
	}

	for id, doc := range docs {
		for _, entry := range domain.MetadataFromDoc(doc) {
			if !entry.Status.Blocking() {
				continue
			}
			if AnyIntersects(entry.PathSet(), req.Paths) {
				return nil, fmt.Errorf("%w: %s holds %v since %s",
					domain.ErrTranslationPending, id, entry.Paths, entry.RequestedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
		}
	}

	tx := &contentstore.Transaction{}
	locked := make([]string, 0, len(docs))
	for id, doc := range docs {
		tx.Patch(lockPatch(id, doc, req))
		locked = append(locked, id)
	}
	if err := store.Commit(ctx, tx); err != nil {
		if contentstore.IsRevisionMismatch(err) {
			return nil, domain.ErrRevisionMismatch
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrLockFailed, err)
	}
	return locked, nil
}

// lockPatch rewrites the metadata list with the CREATING entry upserted by
// translation key. A retry after a COMPLETED or DELETED entry for the same
// key replaces that entry rather than duplicating it; there is never more
// than one entry per key.
func lockPatch(id string, doc contentstore.Document, req Request) contentstore.Patch {
	entries := domain.MetadataFromDoc(doc)
	values := make([]any, 0, len(entries)+1)
	for _, entry := range entries {
		if entry.Key == req.Key {
			continue
		}
		values = append(values, entry.ToValue())
	}
	values = append(values, req.Entry.ToValue())
	return contentstore.Patch{
		ID:           id,
		IfRevisionID: contentstore.DocRev(doc),
		Set:          map[string]any{domain.TranslationsPath(): values},
	}
}

// Release removes the entry for key from every document in scope, best
// effort: failures are logged, never returned, so cleanup after a vendor
// failure cannot mask the original error. Each rewrite is conditioned on the
// revision read here so a concurrent writer's entries are never erased.
func Release(ctx context.Context, store contentstore.Store, logger zerolog.Logger, key string, docIDs []string) {
	docs, err := store.GetMany(ctx, withDrafts(docIDs))
	if err != nil {
		logger.Error().Err(err).Str("translationKey", key).Msg("unlock: fetch failed")
		return
	}
	tx := &contentstore.Transaction{}
	for id, doc := range docs {
		entries := domain.MetadataFromDoc(doc)
		kept := make([]any, 0, len(entries))
		removed := false
		for _, entry := range entries {
			if entry.Key == key {
				removed = true
				continue
			}
			kept = append(kept, entry.ToValue())
		}
		if !removed {
			continue
		}
		tx.Patch(contentstore.Patch{
			ID:           id,
			IfRevisionID: contentstore.DocRev(doc),
			Set:          map[string]any{domain.TranslationsPath(): kept},
		})
	}
	if len(tx.Mutations) == 0 {
		return
	}
	if err := store.Commit(ctx, tx); err != nil {
		logger.Error().Err(err).Str("translationKey", key).Msg("unlock: commit failed")
	}
}

func withDrafts(ids []string) []string {
	out := make([]string, 0, len(ids)*2)
	seen := map[string]struct{}{}
	for _, id := range ids {
		published := pathkey.UndraftID(id)
		for _, candidate := range []string{published, pathkey.DraftID(published)} {
			if _, ok := seen[candidate]; ok {
				continue
			}
			seen[candidate] = struct{}{}
			out = append(out, candidate)
		}
	}
	return out
}
