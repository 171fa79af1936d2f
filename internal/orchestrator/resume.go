package orchestrator

import (
	"context"
	"fmt"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/contenttree"
	"phrasebridge/internal/domain"
	"phrasebridge/internal/lock"
	"phrasebridge/internal/pathkey"
)

// ResumePersist retries only the local persistence step of a translation
// whose remote project and jobs already exist (FAILED_PERSISTING). The
// vendor is not called again; the captured project and job records are
// replayed into fresh tracking documents.
func (o *Orchestrator) ResumePersist(ctx context.Context, sourceDocID, key string) error {
	source, sourceDraft, err := o.fetchSource(ctx, sourceDocID)
	if err != nil {
		return err
	}
	entry, ok := domain.FindMetadata(source, key)
	if !ok {
		return fmt.Errorf("translation entry %s: %w", key, domain.ErrNotFound)
	}
	if entry.Status != domain.StatusFailedPersisting {
		return fmt.Errorf("%w: entry %s is %s, resume requires %s",
			domain.ErrInvalidRequest, key, entry.Status, domain.StatusFailedPersisting)
	}
	if entry.ProjectUID == "" || len(entry.Jobs) == 0 {
		return fmt.Errorf("%w: entry %s lacks captured vendor identifiers", domain.ErrInvalidRequest, key)
	}

	targetDocs, docIDs, err := o.resolveTargets(ctx, source, entry.TargetLangs)
	if err != nil {
		return err
	}

	_, err = o.persist(ctx, persistInput{
		key:         key,
		paths:       entry.PathSet(),
		sourceLang:  entry.SourceLang,
		targetLangs: entry.TargetLangs,
		source:      source,
		sourceDraft: sourceDraft,
		snapshot:    o.snapshotAt(ctx, source, entry.SourceRev),
		targetDocs:  targetDocs,
		projectUID:  entry.ProjectUID,
		jobs:        entry.Jobs,
		docIDs:      docIDs,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistFailed, err)
	}
	o.logger.Info().
		Str("sourceDoc", sourceDocID).
		Str("translationKey", key).
		Msg("translation persistence resumed")
	return nil
}

// snapshotAt recovers the source state at the revision the translation was
// requested against, so the frozen snapshot stays honest even when the live
// source moved on between failure and resume. Falls back to the current
// state when the history is gone.
func (o *Orchestrator) snapshotAt(ctx context.Context, source contentstore.Document, rev string) map[string]any {
	if rev != "" && rev != contentstore.DocRev(source) {
		if past, err := o.store.History(ctx, contentstore.DocID(source), rev); err == nil {
			return past
		}
		o.logger.Warn().
			Str("doc", contentstore.DocID(source)).
			Str("rev", rev).
			Msg("source history unavailable, snapshotting current state")
	}
	return contenttree.Copy(source).(map[string]any)
}

// Complete transitions a CREATED entry to COMPLETED once every target
// workflow has finished and the merge was committed. Entries are immutable
// afterwards.
func (o *Orchestrator) Complete(ctx context.Context, sourceDocID, key string) error {
	return o.transition(ctx, sourceDocID, key, domain.StatusCreated, domain.StatusCompleted)
}

// MarkDeleted records a vendor-side deletion against the entry.
func (o *Orchestrator) MarkDeleted(ctx context.Context, sourceDocID, key string) error {
	return o.transition(ctx, sourceDocID, key, "", domain.StatusDeleted)
}

func (o *Orchestrator) transition(ctx context.Context, sourceDocID, key string, from, to domain.TranslationStatus) error {
	source, _, err := o.fetchSource(ctx, sourceDocID)
	if err != nil {
		return err
	}
	entry, ok := domain.FindMetadata(source, key)
	if !ok {
		return fmt.Errorf("translation entry %s: %w", key, domain.ErrNotFound)
	}
	if from != "" && entry.Status != from {
		return fmt.Errorf("%w: entry %s is %s, expected %s", domain.ErrInvalidRequest, key, entry.Status, from)
	}
	_, docIDs, err := o.resolveTargets(ctx, source, entry.TargetLangs)
	if err != nil {
		// Fall back to the source alone; target docs may be gone.
		docIDs = []string{pathkey.UndraftID(sourceDocID)}
	}
	return lock.UpdateEntry(ctx, o.store, docIDs, key, func(e *domain.TranslationMetadata) {
		e.Status = to
	})
}
