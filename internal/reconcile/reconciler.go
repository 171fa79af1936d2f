// Package reconcile applies asynchronous vendor updates back onto local
// tracking state: webhook events and explicit refresh requests fetch current
// job content and status, diff against the stored PTDs, and commit minimal
// patches. This is the only component that mutates PTD content after
// creation; it never touches a main document's translatable fields.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/domain"
	"phrasebridge/internal/lock"
	"phrasebridge/internal/pathkey"
	"phrasebridge/internal/phrase"
)

// DefaultSettleDelay postpones JOB_CREATED handling so a concurrent
// create-translation call finishes persisting its tracking documents before
// reconciliation looks for them.
const DefaultSettleDelay = 15 * time.Second

// Settler defers a webhook body for later re-delivery. The journal-backed
// implementation survives restarts; without one the event is handled
// immediately.
type Settler interface {
	Defer(ctx context.Context, body phrase.WebhookBody, delay time.Duration) error
}

// Reconciler wires the collaborators of webhook and refresh handling.
type Reconciler struct {
	store       contentstore.Store
	vendor      phrase.Client
	langs       pathkey.LanguageCodec
	settler     Settler
	settleDelay time.Duration
	logger      zerolog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Options configures a Reconciler. Settler is optional.
type Options struct {
	Store       contentstore.Store
	Vendor      phrase.Client
	Langs       pathkey.LanguageCodec
	Settler     Settler
	SettleDelay time.Duration
	Logger      zerolog.Logger
}

func New(opts Options) (*Reconciler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("reconciler: store is required")
	}
	if opts.Vendor == nil {
		return nil, fmt.Errorf("reconciler: vendor client is required")
	}
	langs := opts.Langs
	if langs == nil {
		langs = pathkey.DefaultLanguageCodec{}
	}
	delay := opts.SettleDelay
	if delay <= 0 {
		delay = DefaultSettleDelay
	}
	return &Reconciler{
		store:       opts.Store,
		vendor:      opts.Vendor,
		langs:       langs,
		settler:     opts.Settler,
		settleDelay: delay,
		logger:      opts.Logger,
		now:         time.Now,
		sleep:       sleepCtx,
	}, nil
}

// HandleWebhook routes one inbound vendor notification. Job parts without
// this system's filename marker belong to other tooling in the same vendor
// account and are dropped.
func (r *Reconciler) HandleWebhook(ctx context.Context, body phrase.WebhookBody) error {
	switch body.Event {
	case phrase.EventProjectDeleted:
		if body.Project == nil || body.Project.UID == "" {
			return fmt.Errorf("%w: project deletion without project uid", domain.ErrInvalidRequest)
		}
		return r.handleProjectDeleted(ctx, body.Project.UID)
	case phrase.EventJobCreated, phrase.EventJobStatusChanged, phrase.EventJobAssigned,
		phrase.EventJobTargetUpdated, phrase.EventJobDeleted:
	default:
		return fmt.Errorf("%w: unknown webhook event %q", domain.ErrInvalidRequest, body.Event)
	}

	parts := make([]phrase.JobPart, 0, len(body.JobParts))
	for _, part := range body.JobParts {
		if part.Ours() {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	body.JobParts = parts

	switch body.Event {
	case phrase.EventJobDeleted:
		return r.handleJobsDeleted(ctx, parts)
	case phrase.EventJobCreated:
		if r.settler != nil {
			return r.settler.Defer(ctx, body, r.settleDelay)
		}
		// No deferral backend; handle immediately and rely on the vendor's
		// webhook redelivery if tracking documents are not there yet.
	}
	return r.refreshFromParts(ctx, parts)
}

// handleJobsDeleted marks the affected job records CANCELLED inside their
// owning TMDs. No content fetch: a deleted job has nothing to preview.
func (r *Reconciler) handleJobsDeleted(ctx context.Context, parts []phrase.JobPart) error {
	tmds, err := r.tmdsForParts(ctx, parts)
	if err != nil {
		return err
	}
	deleted := map[string]struct{}{}
	for _, part := range parts {
		deleted[part.UID] = struct{}{}
	}

	tx := &contentstore.Transaction{}
	for _, tmd := range tmds {
		changed := false
		for ti := range tmd.Targets {
			for ji := range tmd.Targets[ti].Jobs {
				job := &tmd.Targets[ti].Jobs[ji]
				if _, ok := deleted[job.UID]; ok && job.Status != phrase.JobStatusCancelled {
					job.Status = phrase.JobStatusCancelled
					changed = true
				}
			}
		}
		if changed {
			tx.Patch(contentstore.Patch{
				ID:  tmd.ID,
				Set: map[string]any{"targets": targetsValue(tmd.Targets)},
			})
		}
	}
	if len(tx.Mutations) == 0 {
		return nil
	}
	return r.retryTimed(ctx, "commit job cancellations", func() error {
		return r.store.Commit(ctx, tx)
	})
}

// handleProjectDeleted cancels every job of the project's TMDs and marks the
// main documents' entries DELETED.
func (r *Reconciler) handleProjectDeleted(ctx context.Context, projectUID string) error {
	tmds, err := r.tmdsForProjects(ctx, []string{projectUID})
	if err != nil {
		return err
	}
	tx := &contentstore.Transaction{}
	for _, tmd := range tmds {
		for ti := range tmd.Targets {
			for ji := range tmd.Targets[ti].Jobs {
				tmd.Targets[ti].Jobs[ji].Status = phrase.JobStatusCancelled
			}
		}
		tx.Patch(contentstore.Patch{
			ID:  tmd.ID,
			Set: map[string]any{"targets": targetsValue(tmd.Targets)},
		})
	}
	if len(tx.Mutations) > 0 {
		if err := r.retryTimed(ctx, "commit project deletion", func() error {
			return r.store.Commit(ctx, tx)
		}); err != nil {
			return err
		}
	}
	for _, tmd := range tmds {
		sourceID := pathkey.UndraftID(tmd.SourceDoc.Ref)
		err := lock.UpdateEntry(ctx, r.store, []string{sourceID}, tmd.TranslationKey, func(e *domain.TranslationMetadata) {
			e.Status = domain.StatusDeleted
		})
		if err != nil {
			r.logger.Error().Err(err).
				Str("translationKey", tmd.TranslationKey).
				Msg("failed to mark entry DELETED after project deletion")
		}
	}
	return nil
}

func (r *Reconciler) tmdsForParts(ctx context.Context, parts []phrase.JobPart) ([]*domain.TMD, error) {
	projects := map[string]struct{}{}
	for _, part := range parts {
		if part.Project.UID != "" {
			projects[part.Project.UID] = struct{}{}
		}
	}
	uids := make([]string, 0, len(projects))
	for uid := range projects {
		uids = append(uids, uid)
	}
	return r.tmdsForProjects(ctx, uids)
}

func (r *Reconciler) tmdsForProjects(ctx context.Context, projectUIDs []string) ([]*domain.TMD, error) {
	if len(projectUIDs) == 0 {
		return nil, nil
	}
	var docs []contentstore.Document
	err := r.retryTimed(ctx, "query tracking documents", func() error {
		var qerr error
		docs, qerr = r.store.Query(ctx, contentstore.QueryTMDsByProject, map[string]any{"projects": projectUIDs})
		return qerr
	})
	if err != nil {
		return nil, err
	}
	tmds := make([]*domain.TMD, 0, len(docs))
	for _, doc := range docs {
		tmd, err := domain.TMDFromDoc(doc)
		if err != nil {
			r.logger.Warn().Err(err).Str("doc", contentstore.DocID(doc)).Msg("skipping malformed tracking document")
			continue
		}
		tmds = append(tmds, tmd)
	}
	return tmds, nil
}

func targetsValue(targets []domain.TMDTarget) []any {
	tmd := domain.TMD{Targets: targets}
	doc := tmd.ToDoc()
	values, _ := doc["targets"].([]any)
	return values
}
