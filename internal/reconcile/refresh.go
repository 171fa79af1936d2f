package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/contenttree"
	"phrasebridge/internal/domain"
	"phrasebridge/internal/pathkey"
	"phrasebridge/internal/phrase"
	"phrasebridge/internal/serialize"
)

// RefreshPTD re-fetches vendor state for one parallel translation document,
// seeded from its owning TMD. The explicit-refresh entry point.
func (r *Reconciler) RefreshPTD(ctx context.Context, ptdID string) error {
	ptdDoc, err := r.store.Get(ctx, ptdID)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", ptdID, err)
	}
	meta, ok := domain.PTDMetaFromDoc(ptdDoc)
	if !ok {
		return fmt.Errorf("%w: %s is not a parallel translation document", domain.ErrInvalidRequest, ptdID)
	}
	tmdDoc, err := r.store.Get(ctx, meta.TMD.Ref)
	if err != nil {
		return fmt.Errorf("refresh %s: owning TMD: %w", ptdID, err)
	}
	tmd, err := domain.TMDFromDoc(tmdDoc)
	if err != nil {
		return fmt.Errorf("refresh %s: decode TMD: %w", ptdID, err)
	}
	return r.refreshTMDs(ctx, []*domain.TMD{tmd}, nil, ptdID)
}

// refreshFromParts is the general webhook path: all affected TMDs, filtered
// to the targets whose job lists intersect the notified jobs.
func (r *Reconciler) refreshFromParts(ctx context.Context, parts []phrase.JobPart) error {
	tmds, err := r.tmdsForParts(ctx, parts)
	if err != nil {
		return err
	}
	affected := make(map[string]phrase.JobPart, len(parts))
	for _, part := range parts {
		affected[part.UID] = part
	}
	return r.refreshTMDs(ctx, tmds, affected, "")
}

// refreshTMDs drives the content pull: per target pick the last valid job
// in its workflow, fetch that job's preview once per unique UID, decode,
// merge into the PTD at the originally requested paths and commit a minimal
// patch set together with the job status updates.
func (r *Reconciler) refreshTMDs(ctx context.Context, tmds []*domain.TMD, affected map[string]phrase.JobPart, onlyPTD string) error {
	type pull struct {
		tmd    *domain.TMD
		target *domain.TMDTarget
		jobUID string
	}
	var (
		pulls       []pull
		statusDirty = map[string]*domain.TMD{}
	)
	for _, tmd := range tmds {
		for ti := range tmd.Targets {
			target := &tmd.Targets[ti]
			if onlyPTD != "" && target.PTD.Ref != onlyPTD {
				continue
			}
			if affected != nil && !r.applyPartStatuses(tmd, target, affected, statusDirty) {
				continue
			}
			jobUID, ok := phrase.LastValidJobUID(jobRefs(target.Jobs))
			if !ok {
				// Every job cancelled or rejected; statuses were still updated.
				continue
			}
			pulls = append(pulls, pull{tmd: tmd, target: target, jobUID: jobUID})
		}
	}

	// One preview fetch per unique job UID, even when several PTDs share it.
	previews := map[string][]byte{}
	for _, p := range pulls {
		if _, done := previews[p.jobUID]; done {
			continue
		}
		var content []byte
		err := r.retryTimed(ctx, "fetch job preview", func() error {
			var ferr error
			content, ferr = r.vendor.JobPreview(ctx, p.tmd.ProjectUID, p.jobUID)
			return ferr
		})
		if err != nil {
			return err
		}
		previews[p.jobUID] = content
	}

	tx := &contentstore.Transaction{}
	for _, p := range pulls {
		content := previews[p.jobUID]
		if len(content) == 0 {
			// Nothing fetchable (job already gone); status updates only.
			continue
		}
		patch, err := r.ptdContentPatch(ctx, p.tmd, p.target, content)
		if err != nil {
			return err
		}
		if patch != nil {
			tx.Patch(*patch)
		}
	}
	for _, tmd := range statusDirty {
		tx.Patch(contentstore.Patch{
			ID:  tmd.ID,
			Set: map[string]any{"targets": targetsValue(tmd.Targets)},
		})
	}
	if len(tx.Mutations) == 0 {
		return nil
	}
	return r.retryTimed(ctx, "commit reconciliation", func() error {
		return r.store.Commit(ctx, tx)
	})
}

// applyPartStatuses folds the webhook's job summaries into the target's job
// records and reports whether the target is affected at all.
func (r *Reconciler) applyPartStatuses(tmd *domain.TMD, target *domain.TMDTarget, affected map[string]phrase.JobPart, dirty map[string]*domain.TMD) bool {
	hit := false
	for ji := range target.Jobs {
		job := &target.Jobs[ji]
		part, ok := affected[job.UID]
		if !ok {
			continue
		}
		hit = true
		if part.Status != "" && part.Status != job.Status {
			job.Status = part.Status
			dirty[tmd.ID] = tmd
		}
	}
	return hit
}

// ptdContentPatch decodes a fetched preview, merges it into the stored PTD
// at the TMD's paths and emits one patch containing only the outermost
// changed paths. Returns nil when the translation brought no change.
func (r *Reconciler) ptdContentPatch(ctx context.Context, tmd *domain.TMD, target *domain.TMDTarget, content []byte) (*contentstore.Patch, error) {
	ptdDoc, err := r.store.Get(ctx, target.PTD.Ref)
	if err != nil {
		if contentstore.IsNotFound(err) {
			r.logger.Warn().Str("ptd", target.PTD.Ref).Msg("PTD missing, skipping content update")
			return nil, nil
		}
		return nil, err
	}

	var sd serialize.SerializedDoc
	if err := json.Unmarshal(content, &sd); err != nil {
		return nil, fmt.Errorf("decode preview for %s: %w", target.PTD.Ref, err)
	}
	decoded, err := serialize.Decode(&sd)
	if err != nil {
		return nil, fmt.Errorf("decode preview for %s: %w", target.PTD.Ref, err)
	}

	paths := make([]pathkey.Path, 0, len(tmd.Paths))
	for _, s := range tmd.Paths {
		paths = append(paths, pathkey.StringToPath(s))
	}
	merged := contenttree.MergeAtPaths(ptdDoc, decoded, paths)

	changed := contenttree.Diff(ptdDoc, merged)
	if len(changed) == 0 {
		return nil, nil
	}
	set := make(map[string]any, len(changed))
	for _, path := range changed {
		value, ok := contenttree.Get(merged, path)
		if !ok {
			continue
		}
		set[pathkey.PathToString(path)] = value
	}
	if len(set) == 0 {
		return nil, nil
	}
	return &contentstore.Patch{ID: target.PTD.Ref, Set: set}, nil
}

func jobRefs(jobs []domain.JobInfo) []phrase.JobRef {
	out := make([]phrase.JobRef, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, phrase.JobRef{UID: j.UID, Status: j.Status, WorkflowLevel: j.WorkflowLevel})
	}
	return out
}
