package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/contenttree"
	"phrasebridge/internal/domain"
	"phrasebridge/internal/lock"
	"phrasebridge/internal/pathkey"
	"phrasebridge/internal/phrase"
	"phrasebridge/internal/serialize"
)

// createOne runs the full state machine for a single request:
// lock -> create remote project -> create remote jobs -> persist tracking
// documents, with unlock on vendor failure and FAILED_PERSISTING forward
// recovery when persistence fails after the vendor side already committed.
func (o *Orchestrator) createOne(ctx context.Context, req domain.TranslationRequest) ItemResult {
	item := ItemResult{SourceDocID: req.SourceDocID}
	req.Normalize()
	if err := req.Validate(); err != nil {
		item.Err = err
		return item
	}

	source, sourceDraft, err := o.fetchSource(ctx, req.SourceDocID)
	if err != nil {
		item.Err = err
		return item
	}
	if req.SourceRev == "" {
		req.SourceRev = contentstore.DocRev(source)
	}
	key := req.Key()
	item.TranslationKey = key

	targetDocs, docIDs, err := o.resolveTargets(ctx, source, req.TargetLangs)
	if err != nil {
		item.Err = err
		return item
	}

	entry := domain.TranslationMetadata{
		Key:         key,
		Status:      domain.StatusCreating,
		Paths:       domain.PathStrings(req.Paths),
		SourceLang:  req.SourceLang,
		SourceRev:   req.SourceRev,
		TargetLangs: req.TargetLangs,
		RequestedAt: time.Now().UTC(),
	}
	if _, err := lock.Acquire(ctx, o.store, lock.Request{
		Key:    key,
		Paths:  req.Paths,
		DocIDs: docIDs,
		Entry:  entry,
	}); err != nil {
		item.Err = err
		return item
	}

	payload, err := json.Marshal(serialize.Encode(source, req.Paths))
	if err != nil {
		lock.Release(ctx, o.store, o.logger, key, docIDs)
		item.Err = fmt.Errorf("encode translation payload: %w", err)
		return item
	}

	projectUID, jobs, err := o.createRemote(ctx, req, key, source, payload)
	if err != nil {
		// The vendor call did not complete; remove the CREATING entry so the
		// user can retry. Unlock failures are logged, not returned.
		lock.Release(ctx, o.store, o.logger, key, docIDs)
		item.Err = err
		return item
	}
	item.ProjectUID = projectUID

	ptdIDs, err := o.persist(ctx, persistInput{
		key:         key,
		paths:       req.Paths,
		sourceLang:  req.SourceLang,
		targetLangs: req.TargetLangs,
		source:      source,
		sourceDraft: sourceDraft,
		snapshot:    contenttree.Copy(source).(map[string]any),
		targetDocs:  targetDocs,
		projectUID:  projectUID,
		jobs:        jobs,
		docIDs:      docIDs,
	})
	if err != nil {
		// Remote jobs exist and are billed: capture their identifiers so a
		// retry resumes persistence instead of re-creating them.
		markErr := lock.UpdateEntry(ctx, o.store, docIDs, key, func(e *domain.TranslationMetadata) {
			e.Status = domain.StatusFailedPersisting
			e.ProjectUID = projectUID
			e.JobUIDs = jobUIDs(jobs)
			e.Jobs = jobs
		})
		if markErr != nil {
			o.logger.Error().Err(markErr).
				Str("translationKey", key).
				Str("projectUid", projectUID).
				Msg("failed to mark entry FAILED_PERSISTING")
		}
		item.Err = fmt.Errorf("%w: %v", domain.ErrPersistFailed, err)
		return item
	}
	item.PTDIDs = ptdIDs
	o.logger.Info().
		Str("sourceDoc", req.SourceDocID).
		Str("translationKey", key).
		Str("projectUid", projectUID).
		Int("jobs", len(jobs)).
		Msg("translation created")
	return item
}

func (o *Orchestrator) fetchSource(ctx context.Context, id string) (contentstore.Document, bool, error) {
	published := pathkey.UndraftID(id)
	docs, err := o.store.GetMany(ctx, []string{pathkey.DraftID(published), published})
	if err != nil {
		return nil, false, err
	}
	if doc, ok := docs[pathkey.DraftID(published)]; ok {
		return doc, true, nil
	}
	if doc, ok := docs[published]; ok {
		return doc, false, nil
	}
	return nil, false, fmt.Errorf("source document %s: %w", id, domain.ErrNotFound)
}

func (o *Orchestrator) resolveTargets(ctx context.Context, source contentstore.Document, langs []string) (map[string]contentstore.Document, []string, error) {
	targetDocs := make(map[string]contentstore.Document, len(langs))
	docIDs := []string{pathkey.UndraftID(contentstore.DocID(source))}
	for _, lang := range langs {
		doc, err := o.i18n.TargetDoc(ctx, source, lang)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve target document for %s: %w", lang, err)
		}
		targetDocs[lang] = doc
		docIDs = append(docIDs, pathkey.UndraftID(contentstore.DocID(doc)))
	}
	return targetDocs, docIDs, nil
}

// createRemote creates the vendor project and its jobs, all target languages
// in one project. Neither call is cancellable once issued.
func (o *Orchestrator) createRemote(ctx context.Context, req domain.TranslationRequest, key string, source contentstore.Document, payload []byte) (string, []domain.JobInfo, error) {
	vendorTargets := make([]string, 0, len(req.TargetLangs))
	for _, lang := range req.TargetLangs {
		vendorTargets = append(vendorTargets, o.langs.ToVendor(lang))
	}
	projectUID, err := o.vendor.CreateProject(ctx, phrase.CreateProjectParams{
		TemplateUID: req.TemplateUID,
		Name:        projectName(source, key),
		SourceLang:  o.langs.ToVendor(req.SourceLang),
		TargetLangs: vendorTargets,
		DateDue:     req.DateDue,
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrVendorFailure, err)
	}

	uploads := make([]phrase.JobUpload, 0, len(req.TargetLangs))
	for _, lang := range req.TargetLangs {
		vendorLang := o.langs.ToVendor(lang)
		uploads = append(uploads, phrase.JobUpload{
			TargetLang: vendorLang,
			Filename:   jobFilename(vendorLang, key),
			Content:    payload,
		})
	}
	created, err := o.vendor.CreateJobs(ctx, projectUID, uploads)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrVendorFailure, err)
	}
	return projectUID, o.toJobInfos(created), nil
}

type persistInput struct {
	key         string
	paths       []pathkey.Path
	sourceLang  string
	targetLangs []string
	source      contentstore.Document
	sourceDraft bool
	snapshot    map[string]any
	targetDocs  map[string]contentstore.Document
	projectUID  string
	jobs        []domain.JobInfo
	docIDs      []string
}

// persist upserts every PTD, creates the shared TMD, and flips the metadata
// entries to CREATED, all in one transaction. PTD identities are pure
// functions of (target language, translation key), so re-running after a
// FAILED_PERSISTING mark upserts instead of duplicating.
func (o *Orchestrator) persist(ctx context.Context, in persistInput) ([]string, error) {
	tmdID := pathkey.TMDID(in.key)
	sourceRef := domain.Ref{Ref: contentstore.DocID(in.source), Weak: in.sourceDraft}

	jobsByLang := map[string][]domain.JobInfo{}
	for _, job := range in.jobs {
		jobsByLang[job.TargetLang] = append(jobsByLang[job.TargetLang], job)
	}

	tx := &contentstore.Transaction{}
	ptdIDs := make([]string, 0, len(in.targetLangs))
	targets := make([]domain.TMDTarget, 0, len(in.targetLangs))
	for _, lang := range in.targetLangs {
		targetDoc := in.targetDocs[lang]
		ptdID := pathkey.PTDID(o.langs.ToVendor(lang), in.key)
		ptd := buildPTD(ptdID, targetDoc, in.source, in.paths, domain.PTDMeta{
			SourceDoc:  sourceRef,
			TMD:        domain.Ref{Ref: tmdID},
			TargetLang: lang,
		})
		tx.CreateOrReplace(ptd)
		ptdIDs = append(ptdIDs, ptdID)
		targets = append(targets, domain.TMDTarget{
			Lang:      lang,
			PTD:       domain.Ref{Ref: ptdID},
			TargetDoc: domain.Ref{Ref: pathkey.UndraftID(contentstore.DocID(targetDoc))},
			Jobs:      jobsByLang[lang],
		})
	}

	tmd := &domain.TMD{
		ID:             tmdID,
		Type:           domain.TMDType,
		TranslationKey: in.key,
		SourceDoc:      sourceRef,
		SourceLang:     in.sourceLang,
		Snapshot:       in.snapshot,
		Paths:          domain.PathStrings(in.paths),
		ProjectUID:     in.projectUID,
		Targets:        targets,
		CreatedAt:      time.Now().UTC(),
	}
	tx.CreateOrReplace(tmd.ToDoc())

	patches, err := lock.EntryPatches(ctx, o.store, in.docIDs, in.key, func(e *domain.TranslationMetadata) {
		e.Status = domain.StatusCreated
		e.ProjectUID = in.projectUID
		e.JobUIDs = jobUIDs(in.jobs)
		e.Jobs = nil
		e.TargetLangs = in.targetLangs
		e.TMDID = tmdID
	})
	if err != nil {
		return nil, err
	}
	for _, p := range patches {
		tx.Patch(p)
	}

	if err := o.store.Commit(ctx, tx); err != nil {
		return nil, err
	}
	return ptdIDs, nil
}

// buildPTD merges the untranslated target document with source content at
// the requested paths: context outside the translated paths stays native,
// translated regions are seeded from source for the linguist.
func buildPTD(ptdID string, targetDoc, source contentstore.Document, paths []pathkey.Path, meta domain.PTDMeta) contentstore.Document {
	ptd := contenttree.MergeAtPaths(targetDoc, source, paths)
	for field := range contenttree.SystemFields {
		delete(ptd, field)
	}
	ptd["_id"] = ptdID
	ptd["_type"] = contentstore.DocType(source)
	ptd[domain.MetadataField] = meta.ToValue()
	return ptd
}

func (o *Orchestrator) toJobInfos(jobs []phrase.Job) []domain.JobInfo {
	out := make([]domain.JobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, domain.JobInfo{
			UID:           j.UID,
			Status:        j.Status,
			Filename:      j.Filename,
			TargetLang:    o.langs.FromVendor(j.TargetLang),
			WorkflowLevel: j.WorkflowLevel,
			WorkflowStep:  j.WorkflowStep,
			Providers:     j.Providers,
			DateDue:       j.DateDue,
			DateCreated:   j.DateCreated,
		})
	}
	return out
}

func jobUIDs(jobs []domain.JobInfo) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.UID)
	}
	return out
}

func jobFilename(vendorLang, key string) string {
	return fmt.Sprintf("%s %s.json", phrase.JobFilenamePrefix, pathkey.PTDID(vendorLang, key))
}

func projectName(source contentstore.Document, key string) string {
	title, _ := source["title"].(string)
	if title == "" {
		title = pathkey.UndraftID(contentstore.DocID(source))
	}
	return fmt.Sprintf("%s %s (%s)", phrase.JobFilenamePrefix, title, key)
}
