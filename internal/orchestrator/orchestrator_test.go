package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/domain"
	"phrasebridge/internal/pathkey"
	"phrasebridge/internal/phrase"
)

type stubVendor struct {
	mu                sync.Mutex
	projectCalls      int
	jobCalls          int
	deleteCalls       int
	failCreateProject bool
	failCreateJobs    bool
	uploads           []phrase.JobUpload
}

func (v *stubVendor) CreateProject(ctx context.Context, params phrase.CreateProjectParams) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.projectCalls++
	if v.failCreateProject {
		return "", fmt.Errorf("vendor down")
	}
	return "proj-1", nil
}

func (v *stubVendor) CreateJobs(ctx context.Context, projectUID string, uploads []phrase.JobUpload) ([]phrase.Job, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.jobCalls++
	if v.failCreateJobs {
		return nil, fmt.Errorf("vendor down")
	}
	v.uploads = append(v.uploads, uploads...)
	jobs := make([]phrase.Job, 0, len(uploads))
	for i, up := range uploads {
		jobs = append(jobs, phrase.Job{
			UID:           fmt.Sprintf("job-%d", i+1),
			Filename:      up.Filename,
			Status:        phrase.JobStatusNew,
			TargetLang:    up.TargetLang,
			WorkflowLevel: 1,
		})
	}
	return jobs, nil
}

func (v *stubVendor) JobPreview(ctx context.Context, projectUID, jobUID string) ([]byte, error) {
	return nil, nil
}

func (v *stubVendor) DeleteProject(ctx context.Context, projectUID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deleteCalls++
	return nil
}

// flakyStore fails tracking-document commits (the ones carrying
// createOrReplace mutations) a configurable number of times.
type flakyStore struct {
	contentstore.Store
	persistFailures int
}

func (s *flakyStore) Commit(ctx context.Context, tx *contentstore.Transaction) error {
	if s.persistFailures > 0 {
		for _, m := range tx.Mutations {
			if m.CreateOrReplace != nil {
				s.persistFailures--
				return fmt.Errorf("store unavailable")
			}
		}
	}
	return s.Store.Commit(ctx, tx)
}

func newOrchestrator(t *testing.T, store contentstore.Store, vendor phrase.Client) *Orchestrator {
	t.Helper()
	o, err := New(Options{Store: store, Vendor: vendor, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return o
}

func seedPost(store *contentstore.MemoryStore) {
	store.Seed(contentstore.Document{
		"_id": "post-1", "_type": "post", "_rev": "r1",
		"title": "Hello", "body": "Some text",
	})
}

func request() domain.TranslationRequest {
	return domain.TranslationRequest{
		SourceDocID: "post-1",
		SourceLang:  "en",
		TargetLangs: []string{"pt"},
		Paths:       []pathkey.Path{{"title"}, {"body"}},
		TemplateUID: "tpl-1",
	}
}

func TestCreateTranslationHappyPath(t *testing.T) {
	store := contentstore.NewMemoryStore()
	seedPost(store)
	vendor := &stubVendor{}
	o := newOrchestrator(t, store, vendor)

	result := o.CreateTranslations(context.Background(), []domain.TranslationRequest{request()})
	if result.Outcome() != OutcomeSucceeded {
		t.Fatalf("outcome = %v, items = %+v", result.Outcome(), result.Items)
	}
	item := result.Items[0]
	if item.TranslationKey != "title__body__r1" {
		t.Fatalf("key = %q", item.TranslationKey)
	}
	if item.ProjectUID != "proj-1" {
		t.Fatalf("project = %q", item.ProjectUID)
	}
	if len(item.PTDIDs) != 1 || item.PTDIDs[0] != "phrase.ptd.pt--title__body__r1" {
		t.Fatalf("ptd ids = %v", item.PTDIDs)
	}

	ptd, err := store.Get(context.Background(), "phrase.ptd.pt--title__body__r1")
	if err != nil {
		t.Fatalf("ptd missing: %v", err)
	}
	if ptd["_type"] != "post" || ptd["title"] != "Hello" || ptd["body"] != "Some text" {
		t.Fatalf("ptd = %v", ptd)
	}

	tmdDoc, err := store.Get(context.Background(), "phrase.tmd.title__body__r1")
	if err != nil {
		t.Fatalf("tmd missing: %v", err)
	}
	tmd, err := domain.TMDFromDoc(tmdDoc)
	if err != nil {
		t.Fatalf("tmd malformed: %v", err)
	}
	if tmd.ProjectUID != "proj-1" || len(tmd.Targets) != 1 || tmd.Targets[0].Lang != "pt" {
		t.Fatalf("tmd = %+v", tmd)
	}
	if tmd.Snapshot["title"] != "Hello" {
		t.Fatalf("snapshot = %v", tmd.Snapshot)
	}

	source, _ := store.Get(context.Background(), "post-1")
	entry, ok := domain.FindMetadata(source, "title__body__r1")
	if !ok || entry.Status != domain.StatusCreated {
		t.Fatalf("entry = %+v, ok = %v", entry, ok)
	}
	if entry.ProjectUID != "proj-1" || len(entry.JobUIDs) != 1 || entry.TMDID != "phrase.tmd.title__body__r1" {
		t.Fatalf("entry = %+v", entry)
	}
	if len(entry.Jobs) != 0 {
		t.Fatal("job records should be dropped once persisted")
	}

	if _, err := store.Get(context.Background(), "post-1__i18n_pt"); err != nil {
		t.Fatalf("target document missing: %v", err)
	}
	if len(vendor.uploads) != 1 || vendor.uploads[0].Filename != "[phrasebridge] phrase.ptd.pt--title__body__r1.json" {
		t.Fatalf("uploads = %+v", vendor.uploads)
	}
}

func TestCreateTranslationConflictSkipsVendor(t *testing.T) {
	store := contentstore.NewMemoryStore()
	store.Seed(contentstore.Document{
		"_id": "post-1", "_type": "post", "_rev": "r1", "title": "Hello", "body": "x",
		"phraseMeta": map[string]any{"translations": []any{
			domain.TranslationMetadata{
				Key: "title__r0", Status: domain.StatusCreating,
				Paths: []string{"title"}, SourceLang: "en", RequestedAt: time.Now().UTC(),
			}.ToValue(),
		}},
	})
	vendor := &stubVendor{}
	o := newOrchestrator(t, store, vendor)

	result := o.CreateTranslations(context.Background(), []domain.TranslationRequest{request()})
	if result.Outcome() != OutcomeFailed {
		t.Fatalf("outcome = %v", result.Outcome())
	}
	if !errors.Is(result.Items[0].Err, domain.ErrTranslationPending) {
		t.Fatalf("err = %v", result.Items[0].Err)
	}
	if vendor.projectCalls != 0 {
		t.Fatal("vendor was called despite the conflict")
	}
}

func TestCreateTranslationVendorFailureUnlocks(t *testing.T) {
	store := contentstore.NewMemoryStore()
	seedPost(store)
	vendor := &stubVendor{failCreateJobs: true}
	o := newOrchestrator(t, store, vendor)

	result := o.CreateTranslations(context.Background(), []domain.TranslationRequest{request()})
	if !errors.Is(result.Items[0].Err, domain.ErrVendorFailure) {
		t.Fatalf("err = %v", result.Items[0].Err)
	}

	source, _ := store.Get(context.Background(), "post-1")
	if _, ok := domain.FindMetadata(source, "title__body__r1"); ok {
		t.Fatal("lock entry survived the vendor failure")
	}

	// The document is free again: a retry reaches the vendor.
	vendor.failCreateJobs = false
	result = o.CreateTranslations(context.Background(), []domain.TranslationRequest{request()})
	if result.Outcome() != OutcomeSucceeded {
		t.Fatalf("retry outcome = %v, err = %v", result.Outcome(), result.Items[0].Err)
	}
}

func TestCreateTranslationPersistFailureAndResume(t *testing.T) {
	memory := contentstore.NewMemoryStore()
	seedPost(memory)
	store := &flakyStore{Store: memory, persistFailures: 1}
	vendor := &stubVendor{}
	o := newOrchestrator(t, store, vendor)

	result := o.CreateTranslations(context.Background(), []domain.TranslationRequest{request()})
	if !errors.Is(result.Items[0].Err, domain.ErrPersistFailed) {
		t.Fatalf("err = %v", result.Items[0].Err)
	}

	source, _ := memory.Get(context.Background(), "post-1")
	entry, ok := domain.FindMetadata(source, "title__body__r1")
	if !ok || entry.Status != domain.StatusFailedPersisting {
		t.Fatalf("entry = %+v, ok = %v", entry, ok)
	}
	if entry.ProjectUID != "proj-1" || len(entry.Jobs) != 1 {
		t.Fatalf("captured vendor identifiers missing: %+v", entry)
	}

	if err := o.ResumePersist(context.Background(), "post-1", "title__body__r1"); err != nil {
		t.Fatalf("ResumePersist returned error: %v", err)
	}
	if vendor.projectCalls != 1 || vendor.jobCalls != 1 {
		t.Fatalf("resume called the vendor again: projects=%d jobs=%d", vendor.projectCalls, vendor.jobCalls)
	}

	source, _ = memory.Get(context.Background(), "post-1")
	entry, _ = domain.FindMetadata(source, "title__body__r1")
	if entry.Status != domain.StatusCreated {
		t.Fatalf("entry status after resume = %s", entry.Status)
	}
	if _, err := memory.Get(context.Background(), "phrase.ptd.pt--title__body__r1"); err != nil {
		t.Fatalf("ptd missing after resume: %v", err)
	}
}

func TestResumePersistRequiresFailedPersisting(t *testing.T) {
	store := contentstore.NewMemoryStore()
	seedPost(store)
	vendor := &stubVendor{}
	o := newOrchestrator(t, store, vendor)

	result := o.CreateTranslations(context.Background(), []domain.TranslationRequest{request()})
	if result.Outcome() != OutcomeSucceeded {
		t.Fatalf("setup failed: %+v", result.Items)
	}
	err := o.ResumePersist(context.Background(), "post-1", "title__body__r1")
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("err = %v", err)
	}
}

func TestCompleteUnblocksTheDocument(t *testing.T) {
	store := contentstore.NewMemoryStore()
	seedPost(store)
	vendor := &stubVendor{}
	o := newOrchestrator(t, store, vendor)

	if out := o.CreateTranslations(context.Background(), []domain.TranslationRequest{request()}); out.Outcome() != OutcomeSucceeded {
		t.Fatalf("setup failed: %+v", out.Items)
	}

	// A second request over the same paths conflicts while CREATED...
	second := o.CreateTranslations(context.Background(), []domain.TranslationRequest{request()})
	if !errors.Is(second.Items[0].Err, domain.ErrTranslationPending) {
		t.Fatalf("err = %v", second.Items[0].Err)
	}

	if err := o.Complete(context.Background(), "post-1", "title__body__r1"); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	// ...and goes through once the entry is COMPLETED.
	third := o.CreateTranslations(context.Background(), []domain.TranslationRequest{request()})
	if third.Outcome() != OutcomeSucceeded {
		t.Fatalf("outcome after completion = %v, err = %v", third.Outcome(), third.Items[0].Err)
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	store := contentstore.NewMemoryStore()
	seedPost(store)
	vendor := &stubVendor{}
	o := newOrchestrator(t, store, vendor)

	bad := request()
	bad.TemplateUID = ""
	bad.SourceDocID = "post-2"

	result := o.CreateTranslations(context.Background(), []domain.TranslationRequest{request(), bad})
	if result.Outcome() != OutcomePartial {
		t.Fatalf("outcome = %v", result.Outcome())
	}
	if result.Items[0].Err != nil {
		t.Fatalf("good item failed: %v", result.Items[0].Err)
	}
	if !errors.Is(result.Items[1].Err, domain.ErrInvalidRequest) {
		t.Fatalf("bad item err = %v", result.Items[1].Err)
	}
}
