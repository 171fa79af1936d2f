package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/domain"
	"phrasebridge/internal/orchestrator"
	"phrasebridge/internal/pathkey"
	"phrasebridge/internal/refresolver"
)

const (
	actionCreateTranslations  = "CREATE_TRANSLATIONS"
	actionRefreshPTD          = "REFRESH_PTD"
	actionResolveReferences   = "RESOLVE_REFERENCES"
	actionResumePersist       = "RESUME_PERSIST"
	actionCompleteTranslation = "COMPLETE_TRANSLATION"
)

type actionRequest struct {
	Action         string            `json:"action"`
	Requests       []translationItem `json:"requests"`
	PTDID          string            `json:"ptdId"`
	DocID          string            `json:"docId"`
	MaxDepth       int               `json:"maxDepth"`
	SourceDocID    string            `json:"sourceDocId"`
	TranslationKey string            `json:"translationKey"`
}

type translationItem struct {
	SourceDocID string     `json:"sourceDocId"`
	SourceLang  string     `json:"sourceLang"`
	TargetLangs []string   `json:"targetLangs"`
	Paths       [][]string `json:"paths"`
	TemplateUID string     `json:"templateUid"`
	DateDue     *time.Time `json:"dateDue"`
}

type itemResponse struct {
	SourceDocID    string   `json:"sourceDocId"`
	Status         string   `json:"status"`
	TranslationKey string   `json:"translationKey,omitempty"`
	ProjectUID     string   `json:"projectUid,omitempty"`
	PTDIDs         []string `json:"ptdIds,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Actions is the single synchronous entry point for editor-triggered work.
func (a *App) Actions(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	switch req.Action {
	case actionCreateTranslations:
		a.createTranslations(w, r, req.Requests)
	case actionRefreshPTD:
		a.refreshPTD(w, r, req.PTDID)
	case actionResolveReferences:
		a.resolveReferences(w, r, req.DocID, req.MaxDepth)
	case actionResumePersist:
		a.lifecycle(w, r, req, a.Orchestrator.ResumePersist)
	case actionCompleteTranslation:
		a.lifecycle(w, r, req, a.Orchestrator.Complete)
	default:
		a.error(w, http.StatusBadRequest, "unknown_action", "unsupported action")
	}
}

func (a *App) createTranslations(w http.ResponseWriter, r *http.Request, items []translationItem) {
	if len(items) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "requests must not be empty")
		return
	}
	reqs := make([]domain.TranslationRequest, len(items))
	for i, item := range items {
		reqs[i] = a.toDomainRequest(item)
	}
	result := a.Orchestrator.CreateTranslations(r.Context(), reqs)

	responses := make([]itemResponse, len(result.Items))
	for i, item := range result.Items {
		responses[i] = itemResponse{
			SourceDocID:    item.SourceDocID,
			Status:         "SUCCEEDED",
			TranslationKey: item.TranslationKey,
			ProjectUID:     item.ProjectUID,
			PTDIDs:         item.PTDIDs,
		}
		if item.Err != nil {
			responses[i].Status = "FAILED"
			responses[i].Error = item.Err.Error()
		}
	}

	switch result.Outcome() {
	case orchestrator.OutcomeSucceeded:
		a.json(w, http.StatusOK, map[string]any{"items": responses})
	case orchestrator.OutcomeFailed:
		if len(result.Items) == 1 {
			status, code := statusForError(result.Items[0].Err)
			a.json(w, status, map[string]any{
				"items": responses,
				"error": map[string]string{"code": code, "message": result.Items[0].Err.Error()},
			})
			return
		}
		a.json(w, http.StatusMultiStatus, map[string]any{"items": responses})
	default:
		a.json(w, http.StatusMultiStatus, map[string]any{"items": responses})
	}
}

func (a *App) refreshPTD(w http.ResponseWriter, r *http.Request, ptdID string) {
	if ptdID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "ptdId is required")
		return
	}
	if err := a.Reconciler.RefreshPTD(r.Context(), ptdID); err != nil {
		status, code := statusForError(err)
		a.error(w, status, code, err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok", "ptdId": ptdID})
}

// resolveReferences reports which documents a translation rooted at docId
// would transitively pull into scope.
func (a *App) resolveReferences(w http.ResponseWriter, r *http.Request, docID string, maxDepth int) {
	if docID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "docId is required")
		return
	}
	root, err := fetchPreferringDraft(r.Context(), a.Store, docID)
	if err != nil {
		status, code := statusForError(err)
		a.error(w, status, code, err.Error())
		return
	}
	result := refresolver.Resolve(r.Context(), a.Store, root, refresolver.Options{MaxDepth: maxDepth})

	type occurrenceResponse struct {
		ParentID string `json:"parentId"`
		Depth    int    `json:"depth"`
		Path     string `json:"path"`
	}
	type targetResponse struct {
		ID          string               `json:"id"`
		Type        string               `json:"type"`
		Draft       bool                 `json:"draft"`
		Occurrences []occurrenceResponse `json:"occurrences"`
	}
	targets := make([]targetResponse, 0, len(result.Targets))
	for _, target := range result.Targets {
		tr := targetResponse{
			ID:    target.ID,
			Type:  contentstore.DocType(target.Doc),
			Draft: target.Draft,
		}
		for _, occ := range target.Occurrences {
			tr.Occurrences = append(tr.Occurrences, occurrenceResponse{
				ParentID: occ.ParentID,
				Depth:    occ.Depth,
				Path:     pathkey.PathToString(occ.Path),
			})
		}
		targets = append(targets, tr)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })

	failures := make(map[string]string, len(result.Errors))
	for id, ferr := range result.Errors {
		failures[id] = ferr.Error()
	}
	a.json(w, http.StatusOK, map[string]any{"targets": targets, "errors": failures})
}

// lifecycle runs one of the per-entry status transitions keyed by
// (sourceDocId, translationKey).
func (a *App) lifecycle(w http.ResponseWriter, r *http.Request, req actionRequest, fn func(context.Context, string, string) error) {
	if req.SourceDocID == "" || req.TranslationKey == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "sourceDocId and translationKey are required")
		return
	}
	if err := fn(r.Context(), req.SourceDocID, req.TranslationKey); err != nil {
		status, code := statusForError(err)
		a.error(w, status, code, err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]string{
		"status":         "ok",
		"sourceDocId":    req.SourceDocID,
		"translationKey": req.TranslationKey,
	})
}

func fetchPreferringDraft(ctx context.Context, store contentstore.Store, id string) (contentstore.Document, error) {
	published := pathkey.UndraftID(id)
	docs, err := store.GetMany(ctx, []string{pathkey.DraftID(published), published})
	if err != nil {
		return nil, err
	}
	if doc, ok := docs[pathkey.DraftID(published)]; ok {
		return doc, nil
	}
	if doc, ok := docs[published]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("document %s: %w", published, domain.ErrNotFound)
}

// toDomainRequest fills per-deployment defaults so callers only send what
// differs per document.
func (a *App) toDomainRequest(item translationItem) domain.TranslationRequest {
	req := domain.TranslationRequest{
		SourceDocID: item.SourceDocID,
		SourceLang:  item.SourceLang,
		TargetLangs: item.TargetLangs,
		TemplateUID: item.TemplateUID,
		DateDue:     item.DateDue,
	}
	for _, p := range item.Paths {
		req.Paths = append(req.Paths, pathkey.Path(p))
	}
	if req.SourceLang == "" {
		req.SourceLang = a.Config.SourceLanguage
	}
	if req.TemplateUID == "" {
		req.TemplateUID = a.Config.PhraseTemplateUID
	}
	return req
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case domain.IsConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrUntranslatableType):
		return http.StatusUnprocessableEntity, "untranslatable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
