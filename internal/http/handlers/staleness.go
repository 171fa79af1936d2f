package handlers

import (
	"net/http"
)

// StalenessReport classifies documents against their frozen translation
// snapshots. Both query parameters repeat: ?id=a&id=b&lang=de&lang=fr.
func (a *App) StalenessReport(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["id"]
	langs := r.URL.Query()["lang"]
	if len(ids) == 0 || len(langs) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "at least one id and one lang are required")
		return
	}
	reports, err := a.Staleness.Classify(r.Context(), ids, langs)
	if err != nil {
		status, code := statusForError(err)
		a.error(w, status, code, err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": reports})
}
