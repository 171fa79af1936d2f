package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/infra"
	"phrasebridge/internal/orchestrator"
	"phrasebridge/internal/reconcile"
	"phrasebridge/internal/staleness"
)

// DeliveryLog journals inbound webhooks for audit before they are processed.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, event string, payload []byte) (uuid.UUID, error)
}

// App bundles the collaborators every handler needs. Deliveries is optional.
type App struct {
	Store        contentstore.Store
	Orchestrator *orchestrator.Orchestrator
	Reconciler   *reconcile.Reconciler
	Staleness    *staleness.Detector
	Deliveries   DeliveryLog
	Logger       zerolog.Logger
	Config       *infra.Config
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
