package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"phrasebridge/internal/domain"
	"phrasebridge/internal/phrase"
)

// maxWebhookBody bounds inbound payloads; vendor notifications are small.
const maxWebhookBody = 1 << 20

// Webhook ingests vendor callbacks. A non-2xx answer makes the vendor retry
// delivery, so only terminal reconciliation failures surface as 500.
func (a *App) Webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable webhook payload")
		return
	}
	var body phrase.WebhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid webhook payload")
		return
	}
	if body.Event == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "event is required")
		return
	}

	if a.Deliveries != nil {
		// Audit only; a failed journal write never rejects the delivery.
		if _, err := a.Deliveries.RecordDelivery(r.Context(), body.Event, raw); err != nil {
			a.Logger.Error().Err(err).Str("event", body.Event).Msg("failed to journal webhook delivery")
		}
	}

	if err := a.Reconciler.HandleWebhook(r.Context(), body); err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.Logger.Error().Err(err).Str("event", body.Event).Msg("webhook reconciliation failed")
		a.error(w, http.StatusInternalServerError, "internal", "reconciliation failed")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "accepted"})
}
