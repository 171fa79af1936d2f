// Package journal persists incoming vendor webhooks in Postgres so the worker
// can replay them with retries, and so fresh-project events can be parked for
// a settle delay before reconciliation runs.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"phrasebridge/internal/infra"
	"phrasebridge/internal/phrase"
	"phrasebridge/internal/sqlinline"
)

// Event is a claimed journal entry.
type Event struct {
	ID       uuid.UUID
	Event    string
	Payload  []byte
	Attempts int32
}

type Journal struct {
	sql infra.SQLExecutor
}

func New(sql infra.SQLExecutor) *Journal {
	return &Journal{sql: sql}
}

// EnsureSchema creates the journal tables when they do not exist yet.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{
		sqlinline.QEnsureWebhookEvents,
		sqlinline.QEnsureWebhookEventsIndex,
		sqlinline.QEnsureIntegrationTokens,
	} {
		if _, err := j.sql.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Enqueue records a webhook payload for processing after the given delay.
func (j *Journal) Enqueue(ctx context.Context, event string, payload []byte, delay time.Duration) (uuid.UUID, error) {
	row := j.sql.QueryRow(ctx, sqlinline.QEnqueueWebhookEvent, event, payload, delay.Milliseconds())
	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue webhook event: %w", err)
	}
	return id, nil
}

// RecordDelivery journals an inbound webhook for audit. RECEIVED rows are
// never claimed by the worker; they only document what the vendor sent.
func (j *Journal) RecordDelivery(ctx context.Context, event string, payload []byte) (uuid.UUID, error) {
	row := j.sql.QueryRow(ctx, sqlinline.QRecordWebhookDelivery, event, payload)
	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("record webhook delivery: %w", err)
	}
	return id, nil
}

// Defer re-journals a parsed webhook body for later delivery.
func (j *Journal) Defer(ctx context.Context, body phrase.WebhookBody, delay time.Duration) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}
	_, err = j.Enqueue(ctx, body.Event, payload, delay)
	return err
}

// ClaimDue atomically claims the oldest due QUEUED event, or returns nil when
// none is due. Concurrent workers skip rows locked by each other.
func (j *Journal) ClaimDue(ctx context.Context) (*Event, error) {
	row := j.sql.QueryRow(ctx, sqlinline.QClaimDueWebhookEvent)
	var ev Event
	if err := row.Scan(&ev.ID, &ev.Event, &ev.Payload, &ev.Attempts); err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim webhook event: %w", err)
	}
	return &ev, nil
}

func (j *Journal) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	_, err := j.sql.Exec(ctx, sqlinline.QSucceedWebhookEvent, id)
	return err
}

func (j *Journal) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	_, err := j.sql.Exec(ctx, sqlinline.QFailWebhookEvent, id, cause.Error())
	return err
}

// Requeue puts a claimed event back in the queue to retry after delay.
func (j *Journal) Requeue(ctx context.Context, id uuid.UUID, cause error, delay time.Duration) error {
	_, err := j.sql.Exec(ctx, sqlinline.QRequeueWebhookEvent, id, cause.Error(), delay.Milliseconds())
	return err
}
