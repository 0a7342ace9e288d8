package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/formworks/formworks/internal/forms/domain"
	"github.com/formworks/formworks/internal/forms/storage"
)

// EventMeta is the identifier-only event body published on the PUBLIC
// subject. Consumers that need the full record subscribe to the PRIVATE
// subject instead.
type EventMeta struct {
	Type          string    `json:"type"`
	FormID        string    `json:"formId"`
	FormVersionID string    `json:"formVersionId,omitempty"`
	SubmissionID  string    `json:"submissionId,omitempty"`
	Published     bool      `json:"published,omitempty"`
	Draft         *bool     `json:"draft,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// eventPayload is the fully materialized body published on the PRIVATE
// subject: the metadata plus the record itself.
type eventPayload struct {
	EventMeta
	Record any `json:"record,omitempty"`
}

// stagePublishEvent stages a form.published or form.unpublished event after a
// version publish transition committed.
func (e *Engine) stagePublishEvent(ctx context.Context, version storage.FormVersion, published bool) {
	eventType := domain.EventFormPublished
	if !published {
		eventType = domain.EventFormUnpublished
	}
	meta := EventMeta{
		Type:          string(eventType),
		FormID:        version.FormID,
		FormVersionID: version.ID,
		Published:     published,
		Timestamp:     e.now(),
	}
	e.stageEvent(ctx, eventType, version.FormID, meta, version, "", func(sub storage.Subscription) bool {
		return sub.OnPublish
	})
}

// stageSubmissionEvent stages submission.created for every committed
// submission insert and for the draft→submitted transition, and
// submission.updated for status transitions. The meta carries the submission's
// draft flag as of the commit, so consumers can tell a draft apart from a
// finished submission.
func (e *Engine) stageSubmissionEvent(ctx context.Context, eventType domain.EventType, formID string, sub storage.Submission) {
	draft := sub.Draft
	meta := EventMeta{
		Type:          string(eventType),
		FormID:        formID,
		FormVersionID: sub.FormVersionID,
		SubmissionID:  sub.ID,
		Draft:         &draft,
		Timestamp:     e.now(),
	}
	dedupeKey := ""
	if eventType == domain.EventSubmissionCreated {
		// At most one created event per submission per draft state: a draft
		// announces itself once, and leaving draft state announces once more.
		dedupeKey = string(eventType) + ":" + sub.ID
		if sub.Draft {
			dedupeKey += ":draft"
		}
	}
	e.stageEvent(ctx, eventType, formID, meta, sub, dedupeKey, func(config storage.Subscription) bool {
		if eventType == domain.EventSubmissionUpdated {
			return config.OnStatusChange
		}
		return config.OnSubmit
	})
}

// stageEvent durably enqueues one lifecycle event for the relay, consulting
// the form's subscription config first. It runs strictly after the owning
// operation committed, so a staging failure can only delay notification,
// never the state change; it is logged as a warning and swallowed.
func (e *Engine) stageEvent(ctx context.Context, eventType domain.EventType, formID string, meta EventMeta, record any, dedupeKey string, wants func(storage.Subscription) bool) {
	config, err := e.store.GetSubscription(ctx, formID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// No subscription row means no external notification.
			return
		}
		e.logger.Warn("event staging skipped: subscription lookup failed",
			zap.String("event_type", string(eventType)),
			zap.String("form_id", formID),
			zap.Error(err),
		)
		return
	}
	if !wants(config) {
		return
	}
	if !config.PublicStream && !config.PrivateStream {
		return
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		e.logger.Warn("event staging skipped: meta marshal failed",
			zap.String("event_type", string(eventType)),
			zap.String("form_id", formID),
			zap.Error(err),
		)
		return
	}
	payloadJSON, err := json.Marshal(eventPayload{EventMeta: meta, Record: record})
	if err != nil {
		e.logger.Warn("event staging skipped: payload marshal failed",
			zap.String("event_type", string(eventType)),
			zap.String("form_id", formID),
			zap.Error(err),
		)
		return
	}

	now := e.now()
	event := storage.OutboxEvent{
		ID:            e.newID(),
		EventType:     eventType,
		FormID:        formID,
		PayloadJSON:   string(payloadJSON),
		MetaJSON:      string(metaJSON),
		DedupeKey:     dedupeKey,
		PublicStream:  config.PublicStream,
		PrivateStream: config.PrivateStream,
		Status:        storage.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.EnqueueOutboxEvent(ctx, event); err != nil {
		e.logger.Warn("event staging failed",
			zap.String("event_type", string(eventType)),
			zap.String("form_id", formID),
			zap.Error(err),
		)
	}
}
