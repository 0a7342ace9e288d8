package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/formworks/formworks/internal/forms/domain"
	"github.com/formworks/formworks/internal/forms/storage"
)

// CreateDraft opens a new version draft for a form, optionally seeded from an
// existing version's schema.
func (e *Engine) CreateDraft(ctx context.Context, actor domain.Actor, formID, sourceVersionID, schemaJSON string) (storage.FormDraft, error) {
	if _, err := e.GetForm(ctx, formID); err != nil {
		return storage.FormDraft{}, err
	}

	if schemaJSON == "" && sourceVersionID != "" {
		source, err := e.store.GetVersion(ctx, sourceVersionID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return storage.FormDraft{}, domain.ErrVersionNotFound
			}
			return storage.FormDraft{}, fmt.Errorf("get source version: %w", err)
		}
		schemaJSON = source.SchemaJSON
	}

	now := e.now()
	draft := storage.FormDraft{
		ID:              e.newID(),
		FormID:          formID,
		SourceVersionID: sourceVersionID,
		SchemaJSON:      schemaJSON,
		CreatedBy:       actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreateDraft(ctx, draft); err != nil {
		if errors.Is(err, storage.ErrDraftExists) {
			return storage.FormDraft{}, domain.ErrDraftAlreadyExists
		}
		return storage.FormDraft{}, fmt.Errorf("create draft: %w", err)
	}
	return draft, nil
}

// UpdateDraft rewrites a draft's working schema.
func (e *Engine) UpdateDraft(ctx context.Context, actor domain.Actor, draftID, schemaJSON string) (storage.FormDraft, error) {
	draft, err := e.store.GetDraft(ctx, draftID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.FormDraft{}, domain.ErrDraftNotFound
		}
		return storage.FormDraft{}, fmt.Errorf("get draft: %w", err)
	}

	draft.SchemaJSON = schemaJSON
	draft.UpdatedAt = e.now()
	if err := e.store.UpdateDraft(ctx, draft); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.FormDraft{}, domain.ErrDraftNotFound
		}
		return storage.FormDraft{}, fmt.Errorf("update draft: %w", err)
	}
	return draft, nil
}

// PublishDraft promotes a draft into the next published version of its form.
//
// The promotion consumes the draft: a repeated call with the same draft id
// fails with NotFound instead of minting a duplicate version. Exactly one
// version of the form is published afterwards. A form.published event is
// staged after the commit.
func (e *Engine) PublishDraft(ctx context.Context, actor domain.Actor, draftID string) (storage.FormVersion, error) {
	now := e.now()
	version, err := e.store.PromoteDraft(ctx, draftID, e.newID(), actor.ID, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.FormVersion{}, domain.ErrDraftNotFound
		}
		return storage.FormVersion{}, fmt.Errorf("promote draft: %w", err)
	}

	e.logger.Info("form version published",
		zap.String("form_id", version.FormID),
		zap.String("form_version_id", version.ID),
		zap.Int("version", version.Version),
		zap.String("published_by", actor.ID),
	)
	e.stagePublishEvent(ctx, version, true)
	return version, nil
}

// PublishVersion flips the published flag on an existing version.
//
// Publishing supersedes any other published version of the form; a target
// that was itself superseded by a concurrent publish fails with a conflict.
// Unpublishing is the same operation with the flag inverted and stages
// form.unpublished instead.
func (e *Engine) PublishVersion(ctx context.Context, actor domain.Actor, formID, versionID string, publish bool) (storage.FormVersion, error) {
	version, err := e.store.SetVersionPublished(ctx, formID, versionID, publish, e.now())
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrSuperseded):
			return storage.FormVersion{}, domain.ErrPublishConflict
		case errors.Is(err, storage.ErrNotFound):
			return storage.FormVersion{}, domain.ErrVersionNotFound
		}
		return storage.FormVersion{}, fmt.Errorf("set version published: %w", err)
	}

	e.logger.Info("form version publish flag changed",
		zap.String("form_id", version.FormID),
		zap.String("form_version_id", version.ID),
		zap.Bool("published", publish),
		zap.String("changed_by", actor.ID),
	)
	e.stagePublishEvent(ctx, version, publish)
	return version, nil
}

// GetVersion returns one published or historical version by id.
func (e *Engine) GetVersion(ctx context.Context, versionID string) (storage.FormVersion, error) {
	version, err := e.store.GetVersion(ctx, versionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.FormVersion{}, domain.ErrVersionNotFound
		}
		return storage.FormVersion{}, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

// ListVersions returns a form's version history.
func (e *Engine) ListVersions(ctx context.Context, formID string, opts ...storage.ListOption) ([]storage.FormVersion, error) {
	versions, err := e.store.ListVersions(ctx, formID, opts...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}
