package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/formworks/formworks/internal/forms/domain"
	"github.com/formworks/formworks/internal/forms/storage"
)

// CreateOrRotateAPIKey mints a new secret for the form's programmatic
// credential. A form holds at most one key; rotation replaces the secret in
// place and keeps the original creation timestamp and file-access flag.
func (e *Engine) CreateOrRotateAPIKey(ctx context.Context, formID string) (storage.APIKey, error) {
	if _, err := e.GetForm(ctx, formID); err != nil {
		return storage.APIKey{}, err
	}

	now := e.now()
	key := storage.APIKey{
		FormID:    formID,
		Secret:    e.newID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := e.store.GetAPIKey(ctx, formID); err == nil {
		key.CreatedAt = existing.CreatedAt
		key.FilesAPIAccess = existing.FilesAPIAccess
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.APIKey{}, fmt.Errorf("get api key: %w", err)
	}

	if err := e.store.PutAPIKey(ctx, key); err != nil {
		return storage.APIKey{}, fmt.Errorf("put api key: %w", err)
	}

	e.logger.Info("api key rotated", zap.String("form_id", formID))
	return key, nil
}

// GetAPIKey returns a form's credential.
func (e *Engine) GetAPIKey(ctx context.Context, formID string) (storage.APIKey, error) {
	key, err := e.store.GetAPIKey(ctx, formID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.APIKey{}, domain.ErrAPIKeyNotFound
		}
		return storage.APIKey{}, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

// DeleteAPIKey removes a form's credential.
func (e *Engine) DeleteAPIKey(ctx context.Context, formID string) error {
	if err := e.store.DeleteAPIKey(ctx, formID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.ErrAPIKeyNotFound
		}
		return fmt.Errorf("delete api key: %w", err)
	}
	e.logger.Info("api key deleted", zap.String("form_id", formID))
	return nil
}

// SetAPIKeyFilesAccess toggles file-API access on a form's credential.
func (e *Engine) SetAPIKeyFilesAccess(ctx context.Context, formID string, allowed bool) error {
	if err := e.store.SetAPIKeyFilesAccess(ctx, formID, allowed, e.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.ErrAPIKeyNotFound
		}
		return fmt.Errorf("set api key files access: %w", err)
	}
	return nil
}

// PutSubscription upserts a form's external-notification config.
func (e *Engine) PutSubscription(ctx context.Context, sub storage.Subscription) (storage.Subscription, error) {
	if _, err := e.GetForm(ctx, sub.FormID); err != nil {
		return storage.Subscription{}, err
	}
	sub.UpdatedAt = e.now()
	if err := e.store.PutSubscription(ctx, sub); err != nil {
		return storage.Subscription{}, fmt.Errorf("put subscription: %w", err)
	}
	return sub, nil
}
