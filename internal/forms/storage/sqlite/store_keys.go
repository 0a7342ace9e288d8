package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/formworks/formworks/internal/forms/storage"
)

// PutAPIKey upserts a form's programmatic credential. Rotation replaces the
// secret in place and keeps the original creation timestamp.
func (s *Store) PutAPIKey(ctx context.Context, key storage.APIKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	key.FormID = strings.TrimSpace(key.FormID)
	if key.FormID == "" {
		return fmt.Errorf("form id is required")
	}
	if key.Secret == "" {
		return fmt.Errorf("api key secret is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO form_api_keys (form_id, secret, files_api_access, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(form_id) DO UPDATE SET
	secret = excluded.secret,
	files_api_access = excluded.files_api_access,
	updated_at = excluded.updated_at
`,
		key.FormID,
		key.Secret,
		boolToInt(key.FilesAPIAccess),
		toMillis(key.CreatedAt),
		toMillis(key.UpdatedAt),
	); err != nil {
		return fmt.Errorf("put form api key: %w", err)
	}
	return nil
}

// GetAPIKey returns a form's credential.
func (s *Store) GetAPIKey(ctx context.Context, formID string) (storage.APIKey, error) {
	if err := ctx.Err(); err != nil {
		return storage.APIKey{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.APIKey{}, fmt.Errorf("storage is not configured")
	}

	formID = strings.TrimSpace(formID)
	if formID == "" {
		return storage.APIKey{}, fmt.Errorf("form id is required")
	}

	var key storage.APIKey
	var filesAccess int
	var createdAt, updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT form_id, secret, files_api_access, created_at, updated_at
FROM form_api_keys WHERE form_id = ?
`, formID).Scan(&key.FormID, &key.Secret, &filesAccess, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.APIKey{}, storage.ErrNotFound
		}
		return storage.APIKey{}, fmt.Errorf("get form api key: %w", err)
	}
	key.FilesAPIAccess = filesAccess != 0
	key.CreatedAt = fromMillis(createdAt)
	key.UpdatedAt = fromMillis(updatedAt)
	return key, nil
}

// DeleteAPIKey removes a form's credential.
func (s *Store) DeleteAPIKey(ctx context.Context, formID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	formID = strings.TrimSpace(formID)
	if formID == "" {
		return fmt.Errorf("form id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM form_api_keys WHERE form_id = ?`, formID)
	if err != nil {
		return fmt.Errorf("delete form api key: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete form api key rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetAPIKeyFilesAccess toggles file-API access on a form's credential.
func (s *Store) SetAPIKeyFilesAccess(ctx context.Context, formID string, allowed bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	formID = strings.TrimSpace(formID)
	if formID == "" {
		return fmt.Errorf("form id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE form_api_keys SET files_api_access = ?, updated_at = ? WHERE form_id = ?
`, boolToInt(allowed), toMillis(at), formID)
	if err != nil {
		return fmt.Errorf("set api key files access: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set api key files access rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetSubscription returns a form's external-notification config. Absence of a
// row is ErrNotFound; callers treat that as notifications disabled.
func (s *Store) GetSubscription(ctx context.Context, formID string) (storage.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return storage.Subscription{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Subscription{}, fmt.Errorf("storage is not configured")
	}

	formID = strings.TrimSpace(formID)
	if formID == "" {
		return storage.Subscription{}, fmt.Errorf("form id is required")
	}

	var sub storage.Subscription
	var onPublish, onSubmit, onStatusChange, publicStream, privateStream int
	var updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT form_id, on_publish, on_submit, on_status_change, public_stream, private_stream, updated_at
FROM form_subscriptions WHERE form_id = ?
`, formID).Scan(&sub.FormID, &onPublish, &onSubmit, &onStatusChange, &publicStream, &privateStream, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Subscription{}, storage.ErrNotFound
		}
		return storage.Subscription{}, fmt.Errorf("get form subscription: %w", err)
	}
	sub.OnPublish = onPublish != 0
	sub.OnSubmit = onSubmit != 0
	sub.OnStatusChange = onStatusChange != 0
	sub.PublicStream = publicStream != 0
	sub.PrivateStream = privateStream != 0
	sub.UpdatedAt = fromMillis(updatedAt)
	return sub, nil
}

// PutSubscription upserts a form's external-notification config.
func (s *Store) PutSubscription(ctx context.Context, sub storage.Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	sub.FormID = strings.TrimSpace(sub.FormID)
	if sub.FormID == "" {
		return fmt.Errorf("form id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO form_subscriptions (form_id, on_publish, on_submit, on_status_change, public_stream, private_stream, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(form_id) DO UPDATE SET
	on_publish = excluded.on_publish,
	on_submit = excluded.on_submit,
	on_status_change = excluded.on_status_change,
	public_stream = excluded.public_stream,
	private_stream = excluded.private_stream,
	updated_at = excluded.updated_at
`,
		sub.FormID,
		boolToInt(sub.OnPublish),
		boolToInt(sub.OnSubmit),
		boolToInt(sub.OnStatusChange),
		boolToInt(sub.PublicStream),
		boolToInt(sub.PrivateStream),
		toMillis(sub.UpdatedAt),
	); err != nil {
		return fmt.Errorf("put form subscription: %w", err)
	}
	return nil
}
