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

const versionColumns = `
	id,
	form_id,
	version,
	schema_json,
	published,
	superseded_at,
	created_by,
	created_at,
	updated_at
`

const draftColumns = `
	id,
	form_id,
	source_version_id,
	schema_json,
	created_by,
	created_at,
	updated_at
`

// CreateDraft inserts a new version draft. A form holds at most one live
// draft; a second insert fails with ErrDraftExists.
func (s *Store) CreateDraft(ctx context.Context, draft storage.FormDraft) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertDraft(ctx, tx, draft)
	})
}

func insertDraft(ctx context.Context, tx *sql.Tx, draft storage.FormDraft) error {
	draft.ID = strings.TrimSpace(draft.ID)
	draft.FormID = strings.TrimSpace(draft.FormID)
	if draft.ID == "" {
		return fmt.Errorf("draft id is required")
	}
	if draft.FormID == "" {
		return fmt.Errorf("draft form id is required")
	}
	if draft.SchemaJSON == "" {
		draft.SchemaJSON = "{}"
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO form_drafts (`+draftColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		draft.ID,
		draft.FormID,
		draft.SourceVersionID,
		draft.SchemaJSON,
		draft.CreatedBy,
		toMillis(draft.CreatedAt),
		toMillis(draft.UpdatedAt),
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return storage.ErrDraftExists
		}
		return fmt.Errorf("insert form draft: %w", err)
	}
	return nil
}

// GetDraft returns one version draft by id.
func (s *Store) GetDraft(ctx context.Context, id string) (storage.FormDraft, error) {
	if err := ctx.Err(); err != nil {
		return storage.FormDraft{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.FormDraft{}, fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return storage.FormDraft{}, fmt.Errorf("draft id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM form_drafts WHERE id = ?`, id)
	draft, err := scanDraft(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.FormDraft{}, storage.ErrNotFound
		}
		return storage.FormDraft{}, fmt.Errorf("get form draft: %w", err)
	}
	return draft, nil
}

// UpdateDraft rewrites a draft's working schema.
func (s *Store) UpdateDraft(ctx context.Context, draft storage.FormDraft) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	draft.ID = strings.TrimSpace(draft.ID)
	if draft.ID == "" {
		return fmt.Errorf("draft id is required")
	}
	if draft.SchemaJSON == "" {
		draft.SchemaJSON = "{}"
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE form_drafts SET schema_json = ?, updated_at = ? WHERE id = ?
`, draft.SchemaJSON, toMillis(draft.UpdatedAt), draft.ID)
	if err != nil {
		return fmt.Errorf("update form draft: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update form draft rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetVersion returns one form version by id.
func (s *Store) GetVersion(ctx context.Context, id string) (storage.FormVersion, error) {
	if err := ctx.Err(); err != nil {
		return storage.FormVersion{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.FormVersion{}, fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return storage.FormVersion{}, fmt.Errorf("version id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM form_versions WHERE id = ?`, id)
	version, err := scanVersion(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.FormVersion{}, storage.ErrNotFound
		}
		return storage.FormVersion{}, fmt.Errorf("get form version: %w", err)
	}
	return version, nil
}

// ListVersions returns a form's versions, oldest first unless ordered
// descending by option.
func (s *Store) ListVersions(ctx context.Context, formID string, opts ...storage.ListOption) ([]storage.FormVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	formID = strings.TrimSpace(formID)
	if formID == "" {
		return nil, fmt.Errorf("form id is required")
	}

	q := storage.BuildListQuery(opts...)
	order := "ASC"
	if q.OrderVersionDesc {
		order = "DESC"
	}
	query := `SELECT ` + versionColumns + ` FROM form_versions WHERE form_id = ? ORDER BY version ` + order
	args := []any{formID}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list form versions: %w", err)
	}
	defer rows.Close()

	var versions []storage.FormVersion
	for rows.Next() {
		version, scanErr := scanVersion(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan form version: %w", scanErr)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate form versions: %w", err)
	}
	return versions, nil
}

// PromoteDraft consumes the draft and inserts the next version of its form as
// the single published version, superseding the previous one, all in one
// transaction. A consumed draft id fails with ErrNotFound so a second publish
// attempt can never double-create a version.
func (s *Store) PromoteDraft(ctx context.Context, draftID, versionID, by string, at time.Time) (storage.FormVersion, error) {
	draftID = strings.TrimSpace(draftID)
	versionID = strings.TrimSpace(versionID)
	if draftID == "" {
		return storage.FormVersion{}, fmt.Errorf("draft id is required")
	}
	if versionID == "" {
		return storage.FormVersion{}, fmt.Errorf("version id is required")
	}

	var promoted storage.FormVersion
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM form_drafts WHERE id = ?`, draftID)
		draft, err := scanDraft(row.Scan)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("read form draft: %w", err)
		}

		var nextVersion int
		if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(version), 0) + 1 FROM form_versions WHERE form_id = ?
`, draft.FormID).Scan(&nextVersion); err != nil {
			return fmt.Errorf("next version number: %w", err)
		}

		if err := supersedePublished(ctx, tx, draft.FormID, "", at); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO form_versions (`+versionColumns+`) VALUES (?, ?, ?, ?, 1, NULL, ?, ?, ?)
`,
			versionID,
			draft.FormID,
			nextVersion,
			draft.SchemaJSON,
			by,
			toMillis(at),
			toMillis(at),
		); err != nil {
			return fmt.Errorf("insert form version: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM form_drafts WHERE id = ?`, draftID); err != nil {
			return fmt.Errorf("consume form draft: %w", err)
		}

		promoted = storage.FormVersion{
			ID:         versionID,
			FormID:     draft.FormID,
			Version:    nextVersion,
			SchemaJSON: draft.SchemaJSON,
			Published:  true,
			CreatedBy:  by,
			CreatedAt:  at.UTC(),
			UpdatedAt:  at.UTC(),
		}
		return nil
	})
	if err != nil {
		return storage.FormVersion{}, err
	}
	return promoted, nil
}

// SetVersionPublished flips the published flag on one version.
//
// Publishing re-reads the target inside the transaction: a missing row fails
// with ErrNotFound and an already-superseded row fails with ErrSuperseded, so
// the loser of a concurrent publish race surfaces a conflict instead of
// silently overwriting. Unpublishing is the same operation with the flag
// inverted.
func (s *Store) SetVersionPublished(ctx context.Context, formID, versionID string, published bool, at time.Time) (storage.FormVersion, error) {
	formID = strings.TrimSpace(formID)
	versionID = strings.TrimSpace(versionID)
	if formID == "" {
		return storage.FormVersion{}, fmt.Errorf("form id is required")
	}
	if versionID == "" {
		return storage.FormVersion{}, fmt.Errorf("version id is required")
	}

	var updated storage.FormVersion
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
SELECT `+versionColumns+` FROM form_versions WHERE id = ? AND form_id = ?
`, versionID, formID)
		target, err := scanVersion(row.Scan)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("read form version: %w", err)
		}

		if published {
			if target.SupersededAt != nil {
				return storage.ErrSuperseded
			}
			if err := supersedePublished(ctx, tx, formID, versionID, at); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE form_versions
SET published = ?, superseded_at = NULL, updated_at = ?
WHERE id = ?
`, boolToInt(published), toMillis(at), versionID); err != nil {
			return fmt.Errorf("set version published: %w", err)
		}

		target.Published = published
		target.SupersededAt = nil
		target.UpdatedAt = at.UTC()
		updated = target
		return nil
	})
	if err != nil {
		return storage.FormVersion{}, err
	}
	return updated, nil
}

// supersedePublished unpublishes every published version of the form except
// keepID and stamps its superseded marker.
func supersedePublished(ctx context.Context, tx *sql.Tx, formID, keepID string, at time.Time) error {
	if _, err := tx.ExecContext(ctx, `
UPDATE form_versions
SET published = 0, superseded_at = ?, updated_at = ?
WHERE form_id = ? AND published = 1 AND id <> ?
`, toMillis(at), toMillis(at), formID, keepID); err != nil {
		return fmt.Errorf("supersede published versions: %w", err)
	}
	return nil
}

type versionScanner func(dest ...any) error

func scanVersion(scan versionScanner) (storage.FormVersion, error) {
	var version storage.FormVersion
	var published int
	var supersededAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := scan(
		&version.ID,
		&version.FormID,
		&version.Version,
		&version.SchemaJSON,
		&published,
		&supersededAt,
		&version.CreatedBy,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.FormVersion{}, err
	}
	version.Published = published != 0
	version.SupersededAt = fromNullMillis(supersededAt)
	version.CreatedAt = fromMillis(createdAt)
	version.UpdatedAt = fromMillis(updatedAt)
	return version, nil
}

type draftScanner func(dest ...any) error

func scanDraft(scan draftScanner) (storage.FormDraft, error) {
	var draft storage.FormDraft
	var createdAt, updatedAt int64
	if err := scan(
		&draft.ID,
		&draft.FormID,
		&draft.SourceVersionID,
		&draft.SchemaJSON,
		&draft.CreatedBy,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.FormDraft{}, err
	}
	draft.CreatedAt = fromMillis(createdAt)
	draft.UpdatedAt = fromMillis(updatedAt)
	return draft, nil
}
