package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/formworks/formworks/internal/forms/domain"
	"github.com/formworks/formworks/internal/forms/storage"
)

const submissionColumns = `
	id,
	form_version_id,
	confirmation_id,
	draft,
	data_json,
	created_by,
	created_at,
	updated_at
`

// CreateSubmission inserts one submission with its grant rows and optional
// initial status in a single transaction.
func (s *Store) CreateSubmission(ctx context.Context, sub storage.Submission, grants []storage.SubmissionGrant, status *storage.SubmissionStatus) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertSubmission(ctx, tx, sub); err != nil {
			return err
		}
		for _, grant := range grants {
			if err := insertSubmissionGrant(ctx, tx, grant); err != nil {
				return err
			}
		}
		if status != nil {
			if err := insertSubmissionStatus(ctx, tx, *status); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateSubmissions inserts the whole batch in one transaction; any failure
// leaves zero rows behind. The form's bulk capabilities are checked inside
// the same transaction so a concurrent capability flip cannot admit the
// batch.
func (s *Store) CreateSubmissions(ctx context.Context, formID string, subs []storage.Submission, grants []storage.SubmissionGrant, statuses []storage.SubmissionStatus) error {
	formID = strings.TrimSpace(formID)
	if formID == "" {
		return fmt.Errorf("form id is required")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var draftsEnabled, uploadsEnabled int
		err := tx.QueryRowContext(ctx, `
SELECT enable_submitter_draft, allow_submitter_upload FROM forms WHERE id = ?
`, formID).Scan(&draftsEnabled, &uploadsEnabled)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("read form capabilities: %w", err)
		}
		if draftsEnabled == 0 || uploadsEnabled == 0 {
			return storage.ErrBulkNotAllowed
		}

		for _, sub := range subs {
			if err := insertSubmission(ctx, tx, sub); err != nil {
				return err
			}
		}
		for _, grant := range grants {
			if err := insertSubmissionGrant(ctx, tx, grant); err != nil {
				return err
			}
		}
		for _, status := range statuses {
			if err := insertSubmissionStatus(ctx, tx, status); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertSubmission(ctx context.Context, tx *sql.Tx, sub storage.Submission) error {
	sub.ID = strings.TrimSpace(sub.ID)
	sub.FormVersionID = strings.TrimSpace(sub.FormVersionID)
	if sub.ID == "" {
		return fmt.Errorf("submission id is required")
	}
	if sub.FormVersionID == "" {
		return fmt.Errorf("submission form version id is required")
	}
	if sub.DataJSON == "" {
		sub.DataJSON = "{}"
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO form_submissions (`+submissionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		sub.ID,
		sub.FormVersionID,
		sub.ConfirmationID,
		boolToInt(sub.Draft),
		sub.DataJSON,
		sub.CreatedBy,
		toMillis(sub.CreatedAt),
		toMillis(sub.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert form submission: %w", err)
	}
	return nil
}

func insertSubmissionGrant(ctx context.Context, tx *sql.Tx, grant storage.SubmissionGrant) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO form_submission_users (submission_id, user_id, permission, created_at)
VALUES (?, ?, ?, ?)
`, grant.SubmissionID, grant.UserID, string(grant.Permission), toMillis(grant.CreatedAt)); err != nil {
		return fmt.Errorf("insert submission grant: %w", err)
	}
	return nil
}

func insertSubmissionStatus(ctx context.Context, tx *sql.Tx, status storage.SubmissionStatus) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO form_submission_statuses (id, submission_id, code, created_by, created_at)
VALUES (?, ?, ?, ?, ?)
`, status.ID, status.SubmissionID, status.Code, status.CreatedBy, toMillis(status.CreatedAt)); err != nil {
		return fmt.Errorf("insert submission status: %w", err)
	}
	return nil
}

// GetSubmission returns one submission by id.
func (s *Store) GetSubmission(ctx context.Context, id string) (storage.Submission, error) {
	if err := ctx.Err(); err != nil {
		return storage.Submission{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Submission{}, fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Submission{}, fmt.Errorf("submission id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM form_submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Submission{}, storage.ErrNotFound
		}
		return storage.Submission{}, fmt.Errorf("get form submission: %w", err)
	}
	return sub, nil
}

// FinalizeSubmission flips the draft flag off, deletes the creator's listed
// grant rows, and appends the initial status history row in one transaction.
func (s *Store) FinalizeSubmission(ctx context.Context, id string, strip []domain.Permission, status storage.SubmissionStatus, at time.Time) (storage.Submission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Submission{}, fmt.Errorf("submission id is required")
	}

	var finalized storage.Submission
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM form_submissions WHERE id = ?`, id)
		sub, err := scanSubmission(row.Scan)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("read form submission: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE form_submissions SET draft = 0, updated_at = ? WHERE id = ?
`, toMillis(at), id); err != nil {
			return fmt.Errorf("finalize form submission: %w", err)
		}

		for _, permission := range strip {
			if _, err := tx.ExecContext(ctx, `
DELETE FROM form_submission_users WHERE submission_id = ? AND permission = ?
`, id, string(permission)); err != nil {
				return fmt.Errorf("strip submission grant: %w", err)
			}
		}

		if err := insertSubmissionStatus(ctx, tx, status); err != nil {
			return err
		}

		sub.Draft = false
		sub.UpdatedAt = at.UTC()
		finalized = sub
		return nil
	})
	if err != nil {
		return storage.Submission{}, err
	}
	return finalized, nil
}

// AppendSubmissionStatus adds one status history row.
func (s *Store) AppendSubmissionStatus(ctx context.Context, status storage.SubmissionStatus) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertSubmissionStatus(ctx, tx, status)
	})
}

// ListSubmissionStatuses returns a submission's status history, newest first.
func (s *Store) ListSubmissionStatuses(ctx context.Context, submissionID string) ([]storage.SubmissionStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return nil, fmt.Errorf("submission id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, submission_id, code, created_by, created_at
FROM form_submission_statuses
WHERE submission_id = ?
ORDER BY created_at DESC, id DESC
`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list submission statuses: %w", err)
	}
	defer rows.Close()

	var statuses []storage.SubmissionStatus
	for rows.Next() {
		var status storage.SubmissionStatus
		var createdAt int64
		if err := rows.Scan(&status.ID, &status.SubmissionID, &status.Code, &status.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan submission status: %w", err)
		}
		status.CreatedAt = fromMillis(createdAt)
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission statuses: %w", err)
	}
	return statuses, nil
}

// ListSubmissionGrants returns a submission's per-user access rows.
func (s *Store) ListSubmissionGrants(ctx context.Context, submissionID string) ([]storage.SubmissionGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return nil, fmt.Errorf("submission id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT submission_id, user_id, permission, created_at
FROM form_submission_users
WHERE submission_id = ?
ORDER BY user_id, permission
`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list submission grants: %w", err)
	}
	defer rows.Close()

	var grants []storage.SubmissionGrant
	for rows.Next() {
		var grant storage.SubmissionGrant
		var permission string
		var createdAt int64
		if err := rows.Scan(&grant.SubmissionID, &grant.UserID, &permission, &createdAt); err != nil {
			return nil, fmt.Errorf("scan submission grant: %w", err)
		}
		grant.Permission = domain.Permission(permission)
		grant.CreatedAt = fromMillis(createdAt)
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission grants: %w", err)
	}
	return grants, nil
}

type submissionScanner func(dest ...any) error

func scanSubmission(scan submissionScanner) (storage.Submission, error) {
	var sub storage.Submission
	var draft int
	var createdAt, updatedAt int64
	if err := scan(
		&sub.ID,
		&sub.FormVersionID,
		&sub.ConfirmationID,
		&draft,
		&sub.DataJSON,
		&sub.CreatedBy,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.Submission{}, err
	}
	sub.Draft = draft != 0
	sub.CreatedAt = fromMillis(createdAt)
	sub.UpdatedAt = fromMillis(updatedAt)
	return sub, nil
}
