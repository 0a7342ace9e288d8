package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/formworks/formworks/internal/forms/domain"
	"github.com/formworks/formworks/internal/forms/storage"
)

const formColumns = `
	id,
	name,
	description,
	active,
	schedule_json,
	reminder_enabled,
	enable_submitter_draft,
	allow_submitter_upload,
	created_by,
	created_at,
	updated_at
`

// CreateForm inserts the form, its initial draft, the creator's role grants,
// and the default status-code set in one transaction.
func (s *Store) CreateForm(ctx context.Context, form storage.Form, draft *storage.FormDraft, roles []storage.FormRoleGrant, statusCodes []string) error {
	form.ID = strings.TrimSpace(form.ID)
	form.Name = strings.TrimSpace(form.Name)
	if form.ID == "" {
		return fmt.Errorf("form id is required")
	}
	if form.Name == "" {
		return fmt.Errorf("form name is required")
	}

	scheduleJSON, err := json.Marshal(form.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO forms (`+formColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			form.ID,
			form.Name,
			form.Description,
			boolToInt(form.Active),
			string(scheduleJSON),
			boolToInt(form.ReminderEnabled),
			boolToInt(form.EnableSubmitterDraft),
			boolToInt(form.AllowSubmitterToUploadFile),
			form.CreatedBy,
			toMillis(form.CreatedAt),
			toMillis(form.UpdatedAt),
		); err != nil {
			return fmt.Errorf("insert form: %w", err)
		}

		if err := replaceFormIdentityProviders(ctx, tx, form.ID, form.IdentityProviders); err != nil {
			return err
		}

		for _, role := range roles {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO form_role_grants (form_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
`, role.FormID, role.UserID, string(role.Role), toMillis(role.CreatedAt)); err != nil {
				return fmt.Errorf("insert form role grant: %w", err)
			}
		}

		for _, code := range statusCodes {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO form_status_codes (form_id, code) VALUES (?, ?)
`, form.ID, code); err != nil {
				return fmt.Errorf("insert form status code: %w", err)
			}
		}

		if draft != nil {
			if err := insertDraft(ctx, tx, *draft); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetForm returns one form with its identity-provider list.
func (s *Store) GetForm(ctx context.Context, id string) (storage.Form, error) {
	if err := ctx.Err(); err != nil {
		return storage.Form{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Form{}, fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Form{}, fmt.Errorf("form id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+formColumns+` FROM forms WHERE id = ?`, id)
	form, err := scanForm(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Form{}, storage.ErrNotFound
		}
		return storage.Form{}, fmt.Errorf("get form: %w", err)
	}

	providers, err := s.formIdentityProviders(ctx, id)
	if err != nil {
		return storage.Form{}, err
	}
	form.IdentityProviders = providers
	return form, nil
}

// UpdateForm rewrites the mutable form fields and identity-provider links.
func (s *Store) UpdateForm(ctx context.Context, form storage.Form) error {
	form.ID = strings.TrimSpace(form.ID)
	if form.ID == "" {
		return fmt.Errorf("form id is required")
	}
	if strings.TrimSpace(form.Name) == "" {
		return fmt.Errorf("form name is required")
	}

	scheduleJSON, err := json.Marshal(form.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
UPDATE forms
SET
	name = ?,
	description = ?,
	schedule_json = ?,
	reminder_enabled = ?,
	enable_submitter_draft = ?,
	allow_submitter_upload = ?,
	updated_at = ?
WHERE id = ?
`,
			form.Name,
			form.Description,
			string(scheduleJSON),
			boolToInt(form.ReminderEnabled),
			boolToInt(form.EnableSubmitterDraft),
			boolToInt(form.AllowSubmitterToUploadFile),
			toMillis(form.UpdatedAt),
			form.ID,
		)
		if err != nil {
			return fmt.Errorf("update form: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update form rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return storage.ErrNotFound
		}
		return replaceFormIdentityProviders(ctx, tx, form.ID, form.IdentityProviders)
	})
}

// SetFormActive soft-deletes or restores a form.
func (s *Store) SetFormActive(ctx context.Context, id string, active bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("form id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE forms SET active = ?, updated_at = ? WHERE id = ?
`, boolToInt(active), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("set form active: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set form active rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListForms returns forms matching the composed query options.
func (s *Store) ListForms(ctx context.Context, opts ...storage.ListOption) ([]storage.Form, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	q := storage.BuildListQuery(opts...)

	query := `SELECT ` + formColumns + ` FROM forms`
	var clauses []string
	var args []any
	if q.ActiveOnly {
		clauses = append(clauses, "active = 1")
	}
	if q.CreatedBy != "" {
		clauses = append(clauses, "created_by = ?")
		args = append(args, q.CreatedBy)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	var forms []storage.Form
	for rows.Next() {
		form, scanErr := scanForm(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan form: %w", scanErr)
		}
		forms = append(forms, form)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forms: %w", err)
	}

	for i := range forms {
		providers, provErr := s.formIdentityProviders(ctx, forms[i].ID)
		if provErr != nil {
			return nil, provErr
		}
		forms[i].IdentityProviders = providers
	}
	return forms, nil
}

// ListIdentityProviders returns every registered login provider.
func (s *Store) ListIdentityProviders(ctx context.Context) ([]storage.IdentityProvider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT code, display_name, active FROM identity_providers ORDER BY code ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list identity providers: %w", err)
	}
	defer rows.Close()

	var providers []storage.IdentityProvider
	for rows.Next() {
		var provider storage.IdentityProvider
		var active int
		if err := rows.Scan(&provider.Code, &provider.DisplayName, &active); err != nil {
			return nil, fmt.Errorf("scan identity provider: %w", err)
		}
		provider.Active = active != 0
		providers = append(providers, provider)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity providers: %w", err)
	}
	return providers, nil
}

// ListFormRoles returns the role kinds granted to one user on one form.
func (s *Store) ListFormRoles(ctx context.Context, formID, userID string) ([]domain.FormRole, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT role FROM form_role_grants WHERE form_id = ? AND user_id = ? ORDER BY role ASC
`, formID, userID)
	if err != nil {
		return nil, fmt.Errorf("list form roles: %w", err)
	}
	defer rows.Close()

	var roles []domain.FormRole
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan form role: %w", err)
		}
		roles = append(roles, domain.FormRole(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate form roles: %w", err)
	}
	return roles, nil
}

// ListFormStatusCodes returns the status-code set assigned to one form.
func (s *Store) ListFormStatusCodes(ctx context.Context, formID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT code FROM form_status_codes WHERE form_id = ? ORDER BY code ASC
`, formID)
	if err != nil {
		return nil, fmt.Errorf("list form status codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan form status code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate form status codes: %w", err)
	}
	return codes, nil
}

type formScanner func(dest ...any) error

func scanForm(scan formScanner) (storage.Form, error) {
	var form storage.Form
	var active, reminder, submitterDraft, submitterUpload int
	var scheduleJSON string
	var createdAt, updatedAt int64
	if err := scan(
		&form.ID,
		&form.Name,
		&form.Description,
		&active,
		&scheduleJSON,
		&reminder,
		&submitterDraft,
		&submitterUpload,
		&form.CreatedBy,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.Form{}, err
	}
	form.Active = active != 0
	form.ReminderEnabled = reminder != 0
	form.EnableSubmitterDraft = submitterDraft != 0
	form.AllowSubmitterToUploadFile = submitterUpload != 0
	form.CreatedAt = fromMillis(createdAt)
	form.UpdatedAt = fromMillis(updatedAt)
	if scheduleJSON != "" {
		if err := json.Unmarshal([]byte(scheduleJSON), &form.Schedule); err != nil {
			return storage.Form{}, fmt.Errorf("unmarshal schedule: %w", err)
		}
	}
	return form, nil
}

func (s *Store) formIdentityProviders(ctx context.Context, formID string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT code FROM form_identity_providers WHERE form_id = ? ORDER BY code ASC
`, formID)
	if err != nil {
		return nil, fmt.Errorf("list form identity providers: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan form identity provider: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate form identity providers: %w", err)
	}
	return codes, nil
}

func replaceFormIdentityProviders(ctx context.Context, tx *sql.Tx, formID string, codes []string) error {
	if _, err := tx.ExecContext(ctx, `
DELETE FROM form_identity_providers WHERE form_id = ?
`, formID); err != nil {
		return fmt.Errorf("clear form identity providers: %w", err)
	}
	for _, code := range codes {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO form_identity_providers (form_id, code) VALUES (?, ?)
`, formID, code); err != nil {
			return fmt.Errorf("insert form identity provider: %w", err)
		}
	}
	return nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
