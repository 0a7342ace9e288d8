package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/formworks/formworks/internal/forms/domain"
	"github.com/formworks/formworks/internal/forms/storage"
	apperrors "github.com/formworks/formworks/internal/platform/errors"
)

// FormInput carries the caller-supplied form definition fields. The reminder
// flag is absent on purpose: reminder eligibility is derived from the
// schedule, never trusted from input.
type FormInput struct {
	Name                       string
	Description                string
	Schedule                   domain.Schedule
	ReminderEnabled            bool
	EnableSubmitterDraft       bool
	AllowSubmitterToUploadFile bool
	IdentityProviders          []string
	SchemaJSON                 string
}

// CreateForm validates the definition and inserts the form, its initial
// version draft, the creator's full role-grant set, and the default
// status-code set in one transaction.
func (e *Engine) CreateForm(ctx context.Context, actor domain.Actor, input FormInput) (storage.Form, error) {
	now := e.now()

	form := storage.Form{
		ID:        e.newID(),
		Active:    true,
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.applyFormInput(ctx, &form, input, now); err != nil {
		return storage.Form{}, err
	}

	roles := make([]storage.FormRoleGrant, 0, len(domain.AllFormRoles()))
	for _, role := range domain.AllFormRoles() {
		roles = append(roles, storage.FormRoleGrant{
			FormID:    form.ID,
			UserID:    actor.ID,
			Role:      role,
			CreatedAt: now,
		})
	}

	draft := &storage.FormDraft{
		ID:         e.newID(),
		FormID:     form.ID,
		SchemaJSON: input.SchemaJSON,
		CreatedBy:  actor.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.store.CreateForm(ctx, form, draft, roles, domain.DefaultStatusCodes()); err != nil {
		return storage.Form{}, fmt.Errorf("create form: %w", err)
	}

	e.logger.Info("form created",
		zap.String("form_id", form.ID),
		zap.String("created_by", actor.ID),
	)
	return form, nil
}

// UpdateForm revalidates the definition and rewrites the form. Reminder
// eligibility is recomputed against the updated schedule with the same rules
// the create path uses.
func (e *Engine) UpdateForm(ctx context.Context, actor domain.Actor, formID string, input FormInput) (storage.Form, error) {
	form, err := e.GetForm(ctx, formID)
	if err != nil {
		return storage.Form{}, err
	}

	now := e.now()
	if err := e.applyFormInput(ctx, &form, input, now); err != nil {
		return storage.Form{}, err
	}

	if err := e.store.UpdateForm(ctx, form); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Form{}, domain.ErrFormNotFound
		}
		return storage.Form{}, fmt.Errorf("update form: %w", err)
	}

	e.logger.Info("form updated",
		zap.String("form_id", form.ID),
		zap.String("updated_by", actor.ID),
	)
	return form, nil
}

// applyFormInput validates input and folds it into form. Create and update
// run the exact same checks.
func (e *Engine) applyFormInput(ctx context.Context, form *storage.Form, input FormInput, now time.Time) error {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return domain.ErrFormNameEmpty
	}

	if validation := domain.ValidateSchedule(input.Schedule); validation.Status != domain.ScheduleStatusSuccess {
		return apperrors.WithMetadata(apperrors.CodeFormScheduleInvalid, validation.Message, map[string]string{
			"form_id": form.ID,
		})
	}

	if err := e.checkIdentityProviders(ctx, input.IdentityProviders); err != nil {
		return err
	}

	form.Name = name
	form.Description = input.Description
	form.Schedule = input.Schedule
	form.ReminderEnabled = input.ReminderEnabled && domain.ReminderEligible(input.Schedule, now)
	form.EnableSubmitterDraft = input.EnableSubmitterDraft
	form.AllowSubmitterToUploadFile = input.AllowSubmitterToUploadFile
	form.IdentityProviders = input.IdentityProviders
	form.UpdatedAt = now
	return nil
}

func (e *Engine) checkIdentityProviders(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		return nil
	}

	registered, err := e.store.ListIdentityProviders(ctx)
	if err != nil {
		return fmt.Errorf("list identity providers: %w", err)
	}
	active := make(map[string]bool, len(registered))
	for _, idp := range registered {
		if idp.Active {
			active[idp.Code] = true
		}
	}
	for _, code := range codes {
		if !active[code] {
			return apperrors.WithMetadata(apperrors.CodeFormIdentityProviderUnknown,
				"identity provider is inactive or unknown",
				map[string]string{"code": code},
			)
		}
	}
	return nil
}

// GetForm returns one form by id.
func (e *Engine) GetForm(ctx context.Context, formID string) (storage.Form, error) {
	form, err := e.store.GetForm(ctx, formID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Form{}, domain.ErrFormNotFound
		}
		return storage.Form{}, fmt.Errorf("get form: %w", err)
	}
	return form, nil
}

// ListForms returns forms matching the given query options.
func (e *Engine) ListForms(ctx context.Context, opts ...storage.ListOption) ([]storage.Form, error) {
	forms, err := e.store.ListForms(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	return forms, nil
}

// DeleteForm soft-deletes a form. Its rows survive; list calls with the
// active-only filter stop returning it.
func (e *Engine) DeleteForm(ctx context.Context, actor domain.Actor, formID string) error {
	return e.setFormActive(ctx, actor, formID, false)
}

// RestoreForm reverses a soft delete.
func (e *Engine) RestoreForm(ctx context.Context, actor domain.Actor, formID string) error {
	return e.setFormActive(ctx, actor, formID, true)
}

func (e *Engine) setFormActive(ctx context.Context, actor domain.Actor, formID string, active bool) error {
	if err := e.store.SetFormActive(ctx, formID, active, e.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.ErrFormNotFound
		}
		return fmt.Errorf("set form active: %w", err)
	}
	e.logger.Info("form active flag changed",
		zap.String("form_id", formID),
		zap.Bool("active", active),
		zap.String("changed_by", actor.ID),
	)
	return nil
}
