package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/formworks/formworks/internal/forms/domain"
	"github.com/formworks/formworks/internal/forms/storage"
	"github.com/formworks/formworks/internal/forms/storage/sqlite"
	apperrors "github.com/formworks/formworks/internal/platform/errors"
)

var testNow = time.Date(2026, time.July, 14, 10, 0, 0, 0, time.UTC)

// fakeFileStore records link calls and rejects ids outside its known set.
type fakeFileStore struct {
	known  map[string]bool
	linked map[string]string
}

func (f *fakeFileStore) LinkSubmission(_ context.Context, fileID, submissionID string) error {
	if !f.known[fileID] {
		return storage.ErrNotFound
	}
	if f.linked == nil {
		f.linked = map[string]string{}
	}
	f.linked[fileID] = submissionID
	return nil
}

func (f *fakeFileStore) UnlinkSubmission(_ context.Context, fileID string) error {
	if !f.known[fileID] {
		return storage.ErrNotFound
	}
	delete(f.linked, fileID)
	return nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "forms.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}
	})

	seq := 0
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("%08d-0000-4000-8000-000000000000", seq)
		}),
	}
	return NewEngine(store, append(base, opts...)...), store
}

func createTestForm(t *testing.T, engine *Engine, actor domain.Actor, mutate func(*FormInput)) storage.Form {
	t.Helper()

	input := FormInput{
		Name:              "Field Survey",
		IdentityProviders: []string{"idir"},
		SchemaJSON:        `{"components":[]}`,
	}
	if mutate != nil {
		mutate(&input)
	}
	form, err := engine.CreateForm(context.Background(), actor, input)
	if err != nil {
		t.Fatalf("CreateForm returned error: %v", err)
	}
	return form
}

func liveDraftID(t *testing.T, engine *Engine, store *sqlite.Store, formID string) string {
	t.Helper()

	// The creating transaction opened the initial draft with the id minted
	// right after the form id.
	drafts, err := store.DB().QueryContext(context.Background(), `SELECT id FROM form_drafts WHERE form_id = ?`, formID)
	if err != nil {
		t.Fatalf("query drafts returned error: %v", err)
	}
	defer drafts.Close()
	var id string
	if !drafts.Next() {
		t.Fatalf("no live draft for form %s", formID)
	}
	if err := drafts.Scan(&id); err != nil {
		t.Fatalf("scan draft id returned error: %v", err)
	}
	return id
}

func TestCreateFormValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}

	_, err := engine.CreateForm(context.Background(), actor, FormInput{Name: "   "})
	if !errors.Is(err, domain.ErrFormNameEmpty) {
		t.Fatalf("empty name error = %v, want ErrFormNameEmpty", err)
	}

	badSchedule := FormInput{
		Name: "Survey",
		Schedule: domain.Schedule{
			Enabled:      true,
			ScheduleType: domain.ScheduleTypeClosingDate,
		},
	}
	_, err = engine.CreateForm(context.Background(), actor, badSchedule)
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeFormScheduleInvalid {
		t.Fatalf("invalid schedule error = %v, want CodeFormScheduleInvalid", err)
	}
	if appErr.Code.Category() != apperrors.CategoryValidation {
		t.Fatalf("schedule error category = %v, want VALIDATION", appErr.Code.Category())
	}

	_, err = engine.CreateForm(context.Background(), actor, FormInput{
		Name:              "Survey",
		IdentityProviders: []string{"github"},
	})
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeFormIdentityProviderUnknown {
		t.Fatalf("unknown idp error = %v, want CodeFormIdentityProviderUnknown", err)
	}
	if appErr.Code.Category() != apperrors.CategoryReference {
		t.Fatalf("idp error category = %v, want REFERENCE", appErr.Code.Category())
	}
}

func TestCreateFormGrantsAndDefaults(t *testing.T) {
	engine, store := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)

	roles, err := store.ListFormRoles(context.Background(), form.ID, actor.ID)
	if err != nil {
		t.Fatalf("ListFormRoles returned error: %v", err)
	}
	if len(roles) != len(domain.AllFormRoles()) {
		t.Fatalf("creator roles = %d, want the full set of %d", len(roles), len(domain.AllFormRoles()))
	}

	codes, err := store.ListFormStatusCodes(context.Background(), form.ID)
	if err != nil {
		t.Fatalf("ListFormStatusCodes returned error: %v", err)
	}
	if len(codes) != 3 {
		t.Fatalf("status codes = %v, want the default three", codes)
	}

	if liveDraftID(t, engine, store, form.ID) == "" {
		t.Fatal("expected an initial version draft")
	}
}

func TestReminderCollapsesWhenScheduleIneligible(t *testing.T) {
	engine, _ := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}

	// Manual-close schedules never carry reminders, whatever the caller sent.
	form := createTestForm(t, engine, actor, func(input *FormInput) {
		input.ReminderEnabled = true
		input.Schedule = domain.Schedule{
			Enabled:      true,
			ScheduleType: domain.ScheduleTypeManual,
		}
	})
	if form.ReminderEnabled {
		t.Fatal("expected reminder flag to collapse to false")
	}

	// A future-dated closing schedule keeps it.
	open := testNow.Add(24 * time.Hour).Format(time.RFC3339)
	closeAt := testNow.Add(48 * time.Hour).Format(time.RFC3339)
	form = createTestForm(t, engine, actor, func(input *FormInput) {
		input.ReminderEnabled = true
		input.Schedule = domain.Schedule{
			Enabled:                 true,
			ScheduleType:            domain.ScheduleTypeClosingDate,
			OpenSubmissionDateTime:  open,
			CloseSubmissionDateTime: closeAt,
		}
	})
	if !form.ReminderEnabled {
		t.Fatal("expected reminder flag to survive an eligible schedule")
	}

	// An update that backdates the open date collapses it again.
	updated, err := engine.UpdateForm(context.Background(), actor, form.ID, FormInput{
		Name:            form.Name,
		ReminderEnabled: true,
		Schedule: domain.Schedule{
			Enabled:                 true,
			ScheduleType:            domain.ScheduleTypeClosingDate,
			OpenSubmissionDateTime:  testNow.Add(-48 * time.Hour).Format(time.RFC3339),
			CloseSubmissionDateTime: closeAt,
		},
	})
	if err != nil {
		t.Fatalf("UpdateForm returned error: %v", err)
	}
	if updated.ReminderEnabled {
		t.Fatal("expected reminder flag to collapse after update")
	}
}

func TestSoftDeleteAndRestore(t *testing.T) {
	engine, _ := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)

	if err := engine.DeleteForm(context.Background(), actor, form.ID); err != nil {
		t.Fatalf("DeleteForm returned error: %v", err)
	}
	active, err := engine.ListForms(context.Background(), storage.WithActiveOnly())
	if err != nil {
		t.Fatalf("ListForms returned error: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active forms = %d, want 0 after soft delete", len(active))
	}

	if err := engine.RestoreForm(context.Background(), actor, form.ID); err != nil {
		t.Fatalf("RestoreForm returned error: %v", err)
	}
	restored, err := engine.GetForm(context.Background(), form.ID)
	if err != nil {
		t.Fatalf("GetForm returned error: %v", err)
	}
	if !restored.Active {
		t.Fatal("expected restored form to be active")
	}

	if err := engine.DeleteForm(context.Background(), actor, "absent"); !errors.Is(err, domain.ErrFormNotFound) {
		t.Fatalf("DeleteForm error = %v, want ErrFormNotFound", err)
	}
}

func TestPublishDraftConsumesDraft(t *testing.T) {
	engine, store := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)
	draftID := liveDraftID(t, engine, store, form.ID)

	version, err := engine.PublishDraft(context.Background(), actor, draftID)
	if err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}
	if version.Version != 1 || !version.Published {
		t.Fatalf("version = %+v, want published v1", version)
	}

	if _, err := engine.PublishDraft(context.Background(), actor, draftID); !errors.Is(err, domain.ErrDraftNotFound) {
		t.Fatalf("second PublishDraft error = %v, want ErrDraftNotFound", err)
	}
}

func TestPublishVersionConflict(t *testing.T) {
	engine, store := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)

	first, err := engine.PublishDraft(context.Background(), actor, liveDraftID(t, engine, store, form.ID))
	if err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}
	draft, err := engine.CreateDraft(context.Background(), actor, form.ID, first.ID, "")
	if err != nil {
		t.Fatalf("CreateDraft returned error: %v", err)
	}
	if draft.SchemaJSON != first.SchemaJSON {
		t.Fatalf("draft schema = %q, want seeded from version", draft.SchemaJSON)
	}
	if _, err := engine.PublishDraft(context.Background(), actor, draft.ID); err != nil {
		t.Fatalf("second PublishDraft returned error: %v", err)
	}

	// The superseded first version cannot be republished over the winner.
	if _, err := engine.PublishVersion(context.Background(), actor, form.ID, first.ID, true); !errors.Is(err, domain.ErrPublishConflict) {
		t.Fatalf("PublishVersion error = %v, want ErrPublishConflict", err)
	}
}

func TestPublishEventStagedOnlyWithSubscription(t *testing.T) {
	engine, store := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)

	// No subscription row: nothing staged.
	if _, err := engine.PublishDraft(context.Background(), actor, liveDraftID(t, engine, store, form.ID)); err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}
	staged, err := store.LeaseOutboxEvents(context.Background(), "test", 10, testNow.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutboxEvents returned error: %v", err)
	}
	if len(staged) != 0 {
		t.Fatalf("staged events = %d, want 0 without a subscription", len(staged))
	}

	// Opted-in form: publish transitions stage an event.
	if _, err := engine.PutSubscription(context.Background(), storage.Subscription{
		FormID:        form.ID,
		OnPublish:     true,
		PublicStream:  true,
		PrivateStream: true,
	}); err != nil {
		t.Fatalf("PutSubscription returned error: %v", err)
	}
	version, err := engine.ListVersions(context.Background(), form.ID)
	if err != nil {
		t.Fatalf("ListVersions returned error: %v", err)
	}
	if _, err := engine.PublishVersion(context.Background(), actor, form.ID, version[0].ID, false); err != nil {
		t.Fatalf("PublishVersion returned error: %v", err)
	}

	staged, err = store.LeaseOutboxEvents(context.Background(), "test", 10, testNow.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutboxEvents returned error: %v", err)
	}
	if len(staged) != 1 {
		t.Fatalf("staged events = %d, want 1", len(staged))
	}
	if staged[0].EventType != domain.EventFormUnpublished {
		t.Fatalf("event type = %q, want form.unpublished", staged[0].EventType)
	}
	if !strings.Contains(staged[0].MetaJSON, form.ID) {
		t.Fatalf("meta %q does not reference the form", staged[0].MetaJSON)
	}
}

func TestCreateSubmissionDirect(t *testing.T) {
	engine, store := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)
	version, err := engine.PublishDraft(context.Background(), actor, liveDraftID(t, engine, store, form.ID))
	if err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}

	sub, err := engine.CreateSubmission(context.Background(), actor, version.ID, map[string]any{"name": "Ada"}, false)
	if err != nil {
		t.Fatalf("CreateSubmission returned error: %v", err)
	}
	wantConfirmation := strings.ToUpper(strings.ReplaceAll(sub.ID, "-", "")[:8])
	if sub.ConfirmationID != wantConfirmation {
		t.Fatalf("confirmation id = %q, want %q", sub.ConfirmationID, wantConfirmation)
	}
	if sub.Draft {
		t.Fatal("expected direct submission to not be a draft")
	}

	grants, err := store.ListSubmissionGrants(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("ListSubmissionGrants returned error: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("grants = %d, want create+read only for a direct submission", len(grants))
	}

	statuses, err := engine.ListSubmissionStatuses(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("ListSubmissionStatuses returned error: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Code != domain.StatusSubmitted {
		t.Fatalf("statuses = %+v, want one SUBMITTED row", statuses)
	}
}

func TestCreateSubmissionAnonymousGetsNoGrants(t *testing.T) {
	engine, store := newTestEngine(t)
	owner := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, owner, nil)
	version, err := engine.PublishDraft(context.Background(), owner, liveDraftID(t, engine, store, form.ID))
	if err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}

	anon := domain.Actor{Public: true}
	sub, err := engine.CreateSubmission(context.Background(), anon, version.ID, map[string]any{"name": "Ada"}, false)
	if err != nil {
		t.Fatalf("CreateSubmission returned error: %v", err)
	}
	grants, err := store.ListSubmissionGrants(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("ListSubmissionGrants returned error: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("grants = %d, want none for an anonymous submission", len(grants))
	}
}

func TestCreateSubmissionNilPayload(t *testing.T) {
	engine, store := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)
	version, err := engine.PublishDraft(context.Background(), actor, liveDraftID(t, engine, store, form.ID))
	if err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}

	if _, err := engine.CreateSubmission(context.Background(), actor, version.ID, nil, false); !errors.Is(err, domain.ErrSubmissionPayloadInvalid) {
		t.Fatalf("nil payload error = %v, want ErrSubmissionPayloadInvalid", err)
	}
}

func TestCreateSubmissionUnknownFileLeavesZeroRows(t *testing.T) {
	files := &fakeFileStore{known: map[string]bool{"file-1": true}}
	engine, store := newTestEngine(t, WithFileStore(files))
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)
	version, err := engine.PublishDraft(context.Background(), actor, liveDraftID(t, engine, store, form.ID))
	if err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}

	data := map[string]any{
		"upload": []any{map[string]any{"data": map[string]any{"id": "file-missing"}}},
	}
	_, err = engine.CreateSubmission(context.Background(), actor, version.ID, data, false)
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeSubmissionFileUnknown {
		t.Fatalf("unknown file error = %v, want CodeSubmissionFileUnknown", err)
	}

	var count int
	if err := store.DB().QueryRowContext(context.Background(), `SELECT COUNT(*) FROM form_submissions`).Scan(&count); err != nil {
		t.Fatalf("count submissions returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("submissions = %d, want 0 after a rejected file reference", count)
	}

	// A known file links and the submission lands.
	data = map[string]any{
		"upload": []any{map[string]any{"data": map[string]any{"id": "file-1"}}},
	}
	sub, err := engine.CreateSubmission(context.Background(), actor, version.ID, data, false)
	if err != nil {
		t.Fatalf("CreateSubmission returned error: %v", err)
	}
	if files.linked["file-1"] != sub.ID {
		t.Fatalf("file linked to %q, want %q", files.linked["file-1"], sub.ID)
	}
}

func TestCreateSubmissionInsertFailureUnlinksFiles(t *testing.T) {
	files := &fakeFileStore{known: map[string]bool{"file-1": true}}
	// A fixed id generator makes the second insert collide on the primary
	// key after the file is already linked.
	engine, store := newTestEngine(t, WithFileStore(files), WithIDGenerator(func() string { return "fixed-id" }))
	actor := domain.Actor{ID: "user-1"}
	createTestForm(t, engine, actor, nil)
	version, err := engine.PublishDraft(context.Background(), actor, "fixed-id")
	if err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}

	data := map[string]any{
		"upload": []any{map[string]any{"data": map[string]any{"id": "file-1"}}},
	}
	if _, err := engine.CreateSubmission(context.Background(), actor, version.ID, data, true); err != nil {
		t.Fatalf("CreateSubmission returned error: %v", err)
	}
	if files.linked["file-1"] != "fixed-id" {
		t.Fatalf("file linked to %q, want fixed-id", files.linked["file-1"])
	}

	if _, err := engine.CreateSubmission(context.Background(), actor, version.ID, data, true); err == nil {
		t.Fatal("expected colliding insert to fail")
	}
	if owner, ok := files.linked["file-1"]; ok {
		t.Fatalf("file still linked to %q after aborted insert", owner)
	}

	var count int
	if err := store.DB().QueryRowContext(context.Background(), `SELECT COUNT(*) FROM form_submissions`).Scan(&count); err != nil {
		t.Fatalf("count submissions returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("submissions = %d, want only the first insert", count)
	}
}

func TestSubmitDraftStripsGrantsAndStagesEvent(t *testing.T) {
	engine, store := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)
	version, err := engine.PublishDraft(context.Background(), actor, liveDraftID(t, engine, store, form.ID))
	if err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}
	if _, err := engine.PutSubscription(context.Background(), storage.Subscription{
		FormID:        form.ID,
		OnSubmit:      true,
		PrivateStream: true,
	}); err != nil {
		t.Fatalf("PutSubscription returned error: %v", err)
	}

	sub, err := engine.CreateSubmission(context.Background(), actor, version.ID, map[string]any{"name": "Ada"}, true)
	if err != nil {
		t.Fatalf("CreateSubmission returned error: %v", err)
	}
	grants, err := store.ListSubmissionGrants(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("ListSubmissionGrants returned error: %v", err)
	}
	if len(grants) != 4 {
		t.Fatalf("draft grants = %d, want 4", len(grants))
	}

	finalized, err := engine.SubmitDraft(context.Background(), actor, sub.ID)
	if err != nil {
		t.Fatalf("SubmitDraft returned error: %v", err)
	}
	if finalized.Draft {
		t.Fatal("expected finalized submission to leave draft state")
	}
	grants, err = store.ListSubmissionGrants(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("ListSubmissionGrants returned error: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("grants after finalize = %d, want create+read", len(grants))
	}

	if _, err := engine.SubmitDraft(context.Background(), actor, sub.ID); !errors.Is(err, domain.ErrSubmissionNotDraft) {
		t.Fatalf("second SubmitDraft error = %v, want ErrSubmissionNotDraft", err)
	}

	// Both the draft creation and the finalize announce themselves, tagged
	// with the draft flag as of their commit.
	staged, err := store.LeaseOutboxEvents(context.Background(), "test", 10, testNow.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutboxEvents returned error: %v", err)
	}
	if len(staged) != 2 {
		t.Fatalf("staged events = %d, want 2", len(staged))
	}
	var sawDraft, sawFinal bool
	for _, event := range staged {
		if event.EventType != domain.EventSubmissionCreated {
			t.Fatalf("event type = %q, want submission.created", event.EventType)
		}
		if event.PublicStream || !event.PrivateStream {
			t.Fatalf("stream flags = public=%v private=%v, want private only", event.PublicStream, event.PrivateStream)
		}
		switch {
		case strings.Contains(event.MetaJSON, `"draft":true`):
			sawDraft = true
		case strings.Contains(event.MetaJSON, `"draft":false`):
			sawFinal = true
		}
	}
	if !sawDraft || !sawFinal {
		t.Fatalf("draft tags missing: draft=%v final=%v", sawDraft, sawFinal)
	}
}

// versionLookupFailsStore fails GetVersion once armed.
type versionLookupFailsStore struct {
	storage.Store
	fail bool
}

func (s *versionLookupFailsStore) GetVersion(ctx context.Context, id string) (storage.FormVersion, error) {
	if s.fail {
		return storage.FormVersion{}, fmt.Errorf("version lookup unavailable")
	}
	return s.Store.GetVersion(ctx, id)
}

func TestSubmitDraftLogsSkippedStaging(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "forms.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}
	})

	core, logs := observer.New(zap.WarnLevel)
	wrapped := &versionLookupFailsStore{Store: store}
	seq := 0
	engine := NewEngine(wrapped,
		WithLogger(zap.New(core)),
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("%08d-0000-4000-8000-000000000000", seq)
		}),
	)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)
	version, err := engine.PublishDraft(context.Background(), actor, liveDraftID(t, engine, store, form.ID))
	if err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}
	if _, err := engine.PutSubscription(context.Background(), storage.Subscription{
		FormID:        form.ID,
		OnSubmit:      true,
		PrivateStream: true,
	}); err != nil {
		t.Fatalf("PutSubscription returned error: %v", err)
	}
	sub, err := engine.CreateSubmission(context.Background(), actor, version.ID, map[string]any{"name": "Ada"}, true)
	if err != nil {
		t.Fatalf("CreateSubmission returned error: %v", err)
	}

	// The finalize must land even when the version lookup for event staging
	// fails, and the skip must leave a trace in the log.
	wrapped.fail = true
	finalized, err := engine.SubmitDraft(context.Background(), actor, sub.ID)
	if err != nil {
		t.Fatalf("SubmitDraft returned error: %v", err)
	}
	if finalized.Draft {
		t.Fatal("expected finalized submission to leave draft state")
	}
	if logs.FilterMessage("event staging skipped: version lookup failed").Len() != 1 {
		t.Fatalf("staging skip not logged; entries: %+v", logs.All())
	}

	staged, err := store.LeaseOutboxEvents(context.Background(), "test", 10, testNow.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutboxEvents returned error: %v", err)
	}
	if len(staged) != 1 {
		t.Fatalf("staged events = %d, want only the draft creation", len(staged))
	}
}

func TestCreateMultiSubmissionPreconditions(t *testing.T) {
	engine, store := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)
	version, err := engine.PublishDraft(context.Background(), actor, liveDraftID(t, engine, store, form.ID))
	if err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}
	records := []map[string]any{{"name": "Ada"}}

	if _, err := engine.CreateMultiSubmission(context.Background(), domain.Actor{Public: true}, version.ID, records); !errors.Is(err, domain.ErrBulkAnonymous) {
		t.Fatalf("anonymous bulk error = %v, want ErrBulkAnonymous", err)
	}
	if _, err := engine.CreateMultiSubmission(context.Background(), actor, version.ID, records); !errors.Is(err, domain.ErrBulkDisabled) {
		t.Fatalf("bulk on incapable form error = %v, want ErrBulkDisabled", err)
	}
}

func TestCreateMultiSubmissionSanitizesRecords(t *testing.T) {
	engine, store := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, func(input *FormInput) {
		input.EnableSubmitterDraft = true
		input.AllowSubmitterToUploadFile = true
	})
	version, err := engine.PublishDraft(context.Background(), actor, liveDraftID(t, engine, store, form.ID))
	if err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}

	// A round-tripped export row still carries the server-generated
	// display columns; none of them may land in the stored data.
	records := []map[string]any{
		{
			"name":           "Ada",
			"submit":         true,
			"createdBy":      "spoofed",
			"confirmationId": "DEADBEEF",
			"formName":       "Field Survey",
			"version":        3,
			"status":         "COMPLETED",
			"assignee":       "reviewer-1",
			"assigneeEmail":  "reviewer@example.com",
			"fullName":       "Ada Lovelace",
		},
		{"name": "Grace", "lateEntry": true, "updatedAt": "2026-01-01"},
	}
	subs, err := engine.CreateMultiSubmission(context.Background(), actor, version.ID, records)
	if err != nil {
		t.Fatalf("CreateMultiSubmission returned error: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("created = %d, want 2", len(subs))
	}
	for _, sub := range subs {
		if !sub.Draft {
			t.Fatalf("bulk submission %s is not a draft", sub.ID)
		}
		for _, key := range bulkReservedKeys {
			if strings.Contains(sub.DataJSON, `"`+key+`"`) {
				t.Fatalf("reserved key %q survived sanitization: %s", key, sub.DataJSON)
			}
		}
		if !strings.Contains(sub.DataJSON, `"name"`) {
			t.Fatalf("submitter field dropped by sanitization: %s", sub.DataJSON)
		}
	}
}

func TestAddSubmissionStatus(t *testing.T) {
	engine, store := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)
	version, err := engine.PublishDraft(context.Background(), actor, liveDraftID(t, engine, store, form.ID))
	if err != nil {
		t.Fatalf("PublishDraft returned error: %v", err)
	}
	sub, err := engine.CreateSubmission(context.Background(), actor, version.ID, map[string]any{"name": "Ada"}, false)
	if err != nil {
		t.Fatalf("CreateSubmission returned error: %v", err)
	}

	_, err = engine.AddSubmissionStatus(context.Background(), actor, sub.ID, "REJECTED")
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeSubmissionStatusUnknown {
		t.Fatalf("unknown code error = %v, want CodeSubmissionStatusUnknown", err)
	}

	status, err := engine.AddSubmissionStatus(context.Background(), actor, sub.ID, domain.StatusAssigned)
	if err != nil {
		t.Fatalf("AddSubmissionStatus returned error: %v", err)
	}
	if status.Code != domain.StatusAssigned {
		t.Fatalf("status code = %q, want ASSIGNED", status.Code)
	}

	statuses, err := engine.ListSubmissionStatuses(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("ListSubmissionStatuses returned error: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	engine, _ := newTestEngine(t)
	actor := domain.Actor{ID: "user-1"}
	form := createTestForm(t, engine, actor, nil)

	first, err := engine.CreateOrRotateAPIKey(context.Background(), form.ID)
	if err != nil {
		t.Fatalf("CreateOrRotateAPIKey returned error: %v", err)
	}
	rotated, err := engine.CreateOrRotateAPIKey(context.Background(), form.ID)
	if err != nil {
		t.Fatalf("rotate returned error: %v", err)
	}
	if rotated.Secret == first.Secret {
		t.Fatal("expected rotation to mint a new secret")
	}
	if !rotated.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("rotation changed created at: %v != %v", rotated.CreatedAt, first.CreatedAt)
	}

	if err := engine.SetAPIKeyFilesAccess(context.Background(), form.ID, true); err != nil {
		t.Fatalf("SetAPIKeyFilesAccess returned error: %v", err)
	}
	key, err := engine.GetAPIKey(context.Background(), form.ID)
	if err != nil {
		t.Fatalf("GetAPIKey returned error: %v", err)
	}
	if !key.FilesAPIAccess {
		t.Fatal("expected files access to be enabled")
	}

	if err := engine.DeleteAPIKey(context.Background(), form.ID); err != nil {
		t.Fatalf("DeleteAPIKey returned error: %v", err)
	}
	if _, err := engine.GetAPIKey(context.Background(), form.ID); !errors.Is(err, domain.ErrAPIKeyNotFound) {
		t.Fatalf("GetAPIKey error = %v, want ErrAPIKeyNotFound", err)
	}
}
