package relay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/formworks/formworks/internal/forms/domain"
	"github.com/formworks/formworks/internal/forms/storage"
	"github.com/formworks/formworks/internal/forms/storage/sqlite"
)

var testNow = time.Date(2026, time.August, 3, 9, 0, 0, 0, time.UTC)

type published struct {
	subject string
	data    string
	msgID   string
}

// fakePublisher records publishes and fails the first failN calls.
type fakePublisher struct {
	failN     int
	calls     int
	delivered []published
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, msgID string) error {
	f.calls++
	if f.calls <= f.failN {
		return errors.New("broker unavailable")
	}
	f.delivered = append(f.delivered, published{subject: subject, data: string(data), msgID: msgID})
	return nil
}

func openTempOutbox(t *testing.T) *sqlite.Store {
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
	return store
}

func stageEvent(t *testing.T, store *sqlite.Store, id string, publicStream, privateStream bool) {
	t.Helper()

	event := storage.OutboxEvent{
		ID:            id,
		EventType:     domain.EventSubmissionCreated,
		FormID:        "form-1",
		PayloadJSON:   `{"formId":"form-1","record":{"id":"sub-1"}}`,
		MetaJSON:      `{"formId":"form-1"}`,
		PublicStream:  publicStream,
		PrivateStream: privateStream,
		NextAttemptAt: testNow,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	if err := store.EnqueueOutboxEvent(context.Background(), event); err != nil {
		t.Fatalf("EnqueueOutboxEvent returned error: %v", err)
	}
}

func newTestRelay(store *sqlite.Store, publisher Publisher, config Config, at *time.Time) *Relay {
	return New(store, publisher, config, WithClock(func() time.Time { return *at }))
}

func TestDrainPublishesBothStreams(t *testing.T) {
	store := openTempOutbox(t)
	stageEvent(t, store, "evt-1", true, true)
	publisher := &fakePublisher{}
	now := testNow
	r := newTestRelay(store, publisher, Config{Consumer: "relay-1"}, &now)

	delivered, err := r.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	if len(publisher.delivered) != 2 {
		t.Fatalf("published = %d messages, want 2", len(publisher.delivered))
	}
	if publisher.delivered[0].subject != "PUBLIC.forms.submission.created" {
		t.Fatalf("first subject = %q, want PUBLIC.forms.submission.created", publisher.delivered[0].subject)
	}
	if publisher.delivered[0].data != `{"formId":"form-1"}` {
		t.Fatalf("public body = %q, want meta only", publisher.delivered[0].data)
	}
	if publisher.delivered[1].subject != "PRIVATE.forms.submission.created" {
		t.Fatalf("second subject = %q, want PRIVATE.forms.submission.created", publisher.delivered[1].subject)
	}
	if publisher.delivered[1].data != `{"formId":"form-1","record":{"id":"sub-1"}}` {
		t.Fatalf("private body = %q, want full payload", publisher.delivered[1].data)
	}
	if publisher.delivered[0].msgID == publisher.delivered[1].msgID {
		t.Fatal("expected distinct dedupe ids per stream")
	}

	event, err := store.GetOutboxEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("GetOutboxEvent returned error: %v", err)
	}
	if event.Status != storage.OutboxStatusSucceeded {
		t.Fatalf("status = %q, want succeeded", event.Status)
	}
}

func TestDrainSkipsDisabledStreams(t *testing.T) {
	store := openTempOutbox(t)
	stageEvent(t, store, "evt-1", false, true)
	publisher := &fakePublisher{}
	now := testNow
	r := newTestRelay(store, publisher, Config{Consumer: "relay-1"}, &now)

	if _, err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if len(publisher.delivered) != 1 {
		t.Fatalf("published = %d messages, want 1", len(publisher.delivered))
	}
	if publisher.delivered[0].subject != "PRIVATE.forms.submission.created" {
		t.Fatalf("subject = %q, want the private stream only", publisher.delivered[0].subject)
	}
}

func TestDrainRetriesWithBackoff(t *testing.T) {
	store := openTempOutbox(t)
	stageEvent(t, store, "evt-1", true, false)
	publisher := &fakePublisher{failN: 1}
	now := testNow
	config := Config{
		Consumer:       "relay-1",
		MaxAttempts:    5,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  time.Minute,
	}
	r := newTestRelay(store, publisher, config, &now)

	delivered, err := r.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("delivered = %d, want 0 on a failed attempt", delivered)
	}

	event, err := store.GetOutboxEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("GetOutboxEvent returned error: %v", err)
	}
	if event.Status != storage.OutboxStatusPending {
		t.Fatalf("status = %q, want pending for retry", event.Status)
	}
	if !event.NextAttemptAt.Equal(testNow.Add(time.Second)) {
		t.Fatalf("next attempt = %v, want base delay after first failure", event.NextAttemptAt)
	}

	// The retry is not due yet; a drain at the same instant leases nothing.
	if delivered, err := r.Drain(context.Background()); err != nil || delivered != 0 {
		t.Fatalf("early drain = (%d, %v), want (0, nil)", delivered, err)
	}

	// Once due, the retry succeeds and the event resolves.
	now = testNow.Add(2 * time.Second)
	delivered, err = r.Drain(context.Background())
	if err != nil {
		t.Fatalf("retry Drain returned error: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1 after retry", delivered)
	}
}

func TestDrainDeadLettersAfterMaxAttempts(t *testing.T) {
	store := openTempOutbox(t)
	stageEvent(t, store, "evt-1", true, false)
	publisher := &fakePublisher{failN: 100}
	now := testNow
	config := Config{
		Consumer:       "relay-1",
		MaxAttempts:    3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  time.Minute,
	}
	r := newTestRelay(store, publisher, config, &now)

	for attempt := 0; attempt < 3; attempt++ {
		if _, err := r.Drain(context.Background()); err != nil {
			t.Fatalf("Drain %d returned error: %v", attempt, err)
		}
		now = now.Add(time.Hour)
	}

	event, err := store.GetOutboxEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("GetOutboxEvent returned error: %v", err)
	}
	if event.Status != storage.OutboxStatusDead {
		t.Fatalf("status = %q, want dead after %d attempts", event.Status, config.MaxAttempts)
	}
	if event.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}

	// Dead rows never come back.
	if delivered, err := r.Drain(context.Background()); err != nil || delivered != 0 {
		t.Fatalf("post-dead drain = (%d, %v), want (0, nil)", delivered, err)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	r := New(nil, nil, Config{RetryBaseDelay: time.Second, RetryMaxDelay: 8 * time.Second})

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 8 * time.Second},
	}
	for _, tc := range cases {
		if got := r.backoff(tc.attempts); got != tc.want {
			t.Fatalf("backoff(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := openTempOutbox(t)
	for i := 0; i < 3; i++ {
		stageEvent(t, store, fmt.Sprintf("evt-%d", i), true, false)
	}
	publisher := &fakePublisher{}
	now := testNow
	r := newTestRelay(store, publisher, Config{Consumer: "relay-1", PollInterval: time.Millisecond}, &now)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v, want context deadline", err)
	}
	if len(publisher.delivered) != 3 {
		t.Fatalf("published = %d messages, want 3", len(publisher.delivered))
	}
}
