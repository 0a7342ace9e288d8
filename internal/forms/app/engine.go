// Package app hosts the forms workflow engine: the transactional operations
// that move forms, versions, and submissions through their lifecycles and
// stage the resulting events for broker delivery.
package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formworks/formworks/internal/forms/storage"
)

// FileStore is the narrow collaborator that owns uploaded file bytes. The
// engine only ever links an already-uploaded file to its owning submission;
// byte storage stays outside this module.
type FileStore interface {
	// LinkSubmission patches the file's ownership to the submission. An
	// unknown file id fails with storage.ErrNotFound.
	LinkSubmission(ctx context.Context, fileID, submissionID string) error
	// UnlinkSubmission releases the file back to unowned state. Used to
	// compensate when the submission insert fails after linking.
	UnlinkSubmission(ctx context.Context, fileID string) error
}

// Engine executes the forms workflow operations against a Store.
type Engine struct {
	store  storage.Store
	files  FileStore
	logger *zap.Logger
	clock  func() time.Time
	newID  func() string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithFileStore wires the uploaded-file collaborator. Without it, submissions
// that reference files are rejected.
func WithFileStore(files FileStore) Option {
	return func(e *Engine) { e.files = files }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDGenerator overrides the id source.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// NewEngine builds an Engine over the given store.
func NewEngine(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: zap.NewNop(),
		clock:  func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}
