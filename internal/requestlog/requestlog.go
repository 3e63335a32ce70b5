// Package requestlog is the integration-request ledger: the persisted
// audit and deduplication record for each transfer attempt against a
// remote service.
package requestlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"fsgateway/internal/common/database"
)

// ServiceFS is the integration service name for the FS gateway.
const ServiceFS = "FS"

// Status is the lifecycle state of an integration request.
type Status string

const (
	StatusQueued    Status = "Queued"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Entry is one persisted integration request. Data holds the JSON
// snapshot of the transfer payload taken at creation time; it embeds
// the originating document id under "document_id".
type Entry struct {
	ID        string          `json:"id"`
	Service   string          `json:"service"`
	Status    Status          `json:"status"`
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DocumentID extracts the business-document id embedded in the entry's
// payload snapshot.
func (e *Entry) DocumentID() string {
	var partial struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(e.Data, &partial); err != nil {
		return ""
	}
	return partial.DocumentID
}

// Store persists integration requests.
type Store interface {
	Create(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)

	// ListQueued returns all Queued entries for a service in whatever
	// order the backing store yields them.
	ListQueued(ctx context.Context, service string) ([]*Entry, error)

	// SetStatus durably commits a status transition.
	SetStatus(ctx context.Context, id string, status Status, errorCode string) error
}

// Ledger deduplicates and reconciles integration requests.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
	}
}

// FindOrCreate returns the Queued entry for the given document, or
// creates one with the payload snapshot. The lookup scans all Queued
// entries for the service and parses each stored payload; the first
// match wins, in store order (ties between duplicate Queued entries are
// therefore non-deterministic, and the store's partial unique index
// keeps such duplicates from arising in the first place).
func (l *Ledger) FindOrCreate(ctx context.Context, service, documentID string, snapshot any) (*Entry, error) {
	entry, err := l.findQueued(ctx, service, documentID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		l.logger.Info("reusing queued integration request",
			"request_id", entry.ID,
			"document_id", documentID,
		)
		return entry, nil
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal payload snapshot: %w", err)
	}

	now := time.Now().UTC()
	entry = &Entry{
		ID:        ulid.Make().String(),
		Service:   service,
		Status:    StatusQueued,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := l.store.Create(ctx, entry); err != nil {
		// A concurrent run queued the same document first; fall back to
		// its entry.
		if database.IsUniqueViolation(err) {
			existing, findErr := l.findQueued(ctx, service, documentID)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("create integration request: %w", err)
	}

	l.logger.Info("integration request queued",
		"request_id", entry.ID,
		"service", service,
		"document_id", documentID,
	)

	return entry, nil
}

func (l *Ledger) findQueued(ctx context.Context, service, documentID string) (*Entry, error) {
	queued, err := l.store.ListQueued(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("list queued integration requests: %w", err)
	}
	for _, e := range queued {
		if e.DocumentID() == documentID {
			return e, nil
		}
	}
	return nil, nil
}

// Complete marks the entry Completed. Terminal.
func (l *Ledger) Complete(ctx context.Context, entry *Entry) error {
	if err := l.store.SetStatus(ctx, entry.ID, StatusCompleted, ""); err != nil {
		return fmt.Errorf("complete integration request %s: %w", entry.ID, err)
	}
	entry.Status = StatusCompleted
	return nil
}

// Fail marks the entry Failed, keeping the provider's code. Terminal.
func (l *Ledger) Fail(ctx context.Context, entry *Entry, errorCode string) error {
	if err := l.store.SetStatus(ctx, entry.ID, StatusFailed, errorCode); err != nil {
		return fmt.Errorf("fail integration request %s: %w", entry.ID, err)
	}
	entry.Status = StatusFailed
	entry.ErrorCode = errorCode
	return nil
}

// Get retrieves an entry by id.
func (l *Ledger) Get(ctx context.Context, id string) (*Entry, error) {
	return l.store.Get(ctx, id)
}
