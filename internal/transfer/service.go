// Package transfer orchestrates FS money transfers for business
// documents: session login, token acquisition, payload assembly,
// integration-request deduplication, submission and reconciliation.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fsgateway/internal/common/events"
	"fsgateway/internal/common/money"
	"fsgateway/internal/documents"
	"fsgateway/internal/fsapi"
	"fsgateway/internal/requestlog"
	"fsgateway/internal/settings"
)

// ErrInsufficientFunds marks a pre-check failure: the source account's
// transfer ceiling is below the requested amount. The document is
// parked for a later retry pass; no remote submit happens.
var ErrInsufficientFunds = errors.New("insufficient funds for transfer")

// RejectedError is a business rejection from addTransfer. The provider
// code and message are preserved verbatim.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("fs transfer rejected: %s", e.Code)
}

// RemoteClient is the slice of the FS session client the orchestrator
// uses. Implemented by *fsapi.Client.
type RemoteClient interface {
	Login(ctx context.Context) (*fsapi.LoginResult, error)
	Logout(ctx context.Context) error
	RequestTransferToken(ctx context.Context) (string, error)
	AddTransfer(ctx context.Context, req fsapi.AddTransferRequest) (*fsapi.TransferResult, error)
	GetAccountMaxAmount(ctx context.Context, accountNumber string) (money.Money, error)
}

// SettingsReader reads the gateway settings entity.
type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Publisher publishes outcome events. Optional.
type Publisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Config holds orchestration configuration.
type Config struct {
	BatchLimit int `envconfig:"TRANSFER_BATCH_LIMIT" default:"100"`
}

// Service runs the per-document transfer protocol and the batch flows.
type Service struct {
	config    Config
	client    RemoteClient
	ledger    *requestlog.Ledger
	docs      documents.Store
	settings  SettingsReader
	publisher Publisher
	logger    *slog.Logger
}

// NewService creates a transfer service.
func NewService(cfg Config, client RemoteClient, ledger *requestlog.Ledger, docs documents.Store, settingsReader SettingsReader, logger *slog.Logger) *Service {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	return &Service{
		config:   cfg,
		client:   client,
		ledger:   ledger,
		docs:     docs,
		settings: settingsReader,
		logger:   logger,
	}
}

// SetPublisher sets the outcome event publisher.
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

// ExecuteByID runs the transfer protocol for a document id.
func (s *Service) ExecuteByID(ctx context.Context, documentID string) error {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return err
	}
	return s.Execute(ctx, doc)
}

// Execute runs the full protocol for one document: fresh login, token
// request and decrypt, payload build, ledger find-or-create, limit
// pre-check, submission, ledger finalize and document write-back.
// Business rejections surface as *RejectedError after the ledger and
// document are updated; a failed limit pre-check surfaces as
// ErrInsufficientFunds.
func (s *Service) Execute(ctx context.Context, doc *documents.Document) error {
	st, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}

	if err := settings.ValidateCurrency(doc.Amount.Currency); err != nil {
		return err
	}

	// Always a fresh login immediately before each transfer; the
	// provider's session model is opaque and sessions are never reused.
	if _, err := s.client.Login(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.client.Logout(ctx); err != nil {
			s.logger.Debug("fs logout failed", "error", err)
		}
	}()

	envelope, err := s.client.RequestTransferToken(ctx)
	if err != nil {
		return err
	}

	token, err := fsapi.NewTokenDecoder(st.TokenFormat).Decode(envelope)
	if err != nil {
		return err
	}

	customerAccount, err := s.docs.CustomerAccount(ctx, doc.Party)
	if err != nil {
		return err
	}

	payload := BuildPayload(doc, customerAccount, st.HouseAccount, token)

	entry, err := s.ledger.FindOrCreate(ctx, requestlog.ServiceFS, doc.ID, payload)
	if err != nil {
		return err
	}
	payload.AppendTraceID(entry.ID)

	requested := doc.Amount.Abs()

	// Account-limit pre-check: skip the remote submit entirely when the
	// source account cannot cover the amount. The ledger entry stays
	// Queued so the retry pass reuses it.
	limit, err := s.client.GetAccountMaxAmount(ctx, payload.AccountNumberFrom)
	if err != nil {
		return err
	}
	if requested.GreaterThan(limit) {
		if err := s.docs.MarkInsufficientFunds(ctx, doc.ID, requested); err != nil {
			return err
		}
		s.logger.Warn("transfer skipped, amount exceeds account limit",
			"document_id", doc.ID,
			"requested", requested.DecimalString(),
			"limit", limit.DecimalString(),
		)
		s.publish(ctx, events.TypeTransferSkipped, &OutcomeEvent{
			DocumentID: doc.ID,
			RequestID:  entry.ID,
			Status:     documents.TransferStatusInsufficientFunds,
			Amount:     requested,
		})
		return ErrInsufficientFunds
	}

	result, err := s.client.AddTransfer(ctx, payload.Request())
	if err != nil {
		// Transport failure: the ledger entry stays Queued, but leave
		// the error visible on the document for operators.
		if recErr := s.docs.RecordOutcome(ctx, doc.ID, doc.TransferStatus, err.Error()); recErr != nil {
			s.logger.Error("failed to record transport error on document",
				"document_id", doc.ID,
				"error", recErr,
			)
		}
		return err
	}

	// Finalize the ledger before touching the document: the one-time
	// token is consumed, so the Queued window must close first. A crash
	// between the remote call and this commit strands a consumed token;
	// the remote protocol offers nothing to make it atomic.
	if result.OK() {
		if err := s.ledger.Complete(ctx, entry); err != nil {
			return err
		}
		if err := s.docs.RecordOutcome(ctx, doc.ID, documents.TransferStatusOK, result.Message); err != nil {
			return err
		}
		if err := s.docs.MarkPaid(ctx, doc.ID, requested, documents.ModeOfPaymentFS); err != nil {
			return err
		}

		s.logger.Info("transfer completed",
			"document_id", doc.ID,
			"request_id", entry.ID,
			"amount", requested.DecimalString(),
		)
		s.publish(ctx, events.TypeTransferCompleted, &OutcomeEvent{
			DocumentID: doc.ID,
			RequestID:  entry.ID,
			Status:     documents.TransferStatusOK,
			Message:    result.Message,
			Amount:     requested,
		})
		return nil
	}

	if err := s.ledger.Fail(ctx, entry, result.Result); err != nil {
		return err
	}
	if err := s.docs.RecordOutcome(ctx, doc.ID, result.Result, result.Message); err != nil {
		return err
	}

	s.logger.Warn("transfer rejected",
		"document_id", doc.ID,
		"request_id", entry.ID,
		"result", result.Result,
		"message", result.Message,
	)
	s.publish(ctx, events.TypeTransferFailed, &OutcomeEvent{
		DocumentID: doc.ID,
		RequestID:  entry.ID,
		Status:     result.Result,
		Message:    result.Message,
		Amount:     requested,
	})

	return &RejectedError{Code: result.Result, Message: result.Message}
}

// OutcomeEvent is published after each transfer attempt resolves.
type OutcomeEvent struct {
	DocumentID string      `json:"document_id"`
	RequestID  string      `json:"request_id"`
	Status     string      `json:"status"`
	Message    string      `json:"message,omitempty"`
	Amount     money.Money `json:"amount"`
}

func (s *Service) publish(ctx context.Context, eventType events.Type, data any) {
	if s.publisher == nil {
		return
	}
	event, err := events.New(eventType, "", data)
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event",
			"type", eventType,
			"error", err,
		)
	}
}
