// Package documents models the business documents (payment entries,
// sales invoices) the gateway executes transfers for. The gateway does
// not own document lifecycle; it reads candidates and writes back the
// transfer outcome fields.
package documents

import (
	"context"
	"time"

	"fsgateway/internal/common/money"
)

// Type identifies the kind of business document.
type Type string

const (
	TypePaymentEntry Type = "Payment Entry"
	TypeSalesInvoice Type = "Sales Invoice"
)

// DocStatus is the host framework's document lifecycle status.
type DocStatus string

const (
	DocStatusDraft     DocStatus = "Draft"
	DocStatusSubmitted DocStatus = "Submitted"
)

// Transfer status codes written back onto documents. Any other value is
// a provider failure code preserved verbatim.
const (
	TransferStatusPending           = ""
	TransferStatusOK                = "OK"
	TransferStatusInsufficientFunds = "Insufficient Funds"
)

// ModeOfPaymentFS is written onto a document once an FS transfer
// completes.
const ModeOfPaymentFS = "FS"

// Document is the gateway's view of a business document.
type Document struct {
	ID                string      `json:"id"`
	Type              Type        `json:"type"`
	Party             string      `json:"party"`
	Category          string      `json:"category"` // contribution type
	Amount            money.Money `json:"amount"`   // signed; negative is a refund/return
	DocStatus         DocStatus   `json:"docstatus"`
	TransferStatus    string      `json:"transfer_status"`
	Remarks           string      `json:"remarks,omitempty"`
	ModeOfPayment     string      `json:"mode_of_payment,omitempty"`
	PaidAmount        money.Money `json:"paid_amount"`
	OutstandingAmount money.Money `json:"outstanding_amount"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Store reads transfer candidates and persists outcome fields.
type Store interface {
	Get(ctx context.Context, id string) (*Document, error)

	// ListDraftPending returns draft documents whose transfer has not
	// been attempted yet.
	ListDraftPending(ctx context.Context, limit int) ([]*Document, error)

	// ListInsufficientFunds returns submitted documents parked with the
	// insufficient-funds marker, awaiting a retry pass.
	ListInsufficientFunds(ctx context.Context, limit int) ([]*Document, error)

	// CustomerAccount returns the party's external FS account number.
	CustomerAccount(ctx context.Context, party string) (string, error)

	// RecordOutcome writes the provider's result code and message.
	RecordOutcome(ctx context.Context, id, transferStatus, remarks string) error

	// MarkPaid records a completed transfer's payment fields.
	MarkPaid(ctx context.Context, id string, paid money.Money, modeOfPayment string) error

	// MarkInsufficientFunds parks the document for a later retry pass.
	MarkInsufficientFunds(ctx context.Context, id string, outstanding money.Money) error
}
