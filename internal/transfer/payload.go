package transfer

import (
	"fmt"

	"fsgateway/internal/documents"
	"fsgateway/internal/fsapi"
)

// Payload is the provider-specific transfer request. Its JSON form is
// the snapshot persisted on the integration request, keyed by
// document_id for deduplication lookups.
type Payload struct {
	DocumentID        string `json:"document_id"`
	AccountNumberFrom string `json:"account_number_from"`
	AccountNumberTo   string `json:"account_number_to"`
	Amount            string `json:"amount"` // always positive; direction is in the accounts
	Description       string `json:"description"`
	Check             string `json:"check"`
	Token             string `json:"token"`
}

const (
	// Description composition constants. The provider parses this
	// string downstream, so the offsets are part of the wire contract:
	// the category contributes its first 5 characters, the document id
	// loses its 4-character naming-series prefix.
	// Example: PTDC/EXTRA.CON/PAY-2024-00857/7OHL1V6ATI
	descriptionPrefix = "PTDC"
	categoryKeep      = 5
	documentIDDrop    = 4

	checkConfirmed = "Yes"
)

// BuildPayload assembles the transfer payload for a document. The
// standard direction is customer account → house account; a negative
// document amount is a refund/return, which flips the direction and
// submits the absolute value.
func BuildPayload(doc *documents.Document, customerAccount, houseAccount, token string) Payload {
	from, to := customerAccount, houseAccount
	amount := doc.Amount
	if amount.IsNegative() {
		from, to = houseAccount, customerAccount
		amount = amount.Abs()
	}

	return Payload{
		DocumentID:        doc.ID,
		AccountNumberFrom: from,
		AccountNumberTo:   to,
		Amount:            amount.DecimalString(),
		Description:       buildDescription(doc.Category, doc.ID),
		Check:             checkConfirmed,
		Token:             token,
	}
}

func buildDescription(category, documentID string) string {
	if len(category) > categoryKeep {
		category = category[:categoryKeep]
	}
	if len(documentID) > documentIDDrop {
		documentID = documentID[documentIDDrop:]
	} else {
		documentID = ""
	}
	return fmt.Sprintf("%s/%s.CON/%s", descriptionPrefix, category, documentID)
}

// AppendTraceID extends the description with the integration-request id
// so the provider-side record can be traced back. Called exactly once,
// after the ledger entry exists and before submission; the persisted
// snapshot keeps the description without the suffix.
func (p *Payload) AppendTraceID(requestID string) {
	p.Description = fmt.Sprintf("%s/%s", p.Description, requestID)
}

// Request converts the payload to the wire request.
func (p Payload) Request() fsapi.AddTransferRequest {
	return fsapi.AddTransferRequest{
		AccountNumberFrom: p.AccountNumberFrom,
		AccountNumberTo:   p.AccountNumberTo,
		Amount:            p.Amount,
		Description:       p.Description,
		Check:             p.Check,
		Token:             p.Token,
	}
}
